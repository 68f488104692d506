package client

import (
	"encoding/json"
	"os"
	"os/user"
	"path/filepath"
)

// Settings holds persistent launcher defaults so users do not retype
// the same flags every session. Missing fields fall back to the flag
// defaults.
type Settings struct {
	// Relay is the relay hostname to use when -r is not specified
	Relay string `json:"relay,omitempty"`

	// Port is the relay SSH port
	Port int `json:"port,omitempty"`

	// User is the VLAB username
	User string `json:"user,omitempty"`

	// Board is the default board class
	Board string `json:"board,omitempty"`

	// Key is the path to the VLAB keyfile
	Key string `json:"key,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vlab_settings.json"
	}
	return filepath.Join(home, ".vlab", "settings.json")
}

// LoadSettings reads settings from the default location
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(DefaultSettingsPath())
}

// LoadSettingsFrom reads settings from a specific path
func LoadSettingsFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// The *Default accessors feed flag registration: the saved value wins,
// otherwise the shipped default.

// RelayDefault returns the relay host to offer as the flag default.
func (s *Settings) RelayDefault() string {
	if s.Relay != "" {
		return s.Relay
	}
	return DefaultRelay
}

// PortDefault returns the relay SSH port to offer as the flag default.
func (s *Settings) PortDefault() int {
	if s.Port != 0 {
		return s.Port
	}
	return DefaultPort
}

// UserDefault returns the saved username, falling back to the name of
// the system user running the client.
func (s *Settings) UserDefault() string {
	if s.User != "" {
		return s.User
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// BoardDefault returns the board class to offer as the flag default.
func (s *Settings) BoardDefault() string {
	if s.Board != "" {
		return s.Board
	}
	return DefaultBoard
}

// KeyDefault returns the saved keyfile path, or empty when the user
// must supply one.
func (s *Settings) KeyDefault() string {
	return s.Key
}
