package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RTSYork/VLAB/pkg/util"
)

// StoreConfig locates the shared control store.
type StoreConfig struct {
	Addr string `yaml:"addr"`
}

// RelayConfig configures the relay shell (vlabsh).
type RelayConfig struct {
	Store       StoreConfig   `yaml:"store"`
	AccessLog   string        `yaml:"access_log"`
	KeyFile     string        `yaml:"key_file"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	LogLevel    string        `yaml:"log_level"`
}

// BoardHostConfig configures the host agent (vlabhost).
type BoardHostConfig struct {
	Store StoreConfig `yaml:"store"`
	Image string      `yaml:"image"`
	// DeviceDir is where the OS device event handler places per-serial
	// jtag/tty symlinks.
	DeviceDir string `yaml:"device_dir"`
	// ToolsDir is mounted into each container at /opt/xsct.
	ToolsDir string `yaml:"tools_dir"`
	// Hostname overrides os.Hostname in registrations (useful when the
	// store-facing name differs from the kernel one).
	Hostname string `yaml:"hostname"`
	LogLevel string `yaml:"log_level"`
}

// CheckConfig configures the janitor daemon (vlabcheck).
type CheckConfig struct {
	Store         StoreConfig   `yaml:"store"`
	Document      string        `yaml:"document"`
	KeyFile       string        `yaml:"key_file"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	ReloadPoll    time.Duration `yaml:"reload_poll"`
	HwTestPeriod  time.Duration `yaml:"hwtest_period"`
	// Probe gates the TCP reachability check that deregisters boards
	// whose containers stopped answering.
	Probe    bool   `yaml:"probe"`
	LogLevel string `yaml:"log_level"`
}

// WebConfig configures the observability API (vlabweb).
type WebConfig struct {
	Store     StoreConfig `yaml:"store"`
	Listen    string      `yaml:"listen"`
	AccessLog string      `yaml:"access_log"`
	LogLevel  string      `yaml:"log_level"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Store:       StoreConfig{Addr: "localhost:6379"},
		AccessLog:   "/vlab/log/access.log",
		KeyFile:     "/vlab/keys/id_rsa",
		SettleDelay: 2 * time.Second,
		LogLevel:    "info",
	}
}

func DefaultBoardHostConfig() BoardHostConfig {
	return BoardHostConfig{
		Store:     StoreConfig{Addr: "localhost:6379"},
		Image:     "vlab/boardserver",
		DeviceDir: "/dev/vlab",
		ToolsDir:  "/opt/VLAB/xsct",
		LogLevel:  "info",
	}
}

func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		Store:         StoreConfig{Addr: "localhost:6379"},
		Document:      "/vlab/vlab.conf",
		KeyFile:       "/vlab/keys/id_rsa",
		SweepInterval: time.Minute,
		ReloadPoll:    5 * time.Second,
		HwTestPeriod:  4 * time.Hour,
		Probe:         true,
		LogLevel:      "info",
	}
}

func DefaultWebConfig() WebConfig {
	return WebConfig{
		Store:     StoreConfig{Addr: "localhost:6379"},
		Listen:    "127.0.0.1:9001",
		AccessLog: "/vlab/log/access.log",
		LogLevel:  "info",
	}
}

// LoadRelayConfig reads a relay.yaml over the defaults. A missing file is
// not an error: every field has a default.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	err := loadYAML(path, &cfg)
	return cfg, err
}

func LoadBoardHostConfig(path string) (BoardHostConfig, error) {
	cfg := DefaultBoardHostConfig()
	err := loadYAML(path, &cfg)
	return cfg, err
}

func LoadCheckConfig(path string) (CheckConfig, error) {
	cfg := DefaultCheckConfig()
	err := loadYAML(path, &cfg)
	return cfg, err
}

func LoadWebConfig(path string) (WebConfig, error) {
	cfg := DefaultWebConfig()
	err := loadYAML(path, &cfg)
	return cfg, err
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		util.Infof("Config file %s not found, using defaults.", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading service config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
