// Package config loads the two configuration layers: the vlab.conf
// user/board document that describes who may use which hardware, and the
// small per-daemon YAML service files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/RTSYork/VLAB/pkg/util"
)

// User is one entry in the document's "users" section.
type User struct {
	Overlord      bool     `json:"overlord"`
	AllowedBoards []string `json:"allowedboards"`
}

// Board is one entry in the document's "boards" section, keyed by serial.
type Board struct {
	Class string    `json:"class"`
	Type  string    `json:"type"`
	Reset ResetFlag `json:"reset"`
}

// Document is a parsed vlab.conf: the authoritative description of users
// and known boards. The store is reconciled against it by Sync.
type Document struct {
	Users  map[string]User  `json:"users"`
	Boards map[string]Board `json:"boards"`
}

// ResetFlag accepts the documented "true" string form as well as a bare
// JSON boolean. Hand-edited documents use both.
type ResetFlag bool

func (r *ResetFlag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = ResetFlag(s == "true")
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("reset must be \"true\" or a boolean")
	}
	*r = ResetFlag(b)
	return nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse strips comment lines, decodes the JSON document and validates it.
func Parse(data []byte) (*Document, error) {
	stripped := stripComments(data)

	var doc Document
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("parsing config document: %w", err)
	}
	if err := validate(stripped); err != nil {
		return nil, err
	}
	return &doc, nil
}

// stripComments removes lines whose first non-whitespace character is '#'.
// Blank lines are dropped as well, so JSON parse errors report line numbers
// relative to the stripped text.
func stripComments(data []byte) []byte {
	var out bytes.Buffer
	for _, line := range strings.Split(string(data), "\n") {
		ls := strings.TrimSpace(line)
		if len(ls) > 0 && ls[0] != '#' {
			out.WriteString(ls)
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}

// validate enforces the document schema: both sections present, only
// overlord/allowedboards permitted on users, class and type required on
// boards.
func validate(stripped []byte) error {
	var raw struct {
		Users  map[string]map[string]json.RawMessage `json:"users"`
		Boards map[string]map[string]json.RawMessage `json:"boards"`
	}
	if err := json.Unmarshal(stripped, &raw); err != nil {
		return fmt.Errorf("parsing config document: %w", err)
	}

	v := &util.ValidationBuilder{}
	if raw.Users == nil {
		v.AddError("configuration does not contain a valid 'users' section")
	}
	if raw.Boards == nil {
		v.AddError("configuration does not contain a valid 'boards' section")
	}

	for _, name := range sortedKeys(raw.Users) {
		for _, prop := range sortedKeys(raw.Users[name]) {
			if prop != "overlord" && prop != "allowedboards" {
				v.AddErrorf("user %s has unknown property %s", name, prop)
			}
		}
	}
	for _, serial := range sortedKeys(raw.Boards) {
		props := raw.Boards[serial]
		for _, required := range []string{"class", "type"} {
			if _, ok := props[required]; !ok {
				v.AddErrorf("board %s does not have property %s", serial, required)
			}
		}
	}
	return v.Build()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
