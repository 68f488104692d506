package cli

import (
	"strings"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 42 * time.Second, "42s"},
		{"minutes", 9*time.Minute + 30*time.Second, "9m30s"},
		{"hours", 2*time.Hour + 5*time.Minute, "2h5m0s"},
		{"fraction dropped", 3*time.Second + 600*time.Millisecond, "3s"},
		{"negative clamped", -5 * time.Second, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.input); got != tt.expected {
				t.Errorf("Duration(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		n        int64
		noun     string
		expected string
	}{
		{0, "board", "0 boards"},
		{1, "board", "1 board"},
		{3, "board", "3 boards"},
		{1, "user", "1 user"},
	}

	for _, tt := range tests {
		if got := Count(tt.n, tt.noun); got != tt.expected {
			t.Errorf("Count(%d, %q) = %q, want %q", tt.n, tt.noun, got, tt.expected)
		}
	}
}

func TestColorFunctions(t *testing.T) {
	old := colorEnabled
	colorEnabled = true
	defer func() { colorEnabled = old }()

	tests := []struct {
		name   string
		fn     func(string) string
		prefix string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
		{"Bold", Bold, "\033[1m"},
		{"Dim", Dim, "\033[2m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("hello")
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("%s should start with %q", tt.name, tt.prefix)
			}
			if !strings.Contains(got, "hello") {
				t.Errorf("%s should contain the input string", tt.name)
			}
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s should end with reset code", tt.name)
			}
		})
	}
}

func TestColorDisabled(t *testing.T) {
	old := colorEnabled
	colorEnabled = false
	defer func() { colorEnabled = old }()

	for _, fn := range []func(string) string{Green, Yellow, Red, Bold, Dim} {
		if got := fn("plain"); got != "plain" {
			t.Errorf("color function should pass through when disabled: got %q", got)
		}
	}
}
