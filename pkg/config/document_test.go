package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/RTSYork/VLAB/pkg/util"
)

const sampleConf = `
# VLAB configuration
# Staff are overlords; students get a class each.
{
	"users": {
		"ian": {"overlord": true},
		# students
		"alice": {"allowedboards": ["vlab_zybo"]}
	},
	"boards": {
		"B1": {"class": "vlab_zybo", "type": "zybo", "reset": "true"},
		"B2": {"class": "vlab_nexys", "type": "nexys4"}
	}
}
`

func TestParseDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleConf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(doc.Users) != 2 || len(doc.Boards) != 2 {
		t.Fatalf("unexpected sizes: %d users, %d boards", len(doc.Users), len(doc.Boards))
	}
	if !doc.Users["ian"].Overlord {
		t.Error("ian should be overlord")
	}
	if doc.Users["alice"].Overlord {
		t.Error("alice should not be overlord")
	}
	if got := doc.Users["alice"].AllowedBoards; len(got) != 1 || got[0] != "vlab_zybo" {
		t.Errorf("alice allowedboards = %v", got)
	}
	if doc.Boards["B1"].Class != "vlab_zybo" || doc.Boards["B1"].Type != "zybo" {
		t.Errorf("B1 = %+v", doc.Boards["B1"])
	}
	if !bool(doc.Boards["B1"].Reset) {
		t.Error("B1 reset should be set")
	}
	if bool(doc.Boards["B2"].Reset) {
		t.Error("B2 reset should default to unset")
	}
}

func TestParseRejects(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		if _, err := Parse([]byte("{ not json")); err == nil {
			t.Fatal("expected a parse error")
		}
	})

	t.Run("missing sections", func(t *testing.T) {
		_, err := Parse([]byte(`{}`))
		if err == nil {
			t.Fatal("expected a validation error")
		}
		if !errors.Is(err, util.ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
		if !strings.Contains(err.Error(), "'users' section") ||
			!strings.Contains(err.Error(), "'boards' section") {
			t.Errorf("both sections should be reported: %v", err)
		}
	})

	t.Run("unknown user property", func(t *testing.T) {
		_, err := Parse([]byte(`{"users": {"bob": {"shoesize": "12"}}, "boards": {}}`))
		if err == nil {
			t.Fatal("expected a validation error")
		}
		if !strings.Contains(err.Error(), "user bob has unknown property shoesize") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("board missing required property", func(t *testing.T) {
		_, err := Parse([]byte(`{"users": {}, "boards": {"B9": {"class": "vlab_zybo"}}}`))
		if err == nil {
			t.Fatal("expected a validation error")
		}
		if !strings.Contains(err.Error(), "board B9 does not have property type") {
			t.Errorf("unexpected message: %v", err)
		}
	})
}

func TestResetFlagForms(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
		err  bool
	}{
		{"string true", `{"users": {}, "boards": {"B": {"class": "c", "type": "t", "reset": "true"}}}`, true, false},
		{"string false", `{"users": {}, "boards": {"B": {"class": "c", "type": "t", "reset": "false"}}}`, false, false},
		{"bare bool", `{"users": {}, "boards": {"B": {"class": "c", "type": "t", "reset": true}}}`, true, false},
		{"number rejected", `{"users": {}, "boards": {"B": {"class": "c", "type": "t", "reset": 1}}}`, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.in))
			if tc.err {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if bool(doc.Boards["B"].Reset) != tc.want {
				t.Errorf("reset = %v, want %v", doc.Boards["B"].Reset, tc.want)
			}
		})
	}
}

func TestStripComments(t *testing.T) {
	in := "  # leading comment\n{\n# inner\n  \"users\": {},\n\n  \"boards\": {}\n}\n"
	got := string(stripComments([]byte(in)))
	want := "{\n\"users\": {},\n\"boards\": {}\n}\n"
	if got != want {
		t.Errorf("stripComments = %q, want %q", got, want)
	}
}
