package types

import (
	"testing"
)

func TestNewPassID(t *testing.T) {
	id := NewPassID()
	if id == "" {
		t.Error("expected non-empty PassID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewPassID() == id {
		t.Error("expected distinct pass ids")
	}
}

func TestIDTail(t *testing.T) {
	cases := map[string]string{
		"4915112345678@s.whatsapp.net":    "4915112345678",
		"4915112345678:12@s.whatsapp.net": "4915112345678",
		"plain":                           "plain",
		"  spaced@host ":                  "spaced",
		"":                                "",
	}
	for in, want := range cases {
		if got := IDTail(in); got != want {
			t.Errorf("IDTail(%q) = %q, want %q", in, got, want)
		}
	}
}
