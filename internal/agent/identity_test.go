package agent

import (
	"testing"

	"github.com/netmon/nettask/internal/nettask"
)

func TestDeriveAgentID(t *testing.T) {
	cases := []struct {
		hostname string
		want     string
		wantErr  bool
	}{
		{"agent01", "AGE", false},
		{"a01", "A01", false},
		{"ab", "", true},
		{"", "", true},
	}

	for _, c := range cases {
		id, err := DeriveAgentID(c.hostname)
		if c.wantErr {
			if err == nil {
				t.Errorf("DeriveAgentID(%q) = nil error, want error", c.hostname)
			}
			continue
		}
		if err != nil {
			t.Errorf("DeriveAgentID(%q): %v", c.hostname, err)
			continue
		}
		if id.String() != c.want {
			t.Errorf("DeriveAgentID(%q) = %q, want %q", c.hostname, id, c.want)
		}
	}
}

func TestDeriveAgentIDMatchesParseAgentID(t *testing.T) {
	id, err := DeriveAgentID("A01server")
	if err != nil {
		t.Fatalf("DeriveAgentID: %v", err)
	}
	want, _ := nettask.ParseAgentID("A01")
	if id != want {
		t.Errorf("got %s, want %s", id, want)
	}
}
