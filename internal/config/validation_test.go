package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsWarnsAboutRepo(t *testing.T) {
	results := Default().Validate()
	if HasErrors(results) {
		t.Fatalf("expected no errors, got %+v", results)
	}
	if len(results) != 1 || !strings.Contains(results[0].Message, "repo.url") {
		t.Fatalf("expected a repo.url warning, got %+v", results)
	}
}

func TestValidateFindsProblems(t *testing.T) {
	cfg := Default()
	cfg.Repo.URL = "not a url"
	cfg.Install.Dir = "relative/venv"
	cfg.Network.Timeout = "soon"
	cfg.Logging.Level = "loud"
	cfg.Install.ModeBits = "999"

	results := cfg.Validate()
	want := []string{"install.dir", "repo.url", "network.timeout", "logging.level", "extra_mode_bits"}
	for _, w := range want {
		found := false
		for _, r := range results {
			if r.Level == "error" && strings.Contains(r.Message, w) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected an error mentioning %s, got %+v", w, results)
		}
	}
}

func TestParseModeBits(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"000", 0, false},
		{"", 0, false},
		{"022", 0o22, false},
		{"2750", 0o2750, false},
		{"8", 0, true},
		{"17777", 0, true},
		{"rwx", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseModeBits(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseModeBits(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseModeBits(%q) = %o, want %o", tt.in, got, tt.want)
		}
	}
}
