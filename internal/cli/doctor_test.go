package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"packager/internal/config"
)

func TestJoinComma(t *testing.T) {
	tests := []struct {
		input []string
		want  string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a, b"},
		{[]string{"a", "b", "c"}, "a, b, c"},
	}

	for _, tt := range tests {
		got := joinComma(tt.input)
		if got != tt.want {
			t.Errorf("joinComma(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCheckConfig(t *testing.T) {
	if got := checkConfig("/etc/packager.yaml", config.Config{}, fmt.Errorf("unmarshal config: bad")); got.Status != "error" || got.Name != "Config" {
		t.Errorf("load error: %+v", got)
	}

	cfg := config.Default()
	if got := checkConfig("p", cfg, nil); got.Status != "warning" {
		t.Errorf("missing repo.url should warn, got %+v", got)
	}

	cfg.Repo.URL = "http://repo.example/packages/"
	if got := checkConfig("p", cfg, nil); got.Status != "ok" || got.Summary != "p" {
		t.Errorf("valid config: %+v", got)
	}

	cfg.Install.Dir = "relative/venv"
	if got := checkConfig("p", cfg, nil); got.Status != "error" {
		t.Errorf("relative dir should fail, got %+v", got)
	}
}

func TestCheckStore(t *testing.T) {
	dir := t.TempDir()
	if got := checkStore("Packages", dir); got.Status != "ok" {
		t.Errorf("existing dir: %+v", got)
	}
	if got := checkStore("Packages", filepath.Join(dir, "missing")); got.Status != "warning" {
		t.Errorf("missing dir: %+v", got)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := checkStore("Packages", file); got.Status != "warning" {
		t.Errorf("file in place of dir: %+v", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("write probe left files behind: %v", entries)
	}
}
