package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"packager/pkg/version"
)

// ValidationResult captures a single validation finding.
type ValidationResult struct {
	Level   string `json:"level"` // "error" or "warning"
	Message string `json:"message"`
}

// Validate runs all checks against the config and returns structured
// results. An empty slice means the config is usable.
func (c Config) Validate() []ValidationResult {
	var results []ValidationResult
	results = append(results, c.validateDirs()...)
	results = append(results, c.validateRepo()...)
	results = append(results, c.validateDurations()...)
	results = append(results, c.validateLogging()...)
	results = append(results, c.validateExtraction()...)
	return results
}

// HasErrors reports whether any result is at error level.
func HasErrors(results []ValidationResult) bool {
	for _, r := range results {
		if r.Level == "error" {
			return true
		}
	}
	return false
}

func (c Config) validateDirs() []ValidationResult {
	var results []ValidationResult
	dirs := []struct{ key, value string }{
		{"install.dir", c.Install.Dir},
		{"install.cache", c.Install.Cache},
		{"components.dir", c.Components.Dir},
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d.value) {
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("%s must be an absolute path, got %q", d.key, d.value),
			})
		}
	}
	if c.Logging.Dir != "" && !filepath.IsAbs(c.Logging.Dir) {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("logging.dir must be an absolute path, got %q", c.Logging.Dir),
		})
	}
	if filepath.Clean(c.Install.Dir) == filepath.Clean(c.Components.Dir) {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: "install.dir and components.dir must differ",
		})
	}
	return results
}

func (c Config) validateRepo() []ValidationResult {
	raw := strings.TrimSpace(c.Repo.URL)
	if raw == "" {
		return []ValidationResult{{
			Level:   "warning",
			Message: "repo.url is not set; cache update and downloads will fail",
		}}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []ValidationResult{{
			Level:   "error",
			Message: fmt.Sprintf("repo.url %q is not an absolute URL", raw),
		}}
	}
	return nil
}

func (c Config) validateDurations() []ValidationResult {
	var results []ValidationResult
	for _, d := range []struct{ key, value string }{
		{"network.timeout", c.Network.Timeout},
		{"network.download_timeout", c.Network.DownloadTimeout},
	} {
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil || parsed <= 0 {
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("%s: %q is not a positive duration", d.key, d.value),
			})
		}
	}
	return results
}

func (c Config) validateLogging() []ValidationResult {
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return []ValidationResult{{
			Level:   "error",
			Message: fmt.Sprintf("logging.level: unknown level %q", c.Logging.Level),
		}}
	}
	return nil
}

func (c Config) validateExtraction() []ValidationResult {
	var results []ValidationResult
	if _, err := ParseModeBits(c.Install.ModeBits); err != nil {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("install.extra_mode_bits: %v", err),
		})
	}
	if _, err := version.Parse(c.Versions.DefaultMajor + ":x"); err != nil {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("versions.default_major: %v", err),
		})
	}
	if _, err := c.GuessTable(); err != nil {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: fmt.Sprintf("versions.file: %v", err),
		})
	}
	return results
}

// ParseModeBits parses an octal permission string such as "000" or
// "2750". Only the permission, setuid, setgid and sticky bits are allowed.
func ParseModeBits(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mode bits %q are not octal", s)
	}
	if n > 0o7777 {
		return 0, fmt.Errorf("mode bits %q out of range", s)
	}
	return uint32(n), nil
}
