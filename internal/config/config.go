package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"packager/pkg/version"
)

const (
	// DefaultPath is read when neither --config nor PACKAGER_CONFIG is set.
	DefaultPath = "/etc/packager.yaml"
	// EnvPath names the environment variable overriding DefaultPath.
	EnvPath = "PACKAGER_CONFIG"
)

// Config captures the host-level packager configuration.
type Config struct {
	Repo       RepoConfig       `yaml:"repo"`
	Install    InstallConfig    `yaml:"install"`
	Components ComponentsConfig `yaml:"components"`
	Versions   VersionsConfig   `yaml:"versions"`
	Network    NetworkConfig    `yaml:"network"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RepoConfig locates the remote package repository.
type RepoConfig struct {
	URL string `yaml:"url"`
}

// InstallConfig controls where packages are cached and expanded.
type InstallConfig struct {
	Dir   string `yaml:"dir"`
	Cache string `yaml:"cache"`
	// Group and ModeBits are the extraction defaults used when a request
	// leaves them unset.
	Group    string `yaml:"group"`
	ModeBits string `yaml:"extra_mode_bits"`
}

// ComponentsConfig locates the service store.
type ComponentsConfig struct {
	Dir string `yaml:"dir"`
}

// VersionsConfig controls legacy suffix resolution.
type VersionsConfig struct {
	File         string `yaml:"file"`
	DefaultMajor string `yaml:"default_major"`
}

// NetworkConfig bounds index fetches and archive downloads.
type NetworkConfig struct {
	Timeout         string `yaml:"timeout"`
	DownloadTimeout string `yaml:"download_timeout"`
	UserAgent       string `yaml:"user_agent"`
}

// LoggingConfig selects the log level and optional log file directory.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// MetricsConfig selects the node-exporter textfile to write, if any.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Install: InstallConfig{
			Dir:      "/opt/stack/venv",
			Cache:    "/var/cache/packager",
			Group:    "root",
			ModeBits: "000",
		},
		Components: ComponentsConfig{
			Dir: "/opt/stack/service",
		},
		Versions: VersionsConfig{
			DefaultMajor: version.DefaultMajor,
		},
		Network: NetworkConfig{
			Timeout:         "60s",
			DownloadTimeout: "10m",
			UserAgent:       "packager/1.0",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ResolvePath picks the config file: the flag value, then $PACKAGER_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults ensures nested fields fall back to sensible defaults when the
// YAML omits them or sets them empty.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Install.Dir == "" {
		c.Install.Dir = defaults.Install.Dir
	}
	if c.Install.Cache == "" {
		c.Install.Cache = defaults.Install.Cache
	}
	if c.Install.Group == "" {
		c.Install.Group = defaults.Install.Group
	}
	if c.Install.ModeBits == "" {
		c.Install.ModeBits = defaults.Install.ModeBits
	}
	if c.Components.Dir == "" {
		c.Components.Dir = defaults.Components.Dir
	}
	if c.Versions.DefaultMajor == "" {
		c.Versions.DefaultMajor = defaults.Versions.DefaultMajor
	}
	if c.Network.Timeout == "" {
		c.Network.Timeout = defaults.Network.Timeout
	}
	if c.Network.DownloadTimeout == "" {
		c.Network.DownloadTimeout = defaults.Network.DownloadTimeout
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = defaults.Network.UserAgent
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// RepoURL returns the repository base URL, always ending in "/".
func (c Config) RepoURL() string {
	url := strings.TrimSpace(c.Repo.URL)
	if url == "" || strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}

// Timeout is the bound on index fetches.
func (c Config) Timeout() time.Duration {
	return parseDuration(c.Network.Timeout, time.Minute)
}

// DownloadTimeout is the bound on a single archive download.
func (c Config) DownloadTimeout() time.Duration {
	return parseDuration(c.Network.DownloadTimeout, 10*time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GuessTable loads the configured suffix guess table, or the embedded one.
func (c Config) GuessTable() (version.GuessTable, error) {
	if f := strings.TrimSpace(c.Versions.File); f != "" {
		return version.LoadGuessTable(f, c.Versions.DefaultMajor)
	}
	return version.DefaultGuessTable().WithMajor(c.Versions.DefaultMajor), nil
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}
