package version

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMajor prefixes bare suffix tokens that are not in the table.
const DefaultMajor = "2.0.0"

//go:embed versions.yml
var defaultGuessYAML []byte

// GuessTable maps legacy suffix tokens onto colon-qualified version
// strings. It is immutable once built.
type GuessTable struct {
	entries map[string]string
	major   string
}

// NewGuessTable copies entries into a new table. An empty major selects
// DefaultMajor.
func NewGuessTable(entries map[string]string, major string) GuessTable {
	if major == "" {
		major = DefaultMajor
	}
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return GuessTable{entries: m, major: major}
}

// DefaultGuessTable returns the table shipped with the binary.
func DefaultGuessTable() GuessTable {
	t, err := parseGuessTable(defaultGuessYAML, "")
	if err != nil {
		panic(fmt.Sprintf("embedded versions.yml: %v", err))
	}
	return t
}

// LoadGuessTable reads a YAML mapping of token to version string.
func LoadGuessTable(path, major string) (GuessTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GuessTable{}, fmt.Errorf("read guess table: %w", err)
	}
	t, err := parseGuessTable(data, major)
	if err != nil {
		return GuessTable{}, fmt.Errorf("parse guess table %s: %w", path, err)
	}
	return t, nil
}

func parseGuessTable(data []byte, major string) (GuessTable, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return GuessTable{}, err
	}
	for token, v := range raw {
		if _, err := Parse(v); err != nil {
			return GuessTable{}, fmt.Errorf("entry %q: %w", token, err)
		}
	}
	return NewGuessTable(raw, major), nil
}

// WithMajor returns a copy of t using major as the default prefix.
func (t GuessTable) WithMajor(major string) GuessTable {
	return NewGuessTable(t.entries, major)
}

// Len reports the number of explicit entries.
func (t GuessTable) Len() int { return len(t.entries) }

// Guess maps token onto a version string. Known tokens map through the
// table, tokens already containing a colon pass through, anything else
// gets the default major prepended.
func (t GuessTable) Guess(token string) string {
	if v, ok := t.entries[token]; ok {
		return v
	}
	if strings.Contains(token, ":") {
		return token
	}
	major := t.major
	if major == "" {
		major = DefaultMajor
	}
	return major + ":" + token
}
