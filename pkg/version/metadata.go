package version

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MetadataPath is where archives record their version, relative to the
// archive root.
const MetadataPath = "META-INF/version.yml"

// Scalar keeps the literal text of a YAML scalar, so that "2.10" stays
// "2.10" instead of becoming the float 2.1.
type Scalar string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*s = Scalar(node.Value)
	return nil
}

// Metadata is the content of META-INF/version.yml.
type Metadata struct {
	Version   Scalar  `yaml:"version"`
	Timestamp Scalar  `yaml:"timestamp,omitempty"`
	Patch     *Scalar `yaml:"patch,omitempty"`
}

// DecodeMetadata reads a version.yml document.
func DecodeMetadata(r io.Reader) (Metadata, error) {
	var md Metadata
	if err := yaml.NewDecoder(r).Decode(&md); err != nil {
		return Metadata{}, fmt.Errorf("decode version metadata: %w", err)
	}
	if md.Version == "" {
		return Metadata{}, fmt.Errorf("decode version metadata: %w", &FormatError{Reason: "missing version key"})
	}
	return md, nil
}

// String renders version[:timestamp][:patch].
func (m Metadata) String() string {
	s := string(m.Version)
	if m.Timestamp != "" {
		s += ":" + string(m.Timestamp)
	}
	if m.Patch != nil {
		s += ":" + string(*m.Patch)
	}
	return s
}

// Parsed returns the version the metadata describes.
func (m Metadata) Parsed() (Version, error) {
	return Parse(m.String())
}

// Source records where a resolved version came from.
type Source int

const (
	SourceMetadata Source = iota + 1
	SourceSuffix
)

func (s Source) String() string {
	switch s {
	case SourceMetadata:
		return "metadata"
	case SourceSuffix:
		return "suffix"
	}
	return "unknown"
}

// Resolution is a version together with how it was obtained.
type Resolution struct {
	Version Version
	Source  Source
}

// FromSuffix infers a version from the suffix of name. It fails when the
// name does not match grammar, or when the guess table has nothing better
// than the raw token.
func FromSuffix(name string, grammar *Grammar, table GuessTable) (Resolution, error) {
	_, suffix, ok := grammar.Split(filepath.Base(name))
	if !ok {
		return Resolution{}, &SuffixError{Name: name, Reason: "no viable suffix"}
	}
	guess := table.Guess(suffix)
	if guess == suffix {
		return Resolution{}, &SuffixError{Name: name, Reason: "unknown suffix " + suffix}
	}
	v, err := Parse(guess)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Version: v, Source: SourceSuffix}, nil
}

// FromDir resolves the version of an expanded package directory: the
// metadata file if present, otherwise the directory suffix.
func FromDir(dir string, table GuessTable) (Resolution, error) {
	return fromMetadataFile(filepath.Join(dir, MetadataPath), dir, table)
}

// FromServiceDir resolves the version of a service directory through its
// venv link.
func FromServiceDir(dir string, table GuessTable) (Resolution, error) {
	return fromMetadataFile(filepath.Join(dir, "venv", MetadataPath), dir, table)
}

func fromMetadataFile(path, dir string, table GuessTable) (Resolution, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FromSuffix(dir, DirName, table)
		}
		return Resolution{}, err
	}
	defer f.Close()

	md, err := DecodeMetadata(f)
	if err != nil {
		return Resolution{}, fmt.Errorf("%s: %w", path, err)
	}
	v, err := md.Parsed()
	if err != nil {
		return Resolution{}, fmt.Errorf("%s: %w", path, err)
	}
	return Resolution{Version: v, Source: SourceMetadata}, nil
}
