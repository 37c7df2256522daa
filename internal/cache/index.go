package cache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"packager/internal/errs"
	"packager/pkg/version"
)

// IndexFormat is the document format written by this package.
const IndexFormat = 2

// Index maps package names to version strings to archive entries.
type Index struct {
	Format   int                         `yaml:"index_format"`
	Packages map[string]map[string]Entry `yaml:"packages"`
}

// Entry locates one archive in the repository.
type Entry struct {
	File   string `yaml:"file"`
	Suffix string `yaml:"suffix"`
}

// LoadIndex reads the index document at path.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.New(errs.ErrIndexMissing, "load index").At(path)
		}
		return nil, errs.New(errs.ErrIndexCorrupt, "load index").At(path).Wrap(err)
	}
	return DecodeIndex(data, path)
}

// DecodeIndex parses an index document. source names it in errors.
func DecodeIndex(data []byte, source string) (*Index, error) {
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, errs.New(errs.ErrIndexCorrupt, "decode index").At(source).Wrap(err)
	}
	if idx.Packages == nil {
		return nil, errs.New(errs.ErrIndexCorrupt, "decode index").At(source).Wrap(errors.New("missing packages key"))
	}
	idx.normalize()
	return &idx, nil
}

// SaveIndex writes the index document to path, creating the containing
// directory if needed. The write is performed atomically.
func SaveIndex(path string, idx *Index) error {
	if idx == nil {
		idx = NewIndex()
	}
	idx.normalize()

	data, err := idx.Marshal()
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// Marshal returns the YAML encoding of the index.
func (idx *Index) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return buf.Bytes(), nil
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{Format: IndexFormat, Packages: map[string]map[string]Entry{}}
}

// Lookup returns the entry for pkg at ver.
func (idx *Index) Lookup(pkg, ver string) (Entry, bool) {
	versions, ok := idx.Packages[pkg]
	if !ok {
		return Entry{}, false
	}
	e, ok := versions[ver]
	return e, ok
}

// Set records an entry, creating the package mapping if needed.
func (idx *Index) Set(pkg, ver string, e Entry) {
	if idx.Packages == nil {
		idx.Packages = map[string]map[string]Entry{}
	}
	if idx.Packages[pkg] == nil {
		idx.Packages[pkg] = map[string]Entry{}
	}
	idx.Packages[pkg][ver] = e
}

// Files returns every archive file name referenced by the index.
func (idx *Index) Files() []string {
	var files []string
	for _, versions := range idx.Packages {
		for _, e := range versions {
			files = append(files, e.File)
		}
	}
	sort.Strings(files)
	return files
}

// Latest returns the highest parsable version key of pkg. Keys that do
// not parse are reported through skipped.
func (idx *Index) Latest(pkg string) (v version.Version, skipped []string, ok bool) {
	for key := range idx.Packages[pkg] {
		parsed, err := version.Parse(key)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		if !ok || version.Compare(parsed, v) > 0 {
			v, ok = parsed, true
		}
	}
	sort.Strings(skipped)
	return v, skipped, ok
}

// Versions returns the parsable versions of pkg in ascending order.
func (idx *Index) Versions(pkg string) []version.Version {
	var out []version.Version
	for key := range idx.Packages[pkg] {
		if v, err := version.Parse(key); err == nil {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (idx *Index) normalize() {
	if idx.Format == 0 {
		idx.Format = IndexFormat
	}
	if idx.Packages == nil {
		idx.Packages = map[string]map[string]Entry{}
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
