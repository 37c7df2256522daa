package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"packager/internal/errs"
)

func TestLoadIndexMissing(t *testing.T) {
	_, err := LoadIndex(filepath.Join(t.TempDir(), "packages"))
	if !errors.Is(err, errs.ErrIndexMissing) {
		t.Fatalf("expected ErrIndexMissing, got %v", err)
	}
}

func TestLoadIndexCorrupt(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no-packages": "index_format: 2\n",
		"not-yaml":    "packages: [\n",
		"wrong-shape": "packages: 12\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadIndex(p); !errors.Is(err, errs.ErrIndexCorrupt) {
				t.Fatalf("expected ErrIndexCorrupt, got %v", err)
			}
		})
	}
}

func TestSaveIndexRoundtrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "packages")

	idx := NewIndex()
	idx.Set("nova", "2.0.0", Entry{File: "nova-2.0.0.tgz", Suffix: "2.0.0"})
	idx.Set("nova", "2.10", Entry{File: "nova-2.10.tgz", Suffix: "2.10"})

	if err := SaveIndex(p, idx); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}
	loaded, err := LoadIndex(p)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if loaded.Format != IndexFormat {
		t.Fatalf("format = %d", loaded.Format)
	}
	e, ok := loaded.Lookup("nova", "2.10")
	if !ok || e.File != "nova-2.10.tgz" {
		t.Fatalf("Lookup(2.10) = (%+v, %v)", e, ok)
	}
	if got := loaded.Files(); len(got) != 2 || got[0] != "nova-2.0.0.tgz" {
		t.Fatalf("Files = %v", got)
	}
}

func TestLatestSkipsUnparsableKeys(t *testing.T) {
	idx := NewIndex()
	idx.Set("nova", "2.0.0", Entry{File: "a"})
	idx.Set("nova", "2.10.0", Entry{File: "b"})
	idx.Set("nova", "2.9.0", Entry{File: "c"})
	idx.Set("nova", "bad..key", Entry{File: "d"})

	v, skipped, ok := idx.Latest("nova")
	if !ok || v.String() != "2.10.0" {
		t.Fatalf("Latest = (%s, %v)", v, ok)
	}
	if len(skipped) != 1 || skipped[0] != "bad..key" {
		t.Fatalf("skipped = %v", skipped)
	}
	if _, _, ok := idx.Latest("missing"); ok {
		t.Fatal("expected no latest for unknown package")
	}
	if vs := idx.Versions("nova"); len(vs) != 3 || vs[0].String() != "2.0.0" {
		t.Fatalf("Versions = %v", vs)
	}
}
