// Package archive reads gzip-or-plain tar containers and extracts them
// safely into package directories.
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"

	"packager/internal/errs"
	"packager/pkg/version"
)

// Reader is a tar stream over an archive file, decompressed when the file
// starts with the gzip magic bytes.
type Reader struct {
	*tar.Reader
	file *os.File
	gz   *gzip.Reader
}

// Open opens the archive at p.
func Open(p string) (*Reader, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("read archive header: %w", err)
	}
	r := &Reader{file: f}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		r.gz = gz
		r.Reader = tar.NewReader(gz)
	} else {
		r.Reader = tar.NewReader(br)
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

// Validate checks that p exists and holds a readable tar container.
func Validate(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs.New(errs.ErrArchiveNotFound, "validate archive").At(p)
		}
		return errs.New(errs.ErrArchiveNotFound, "validate archive").At(p).Wrap(err)
	}
	if !info.Mode().IsRegular() {
		return errs.New(errs.ErrArchiveFormat, "validate archive").At(p).Wrap(errors.New("not a regular file"))
	}
	if info.Size() == 0 {
		return errs.New(errs.ErrArchiveFormat, "validate archive").At(p).Wrap(errors.New("empty file"))
	}

	r, err := Open(p)
	if err != nil {
		return errs.New(errs.ErrArchiveFormat, "validate archive").At(p).Wrap(err)
	}
	defer r.Close()
	if _, err := r.Next(); err != nil && !errors.Is(err, io.EOF) {
		return errs.New(errs.ErrArchiveFormat, "validate archive").At(p).Wrap(err)
	}
	return nil
}

// memberName normalises a tar member name to a slash-separated relative
// path without a leading "./".
func memberName(name string) string {
	clean := path.Clean(strings.TrimSpace(name))
	return strings.TrimPrefix(clean, "./")
}

// ReadMetadata returns the embedded version metadata, if any.
func ReadMetadata(p string) (version.Metadata, bool, error) {
	r, err := Open(p)
	if err != nil {
		return version.Metadata{}, false, err
	}
	defer r.Close()

	for {
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return version.Metadata{}, false, nil
		}
		if err != nil {
			return version.Metadata{}, false, fmt.Errorf("read tar header: %w", err)
		}
		if memberName(hdr.Name) != version.MetadataPath {
			continue
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			return version.Metadata{}, false, fmt.Errorf("%s is not a regular file", hdr.Name)
		}
		md, err := version.DecodeMetadata(r)
		if err != nil {
			return version.Metadata{}, false, err
		}
		return md, true, nil
	}
}

// Inspect resolves the version of an archive: embedded metadata first,
// otherwise the file name suffix.
func Inspect(p string, table version.GuessTable) (version.Resolution, error) {
	md, ok, err := ReadMetadata(p)
	if err != nil {
		return version.Resolution{}, fmt.Errorf("inspect %s: %w", p, err)
	}
	if ok {
		v, err := md.Parsed()
		if err != nil {
			return version.Resolution{}, fmt.Errorf("inspect %s: %w", p, err)
		}
		return version.Resolution{Version: v, Source: version.SourceMetadata}, nil
	}
	return version.FromSuffix(p, version.TarballName, table)
}
