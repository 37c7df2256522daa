// Package archivetest builds tar fixtures for tests.
package archivetest

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Member describes one tar entry. Type defaults to a regular file, or a
// directory when Name ends in "/".
type Member struct {
	Name     string
	Body     string
	Mode     int64
	Type     byte
	Linkname string
}

// Metadata returns the member recording version metadata.
func Metadata(ver, timestamp string) Member {
	body := "version: " + ver + "\n"
	if timestamp != "" {
		body += "timestamp: " + timestamp + "\n"
	}
	return Member{Name: "./META-INF/version.yml", Body: body}
}

// Write creates an archive at path. Names ending in .tgz or .gz are
// gzip-compressed.
func Write(path string, members ...Member) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".tgz") || strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if err := writeTar(w, members); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

func writeTar(w io.Writer, members []Member) error {
	tw := tar.NewWriter(w)
	mtime := time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.Name,
			Mode:     m.Mode,
			Typeflag: m.Type,
			Linkname: m.Linkname,
			ModTime:  mtime,
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
			if strings.HasSuffix(m.Name, "/") {
				hdr.Typeflag = tar.TypeDir
			}
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
			if hdr.Typeflag == tar.TypeDir {
				hdr.Mode = 0o755
			}
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", m.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, m.Body); err != nil {
				return fmt.Errorf("write body %s: %w", m.Name, err)
			}
		}
	}
	return tw.Close()
}

// Package returns the members of a minimal runtime package carrying
// metadata for ver.
func Package(ver string) []Member {
	return []Member{
		{Name: "./"},
		{Name: "./META-INF/"},
		Metadata(ver, ""),
		{Name: "./bin/"},
		{Name: "./bin/python", Body: "#!/bin/sh\n", Mode: 0o755},
		{Name: "./lib/"},
		{Name: "./lib/site.py", Body: "# " + ver + "\n"},
	}
}
