package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"packager/internal/errs"
	"packager/internal/logx"
)

// ChownFunc changes ownership of path without following symlinks.
type ChownFunc func(path string, uid, gid int) error

// DefaultChown rewrites ownership when running as root and is a no-op
// otherwise, matching what tar does for unprivileged users.
func DefaultChown(path string, uid, gid int) error {
	if os.Geteuid() != 0 {
		return nil
	}
	return os.Lchown(path, uid, gid)
}

// Options controls ownership and mode rewriting during extraction.
type Options struct {
	// UID and GID are applied to every member.
	UID int
	GID int
	// ExtraMode is OR-ed into every member's mode, as octal permission
	// bits including setuid (04000), setgid (02000) and sticky (01000).
	ExtraMode uint32
	Chown     ChownFunc
	Logger    *log.Logger
}

// Stats counts what an extraction wrote.
type Stats struct {
	Dirs      int
	Files     int
	Symlinks  int
	Hardlinks int
	Skipped   int
	Bytes     int64
}

// Members is the number of members written.
func (s Stats) Members() int {
	return s.Dirs + s.Files + s.Symlinks + s.Hardlinks
}

// ModeBits converts octal permission bits into an os.FileMode.
func ModeBits(bits uint32) os.FileMode {
	m := os.FileMode(bits & 0o777)
	if bits&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if bits&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if bits&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m
}

// SafeJoin resolves an archive member name below base. Absolute names,
// empty names and names escaping base are rejected. The name "." maps to
// base itself.
func SafeJoin(base, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", unsafePath(name, "empty member name")
	}
	clean := filepath.Clean(filepath.FromSlash(trimmed))
	if filepath.IsAbs(clean) {
		return "", unsafePath(name, "absolute member path")
	}
	target := filepath.Join(base, clean)
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", unsafePath(name, err.Error())
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", unsafePath(name, "member escapes target directory")
	}
	return target, nil
}

func unsafePath(name, reason string) error {
	return errs.New(errs.ErrUnsafeArchivePath, "extract").At(name).Wrap(errors.New(reason))
}

type dirAttr struct {
	path  string
	mode  os.FileMode
	mtime time.Time
}

// Extract writes every member of the archive at src below dest, which
// must already exist. Extraction stops at the first failure and leaves
// whatever was written in place.
func Extract(src, dest string, opts Options) (Stats, error) {
	logger := logx.OrDiscard(opts.Logger)
	chown := opts.Chown
	if chown == nil {
		chown = DefaultChown
	}
	extra := ModeBits(opts.ExtraMode)

	dest, err := filepath.Abs(dest)
	if err != nil {
		return Stats{}, err
	}

	r, err := Open(src)
	if err != nil {
		return Stats{}, err
	}
	defer r.Close()

	var (
		stats Stats
		dirs  []dirAttr
	)
	for {
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read tar header: %w", err)
		}

		target, err := SafeJoin(dest, hdr.Name)
		if err != nil {
			return stats, err
		}
		if err := checkAncestors(dest, target); err != nil {
			return stats, err
		}
		mode := hdr.FileInfo().Mode().Perm() | specialBits(hdr.FileInfo().Mode()) | extra

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := makeDir(target); err != nil {
				return stats, err
			}
			dirs = append(dirs, dirAttr{path: target, mode: mode, mtime: hdr.ModTime})
			stats.Dirs++
		case tar.TypeReg, tar.TypeRegA:
			n, err := writeFile(target, r, mode)
			if err != nil {
				return stats, err
			}
			stats.Bytes += n
			stats.Files++
		case tar.TypeSymlink:
			if err := replaceWith(target, func() error { return os.Symlink(hdr.Linkname, target) }); err != nil {
				return stats, fmt.Errorf("create symlink %s: %w", target, err)
			}
			stats.Symlinks++
		case tar.TypeLink:
			source, err := SafeJoin(dest, hdr.Linkname)
			if err != nil {
				return stats, err
			}
			if err := checkAncestors(dest, source); err != nil {
				return stats, err
			}
			if err := replaceWith(target, func() error { return os.Link(source, target) }); err != nil {
				return stats, fmt.Errorf("create hard link %s: %w", target, err)
			}
			stats.Hardlinks++
		default:
			logger.Warn("skipping archive member", "member", hdr.Name, "type", string(hdr.Typeflag), "archive", src)
			stats.Skipped++
			continue
		}

		if err := chown(target, opts.UID, opts.GID); err != nil {
			return stats, fmt.Errorf("chown %s: %w", target, err)
		}
		if hdr.Typeflag == tar.TypeReg || hdr.Typeflag == tar.TypeRegA {
			if err := os.Chmod(target, mode); err != nil {
				return stats, fmt.Errorf("chmod %s: %w", target, err)
			}
			if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
				return stats, fmt.Errorf("set times %s: %w", target, err)
			}
		}
	}

	// Deepest first, so restrictive parent modes do not block children.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].path > dirs[j].path })
	for _, d := range dirs {
		if err := os.Chmod(d.path, d.mode); err != nil {
			return stats, fmt.Errorf("chmod %s: %w", d.path, err)
		}
		if err := os.Chtimes(d.path, d.mtime, d.mtime); err != nil {
			return stats, fmt.Errorf("set times %s: %w", d.path, err)
		}
	}
	return stats, nil
}

func specialBits(m os.FileMode) os.FileMode {
	return m & (os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
}

// checkAncestors refuses to write below a symlink created by an earlier
// member.
func checkAncestors(dest, target string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." {
		return nil
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	cur := dest
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return unsafePath(rel, "parent "+part+" is a symlink")
		}
		if !info.IsDir() {
			return fmt.Errorf("parent %s of %s is not a directory", cur, rel)
		}
	}
	return nil
}

func makeDir(target string) error {
	info, err := os.Lstat(target)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace %s: %w", target, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(target, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", target, err)
	}
	return nil
}

// replaceWith removes a non-directory already at target, then runs create.
func replaceWith(target string, create func() error) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	info, err := os.Lstat(target)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("%s is a directory", target)
	case err == nil:
		if err := os.Remove(target); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return create()
}

func writeFile(target string, r io.Reader, mode os.FileMode) (int64, error) {
	var n int64
	err := replaceWith(target, func() error {
		out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
		if err != nil {
			return err
		}
		n, err = io.Copy(out, r)
		if err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		return n, fmt.Errorf("write file %s: %w", target, err)
	}
	return n, nil
}
