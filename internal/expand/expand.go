// Package expand unpacks cached archives into the package store and removes
// package directories that are no longer needed.
package expand

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"packager/internal/activate"
	"packager/internal/archive"
	"packager/internal/cache"
	"packager/internal/errs"
	"packager/internal/logx"
	"packager/internal/metrics"
	"packager/internal/paths"
	"packager/internal/pkgref"
)

// RefCounter lists the service directories still linking to a package
// directory.
type RefCounter interface {
	CountRefs(ref pkgref.Ref) ([]string, error)
}

// Expander owns the package store.
type Expander struct {
	Layout   paths.Layout
	Cache    *cache.Store
	Packages *activate.Pointers
	// Refs guards Remove against packages still in use. Nil disables the
	// check.
	Refs RefCounter

	GID       int
	ExtraMode uint32
	Chown     archive.ChownFunc

	Logger  *log.Logger
	Metrics metrics.Recorder
}

func (e *Expander) logger() *log.Logger       { return logx.OrDiscard(e.Logger) }
func (e *Expander) recorder() metrics.Recorder { return metrics.OrNoop(e.Metrics) }

// PackageDir returns "<install.dir>/<package>-<suffix>".
func (e *Expander) PackageDir(ref pkgref.Ref) (string, error) {
	if err := ref.Require("package directory", pkgref.FieldPackage, pkgref.FieldSuffix); err != nil {
		return "", err
	}
	return e.Layout.Package(ref.PackageDirName()), nil
}

// Explode makes sure ref's archive is cached and expanded. An existing
// package directory is taken as already expanded and left untouched.
func (e *Expander) Explode(ctx context.Context, ref pkgref.Ref) (bool, pkgref.Ref, error) {
	const op = "explode"
	ref, err := e.Cache.EnsurePresent(ctx, ref)
	if err != nil {
		return false, ref, err
	}
	src, err := e.Cache.CacheFile(ref)
	if err != nil {
		return false, ref, err
	}
	if err := archive.Validate(src); err != nil {
		return false, ref, annotate(ref, op, err)
	}

	target, err := e.PackageDir(ref)
	if err != nil {
		return false, ref, err
	}
	exists, isDir, err := paths.Occupied(target)
	switch {
	case err != nil:
		return false, ref, ref.Err(errs.ErrExtraction, op, target, err)
	case exists && isDir:
		e.logger().Debug("package already expanded", "path", target)
		return false, ref, nil
	case exists:
		return false, ref, ref.Err(errs.ErrTargetConflict, op, target, nil)
	}

	if err := os.MkdirAll(e.Layout.PackageDir, 0o755); err != nil {
		return false, ref, ref.Err(errs.ErrExtraction, op, e.Layout.PackageDir, err)
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		return false, ref, ref.Err(errs.ErrExtraction, op, target, err)
	}

	stats, err := archive.Extract(src, target, archive.Options{
		GID:       e.GID,
		ExtraMode: e.ExtraMode,
		Chown:     e.Chown,
		Logger:    e.logger(),
	})
	e.recorder().AddExtracted(stats.Members())
	if err != nil {
		e.logger().Error("extraction failed, leaving partial output", "path", target, "err", err)
		return false, ref, ref.Err(errs.ErrExtraction, op, target, err)
	}
	e.logger().Info("expanded package",
		"archive", src, "path", target,
		"files", stats.Files, "dirs", stats.Dirs, "links", stats.Symlinks+stats.Hardlinks, "bytes", stats.Bytes)
	return true, ref, nil
}

// Remove deletes ref's package directory. The active version and
// directories still referenced by services are refused. A missing
// directory is reported unchanged. The reference scan and the deletion are
// not atomic: a service linked to the package concurrently with Remove is
// left with a dangling venv link.
func (e *Expander) Remove(ref pkgref.Ref) (bool, error) {
	const op = "remove package"
	if err := ref.Require(op, pkgref.FieldPackage); err != nil {
		return false, err
	}
	if ref.Suffix == "" {
		resolved, err := e.Packages.EnsureSuffix(ref)
		if errors.Is(err, errs.ErrMissingExpansion) {
			e.logger().Debug("no package directory to remove", "package", ref.Package, "version", ref.VersionString())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		ref = resolved
	}
	target := e.Layout.Package(ref.PackageDirName())

	if current, ok, err := e.Packages.Current(ref.Package); err != nil {
		return false, err
	} else if ok && current == ref.PackageDirName() {
		return false, ref.Err(errs.ErrActiveVersionRemoval, op, target, nil)
	}

	exists, isDir, err := paths.Occupied(target)
	switch {
	case err != nil:
		return false, ref.Err(errs.ErrDeletion, op, target, err)
	case !exists:
		e.logger().Debug("no package directory to remove", "path", target)
		return false, nil
	case !isDir:
		return false, ref.Err(errs.ErrNotADirectory, op, target, nil)
	}

	if e.Refs != nil {
		users, err := e.Refs.CountRefs(ref)
		if err != nil {
			return false, err
		}
		if len(users) > 0 {
			return false, ref.Err(errs.ErrPackageInUse, op, target, fmt.Errorf("referenced by %v", users))
		}
	}

	if err := os.RemoveAll(target); err != nil {
		return false, ref.Err(errs.ErrDeletion, op, target, err)
	}
	e.logger().Info("removed package", "path", target)
	return true, nil
}

// annotate adds ref's identity to an *errs.Error raised below this
// package.
func annotate(ref pkgref.Ref, op string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return ref.Err(e.Kind, op, e.Path, e.Err)
	}
	return err
}
