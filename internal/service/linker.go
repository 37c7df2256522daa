// Package service manages service directories: per-version slots in the
// components directory that link to an expanded package through "venv".
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"

	"packager/internal/activate"
	"packager/internal/errs"
	"packager/internal/logx"
	"packager/internal/paths"
	"packager/internal/pkgref"
)

const (
	// VenvLink is the link inside a service directory that targets the
	// package directory.
	VenvLink = "venv"
	// EtcDir is created empty inside each new service directory.
	EtcDir = "etc"
)

// Linker creates and removes service directories.
type Linker struct {
	Layout   paths.Layout
	Services *activate.Pointers
	Logger   *log.Logger
}

func (l *Linker) logger() *log.Logger { return logx.OrDiscard(l.Logger) }

// ServiceDir returns "<components.dir>/<service>-<suffix>".
func (l *Linker) ServiceDir(ref pkgref.Ref) (string, error) {
	if err := ref.Require("service directory", pkgref.FieldService, pkgref.FieldSuffix); err != nil {
		return "", err
	}
	return l.Layout.Service(ref.ServiceDirName()), nil
}

// Refer creates the service directory for ref, linking it to the already
// expanded package directory. An existing service directory is left as is.
func (l *Linker) Refer(ref pkgref.Ref) (bool, error) {
	const op = "refer"
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldService, pkgref.FieldSuffix); err != nil {
		return false, err
	}
	pkgDir := l.Layout.Package(ref.PackageDirName())
	if ok, err := paths.DirExists(pkgDir); err != nil || !ok {
		return false, ref.Err(errs.ErrPackageNotExpanded, op, pkgDir, err)
	}

	svcDir := l.Layout.Service(ref.ServiceDirName())
	exists, isDir, err := paths.Occupied(svcDir)
	switch {
	case err != nil:
		return false, ref.Err(errs.ErrLinkCreation, op, svcDir, err)
	case exists && isDir:
		l.logger().Debug("service directory already present", "path", svcDir)
		return false, nil
	case exists:
		return false, ref.Err(errs.ErrTargetConflict, op, svcDir, nil)
	}

	if err := os.MkdirAll(l.Layout.ServiceDir, 0o755); err != nil {
		return false, ref.Err(errs.ErrLinkCreation, op, l.Layout.ServiceDir, err)
	}
	if err := os.Mkdir(svcDir, 0o755); err != nil {
		return false, ref.Err(errs.ErrLinkCreation, op, svcDir, err)
	}
	venv := filepath.Join(svcDir, VenvLink)
	if err := os.Symlink(pkgDir, venv); err != nil {
		return true, ref.Err(errs.ErrLinkCreation, op, venv, err)
	}
	etc := filepath.Join(svcDir, EtcDir)
	if err := os.Mkdir(etc, 0o755); err != nil {
		return true, ref.Err(errs.ErrLinkCreation, op, etc, err)
	}
	l.logger().Info("created service directory", "path", svcDir, "venv", pkgDir)
	return true, nil
}

// Remove deletes ref's service directory. When the suffix is unknown it is
// looked up in the components directory; no match means nothing to do.
func (l *Linker) Remove(ref pkgref.Ref) (bool, pkgref.Ref, error) {
	const op = "remove service"
	if err := ref.Require(op, pkgref.FieldService); err != nil {
		return false, ref, err
	}
	if ref.Suffix == "" {
		resolved, err := l.Services.EnsureSuffix(ref)
		if errors.Is(err, errs.ErrMissingExpansion) {
			l.logger().Debug("no service directory to remove", "service", ref.Service, "version", ref.VersionString())
			return false, ref, nil
		}
		if err != nil {
			return false, ref, err
		}
		ref = resolved
	}
	svcDir := l.Layout.Service(ref.ServiceDirName())

	if current, ok, err := l.Services.Current(ref.Service); err != nil {
		return false, ref, err
	} else if ok && current == ref.ServiceDirName() {
		return false, ref, ref.Err(errs.ErrActiveVersionRemoval, op, svcDir, nil)
	}

	exists, isDir, err := paths.Occupied(svcDir)
	switch {
	case err != nil:
		return false, ref, ref.Err(errs.ErrDeletion, op, svcDir, err)
	case !exists:
		l.logger().Debug("no service directory to remove", "path", svcDir)
		return false, ref, nil
	case !isDir:
		return false, ref, ref.Err(errs.ErrNotADirectory, op, svcDir, nil)
	}
	if err := os.RemoveAll(svcDir); err != nil {
		return false, ref, ref.Err(errs.ErrDeletion, op, svcDir, err)
	}
	l.logger().Info("removed service directory", "path", svcDir)
	return true, ref, nil
}

// CountRefs returns the names of service directories whose venv link
// targets ref's package directory, sorted.
func (l *Linker) CountRefs(ref pkgref.Ref) ([]string, error) {
	const op = "count references"
	if err := ref.Require(op, pkgref.FieldPackage, pkgref.FieldSuffix); err != nil {
		return nil, err
	}
	pkgDir := filepath.Clean(l.Layout.Package(ref.PackageDirName()))

	entries, err := os.ReadDir(l.Layout.ServiceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ref.Err(errs.ErrConsistency, op, l.Layout.ServiceDir, fmt.Errorf("scan service directories: %w", err))
	}

	var users []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.Layout.ServiceDir, entry.Name())
		target, err := os.Readlink(filepath.Join(dir, VenvLink))
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		if filepath.Clean(target) == pkgDir {
			users = append(users, entry.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}
