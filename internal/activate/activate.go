// Package activate maintains activation pointers: the single
// "<base>/<name> -> <name>-<suffix>" symlink that marks which version of a
// package or service is live.
//
// A name is either Unbound (no pointer) or Bound to one version. There is
// no Bound to Bound transition: switching versions is a Deactivate followed
// by an Activate, performed by the caller.
package activate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"packager/internal/errs"
	"packager/internal/logx"
	"packager/internal/paths"
	"packager/internal/pkgref"
	"packager/pkg/version"
)

// Kind selects which namespace a set of pointers lives in.
type Kind int

const (
	// Packages are "<install.dir>/<package>-<suffix>" directories whose
	// metadata lives at META-INF/version.yml.
	Packages Kind = iota
	// Services are "<components.dir>/<service>-<suffix>" directories whose
	// metadata is reached through their venv link.
	Services
)

func (k Kind) String() string {
	if k == Services {
		return "service"
	}
	return "package"
}

// Pointers manages the activation pointers below Base.
type Pointers struct {
	Base   string
	Kind   Kind
	Table  version.GuessTable
	Logger *log.Logger
}

func (p *Pointers) logger() *log.Logger { return logx.OrDiscard(p.Logger) }

// Name returns the logical name ref is activated under.
func (p *Pointers) Name(ref pkgref.Ref) string {
	if p.Kind == Services {
		return ref.Service
	}
	return ref.Package
}

func (p *Pointers) nameField() pkgref.Field {
	if p.Kind == Services {
		return pkgref.FieldService
	}
	return pkgref.FieldPackage
}

// Path returns the pointer location for name.
func (p *Pointers) Path(name string) string {
	return filepath.Join(p.Base, name)
}

// DirVersion resolves the version held by a versioned directory.
func (p *Pointers) DirVersion(dir string) (version.Resolution, error) {
	if p.Kind == Services {
		return version.FromServiceDir(dir, p.Table)
	}
	return version.FromDir(dir, p.Table)
}

// Current returns the directory name the pointer for name targets. ok is
// false when no pointer exists. A pointer that is not a symlink, targets
// a directory not prefixed "<name>-", or dangles is reported as an inconsistency and left alone.
func (p *Pointers) Current(name string) (target string, ok bool, err error) {
	link := p.Path(name)
	info, err := os.Lstat(link)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, p.inconsistent(name, link, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, p.inconsistent(name, link, errors.New("not a symlink"))
	}
	target, err = os.Readlink(link)
	if err != nil {
		return "", false, p.inconsistent(name, link, err)
	}
	if strings.ContainsRune(target, os.PathSeparator) {
		return "", false, p.inconsistent(name, link, fmt.Errorf("target %q is not a sibling directory", target))
	}
	if suffix, owned := strings.CutPrefix(target, name+"-"); !owned || suffix == "" {
		return "", false, p.inconsistent(name, link, fmt.Errorf("target %q does not belong to %s", target, name))
	}
	if isDir, err := paths.DirExists(filepath.Join(p.Base, target)); err != nil || !isDir {
		return "", false, p.inconsistent(name, link, fmt.Errorf("target %q is missing", target))
	}
	return target, true, nil
}

func (p *Pointers) inconsistent(name, link string, cause error) error {
	e := &errs.Error{Kind: errs.ErrConsistency, Op: "read " + p.Kind.String() + " pointer", Path: link, Err: cause}
	if p.Kind == Services {
		e.Service = name
	} else {
		e.Package = name
	}
	return e
}

// ActiveVersion reports the version name is bound to. ok is false when
// name is Unbound.
func (p *Pointers) ActiveVersion(name string) (v version.Version, ok bool, err error) {
	target, ok, err := p.Current(name)
	if err != nil || !ok {
		return version.Version{}, false, err
	}
	res, err := p.DirVersion(filepath.Join(p.Base, target))
	if err != nil {
		return version.Version{}, false, p.inconsistent(name, p.Path(name), fmt.Errorf("resolve version of %s: %w", target, err))
	}
	return res.Version, true, nil
}

// Activate binds ref's name to ref's version. The name must be Unbound and
// the versioned directory must exist.
func (p *Pointers) Activate(ref pkgref.Ref) (pkgref.Ref, error) {
	const op = "activate"
	if err := ref.Require(op, p.nameField()); err != nil {
		return ref, err
	}
	name := p.Name(ref)
	link := p.Path(name)

	current, ok, err := p.ActiveVersion(name)
	if err != nil {
		return ref, err
	}
	if ok {
		return ref, ref.Err(errs.ErrAlreadyActive, op, link, fmt.Errorf("%s is active", current))
	}

	ref, err = p.EnsureSuffix(ref)
	if err != nil {
		return ref, err
	}
	target := version.JoinDir(name, ref.Suffix)
	isDir, err := paths.DirExists(filepath.Join(p.Base, target))
	if err != nil || !isDir {
		return ref, ref.Err(errs.ErrMissingExpansion, op, filepath.Join(p.Base, target), err)
	}

	if err := os.Symlink(target, link); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ref, ref.Err(errs.ErrConsistency, op, link, fmt.Errorf("pointer appeared concurrently: %w", err))
		}
		return ref, ref.Err(errs.ErrActivation, op, link, err)
	}
	p.logger().Info("activated", "kind", p.Kind.String(), "name", name, "target", target)
	return ref, nil
}

// Deactivate removes the pointer for ref's name. When ref carries a
// concrete version it must match the active one, so an Unbound name is a
// version mismatch. Without a version an Unbound name is left as is and
// reported unchanged.
func (p *Pointers) Deactivate(ref pkgref.Ref) (bool, error) {
	const op = "deactivate"
	if err := ref.Require(op, p.nameField()); err != nil {
		return false, err
	}
	name := p.Name(ref)
	link := p.Path(name)

	current, ok, err := p.ActiveVersion(name)
	if err != nil {
		return false, err
	}
	if !ok && ref.HasVersion() {
		return false, ref.Err(errs.ErrVersionMismatch, op, link, fmt.Errorf("%s is not active", ref.Version))
	}
	if !ok {
		p.logger().Debug("nothing to deactivate", "kind", p.Kind.String(), "name", name)
		return false, nil
	}
	if ref.HasVersion() && !ref.Version.Equal(current) {
		return false, ref.Err(errs.ErrVersionMismatch, op, link, fmt.Errorf("%s is active", current))
	}
	if err := os.Remove(link); err != nil {
		return false, ref.Err(errs.ErrActivation, op, link, err)
	}
	p.logger().Info("deactivated", "kind", p.Kind.String(), "name", name, "version", current.String())
	return true, nil
}

// EnsureSuffix fills ref.Suffix by scanning Base for a "<name>-<suffix>"
// directory holding ref's version, or the newest one when ref.Latest is
// set. A ref that already has a suffix is returned unchanged.
func (p *Pointers) EnsureSuffix(ref pkgref.Ref) (pkgref.Ref, error) {
	const op = "find version directory"
	if ref.Suffix != "" {
		return ref, nil
	}
	if !ref.HasVersion() && !ref.Latest {
		return ref, ref.Require(op, pkgref.FieldVersion)
	}
	name := p.Name(ref)
	entries, err := os.ReadDir(p.Base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ref, ref.Err(errs.ErrMissingExpansion, op, p.Base, nil)
		}
		return ref, ref.Err(errs.ErrMissingExpansion, op, p.Base, err)
	}

	var (
		found      bool
		bestVer    version.Version
		bestSuffix string
	)
	for _, entry := range entries {
		// Pointers are symlinks and never versioned directories.
		if !entry.IsDir() {
			continue
		}
		suffix, ok := version.SuffixFor(name, entry.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(p.Base, entry.Name())
		res, err := p.DirVersion(dir)
		if err != nil {
			p.logger().Debug("skipping unresolvable directory", "dir", dir, "err", err)
			continue
		}
		if ref.HasVersion() {
			if res.Version.Equal(ref.Version) {
				found, bestVer, bestSuffix = true, res.Version, suffix
				break
			}
			continue
		}
		if !found || version.Compare(res.Version, bestVer) > 0 {
			found, bestVer, bestSuffix = true, res.Version, suffix
		}
	}
	if !found {
		return ref, ref.Err(errs.ErrMissingExpansion, op, p.Base, nil)
	}
	ref = ref.WithVersion(bestVer)
	if err := ref.SetSuffix(bestSuffix); err != nil {
		return ref, err
	}
	return ref, nil
}

// ResolveVersion fills ref.Version from the directory named by ref.Suffix
// when only the suffix is known.
func (p *Pointers) ResolveVersion(ref pkgref.Ref) (pkgref.Ref, error) {
	if ref.HasVersion() || ref.Suffix == "" {
		return ref, nil
	}
	dir := filepath.Join(p.Base, version.JoinDir(p.Name(ref), ref.Suffix))
	isDir, err := paths.DirExists(dir)
	if err != nil || !isDir {
		return ref, ref.Err(errs.ErrMissingExpansion, "resolve version", dir, err)
	}
	res, err := p.DirVersion(dir)
	if err != nil {
		return ref, ref.Err(errs.ErrMissingExpansion, "resolve version", dir, err)
	}
	return ref.WithVersion(res.Version), nil
}
