package service

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"packager/internal/errs"
	"packager/pkg/version"
)

// Entry describes one service directory.
type Entry struct {
	Service string `json:"service"`
	Suffix  string `json:"suffix"`
	Dir     string `json:"dir"`
	// Package is the package directory name the venv link targets, empty
	// when the link is missing.
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
	Active  bool   `json:"active"`
	// Problem records why Version or Active could not be determined.
	Problem string `json:"problem,omitempty"`
}

// List scans the components directory. When service is non-empty only
// its directories are returned. Entries are sorted by service then
// version.
func (l *Linker) List(service string) ([]Entry, error) {
	dirents, err := os.ReadDir(l.Layout.ServiceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.New(errs.ErrConsistency, "list services").At(l.Layout.ServiceDir).Wrap(err)
	}

	var (
		out      []Entry
		versions = map[string]version.Version{}
		active   = map[string]string{}
	)
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name, suffix, ok := version.SplitDir(d.Name())
		if !ok || (service != "" && name != service) {
			continue
		}
		dir := filepath.Join(l.Layout.ServiceDir, d.Name())
		e := Entry{Service: name, Suffix: suffix, Dir: dir}
		if target, err := os.Readlink(filepath.Join(dir, VenvLink)); err == nil {
			e.Package = filepath.Base(target)
		}
		if res, err := l.Services.DirVersion(dir); err == nil {
			e.Version = res.Version.String()
			versions[dir] = res.Version
		} else {
			e.Problem = err.Error()
		}

		current, seen := active[name]
		if !seen {
			target, ok, err := l.Services.Current(name)
			switch {
			case err != nil:
				current = ""
				e.Problem = err.Error()
			case ok:
				current = target
			}
			active[name] = current
		}
		e.Active = current == d.Name()
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return version.Compare(versions[out[i].Dir], versions[out[j].Dir]) < 0
	})
	return out, nil
}
