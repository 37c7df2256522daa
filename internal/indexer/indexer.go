// Package indexer builds the repository index document from a directory of
// package archives.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"packager/internal/archive"
	"packager/internal/cache"
	"packager/internal/errs"
	"packager/internal/logx"
	"packager/internal/paths"
	"packager/pkg/version"
)

// Progress receives per-archive events. Calls may arrive concurrently.
type Progress interface {
	Start(file string)
	Complete(res FileResult)
}

// FileResult describes one archive considered by Build.
type FileResult struct {
	File    string
	Package string
	Version string
	Suffix  string
	Source  version.Source
	// Err is set when the archive was skipped.
	Err error
}

// Report summarises a Build.
type Report struct {
	Kept    []FileResult
	Added   []FileResult
	Skipped []FileResult
	// Dropped lists files that were indexed before but no longer exist.
	Dropped []string
	// Written is false when the index on disk was already up to date.
	Written bool
	Path    string
}

// Options tunes Build.
type Options struct {
	Table    version.GuessTable
	Workers  int
	Progress Progress
	Logger   *log.Logger
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 4 * runtime.NumCPU()
}

// Build refreshes "<dir>/packages". Entries whose archive still exists are
// kept unchanged, entries whose archive vanished are dropped, and archives
// not yet indexed are inspected in parallel and added. Archives that cannot
// be inspected are reported and left out.
func Build(ctx context.Context, dir string, opts Options) (*cache.Index, Report, error) {
	logger := logx.OrDiscard(opts.Logger)
	indexPath := filepath.Join(dir, paths.IndexFileName)
	report := Report{Path: indexPath}

	previous, err := cache.LoadIndex(indexPath)
	switch {
	case errors.Is(err, errs.ErrIndexMissing):
		previous = cache.NewIndex()
	case err != nil:
		logger.Warn("existing index unreadable, rebuilding from scratch", "path", indexPath, "err", err)
		previous = cache.NewIndex()
	}

	idx := cache.NewIndex()
	known := make(map[string]bool)
	for _, pkg := range sortedKeys(previous.Packages) {
		versions := previous.Packages[pkg]
		for _, ver := range sortedKeys(versions) {
			entry := versions[ver]
			ok, err := paths.FileExists(filepath.Join(dir, entry.File))
			if err != nil || !ok {
				logger.Info("dropping vanished archive", "file", entry.File, "package", pkg, "version", ver)
				report.Dropped = append(report.Dropped, entry.File)
				continue
			}
			idx.Set(pkg, ver, entry)
			known[entry.File] = true
			report.Kept = append(report.Kept, FileResult{File: entry.File, Package: pkg, Version: ver, Suffix: entry.Suffix})
		}
	}

	candidates, err := listArchives(dir, known)
	if err != nil {
		return nil, report, err
	}

	results := make([]FileResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, file := range candidates {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if opts.Progress != nil {
				opts.Progress.Start(file)
			}
			results[i] = inspect(dir, file, opts.Table)
			if opts.Progress != nil {
				opts.Progress.Complete(results[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, fmt.Errorf("index %s: %w", dir, err)
	}

	for _, res := range results {
		if res.Err == nil {
			if existing, dup := idx.Lookup(res.Package, res.Version); dup {
				res.Err = fmt.Errorf("%s %s is already provided by %s", res.Package, res.Version, existing.File)
			}
		}
		if res.Err != nil {
			logger.Warn("skipping archive", "file", res.File, "err", res.Err)
			report.Skipped = append(report.Skipped, res)
			continue
		}
		idx.Set(res.Package, res.Version, cache.Entry{File: res.File, Suffix: res.Suffix})
		report.Added = append(report.Added, res)
		logger.Info("indexed archive", "file", res.File, "package", res.Package, "version", res.Version, "source", res.Source.String())
	}

	written, err := save(indexPath, idx)
	if err != nil {
		return nil, report, err
	}
	report.Written = written
	return idx, report, nil
}

// listArchives returns regular files in dir named like archives that are
// not already known, sorted.
func listArchives(dir string, known map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || known[name] {
			continue
		}
		if _, _, ok := version.SplitTarball(name); !ok {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func inspect(dir, file string, table version.GuessTable) FileResult {
	res := FileResult{File: file}
	name, suffix, ok := version.SplitTarball(file)
	if !ok {
		res.Err = fmt.Errorf("%s does not match the archive naming scheme", file)
		return res
	}
	res.Package, res.Suffix = name, suffix

	p := filepath.Join(dir, file)
	if err := archive.Validate(p); err != nil {
		res.Err = err
		return res
	}
	resolved, err := archive.Inspect(p, table)
	if err != nil {
		res.Err = err
		return res
	}
	res.Version = resolved.Version.String()
	res.Source = resolved.Source
	return res
}

func save(path string, idx *cache.Index) (bool, error) {
	data, err := idx.Marshal()
	if err != nil {
		return false, err
	}
	if before, err := os.ReadFile(path); err == nil && bytes.Equal(before, data) {
		return false, nil
	}
	if err := cache.SaveIndex(path, idx); err != nil {
		return false, err
	}
	return true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
