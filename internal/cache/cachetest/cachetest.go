// Package cachetest serves a throwaway package repository over HTTP.
package cachetest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"packager/internal/archive/archivetest"
	"packager/internal/cache"
	"packager/internal/paths"
)

// Repo is a directory of archives plus its index, served by httptest.
type Repo struct {
	Dir string
	// URL ends with "/".
	URL string

	t        testing.TB
	idx      *cache.Index
	requests atomic.Int32
}

// NewRepo starts an empty repository that is shut down with the test.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	r := &Repo{Dir: t.TempDir(), t: t, idx: cache.NewIndex()}
	files := http.FileServer(http.Dir(r.Dir))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		files.ServeHTTP(w, req)
	}))
	t.Cleanup(srv.Close)
	r.URL = srv.URL + "/"
	r.writeIndex()
	return r
}

// Add publishes "<pkg>-<ver>.tgz" with suffix ver. Without members the
// archive is archivetest.Package(ver).
func (r *Repo) Add(pkg, ver string, members ...archivetest.Member) string {
	r.t.Helper()
	file := pkg + "-" + ver + ".tgz"
	r.AddFile(pkg, ver, file, ver, members...)
	return file
}

// AddFile publishes an archive under an explicit file name and suffix.
func (r *Repo) AddFile(pkg, ver, file, suffix string, members ...archivetest.Member) {
	r.t.Helper()
	if len(members) == 0 {
		members = archivetest.Package(ver)
	}
	if err := archivetest.Write(filepath.Join(r.Dir, file), members...); err != nil {
		r.t.Fatalf("write archive %s: %v", file, err)
	}
	r.idx.Set(pkg, ver, cache.Entry{File: file, Suffix: suffix})
	r.writeIndex()
}

// Requests is the number of HTTP requests served so far.
func (r *Repo) Requests() int { return int(r.requests.Load()) }

func (r *Repo) writeIndex() {
	r.t.Helper()
	if err := cache.SaveIndex(filepath.Join(r.Dir, paths.IndexFileName), r.idx); err != nil {
		r.t.Fatalf("write index: %v", err)
	}
}

// Layout returns a fresh host layout below a temporary root.
func Layout(t testing.TB) paths.Layout {
	t.Helper()
	root := t.TempDir()
	return paths.New(
		filepath.Join(root, "venv"),
		filepath.Join(root, "service"),
		filepath.Join(root, "cache"),
		"",
	)
}

// Store returns a cache store for layout backed by r.
func (r *Repo) Store(layout paths.Layout) *cache.Store {
	return &cache.Store{
		Layout:          layout,
		RepoURL:         r.URL,
		Timeout:         5 * time.Second,
		DownloadTimeout: 5 * time.Second,
		UserAgent:       "packager-test",
	}
}

// Remove deletes a published archive file without touching the index.
func (r *Repo) Remove(file string) {
	r.t.Helper()
	if err := os.Remove(filepath.Join(r.Dir, file)); err != nil {
		r.t.Fatal(err)
	}
}
