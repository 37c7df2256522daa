// Package cache mirrors the remote package index and keeps archives in the
// local cache directory.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"packager/internal/errs"
	"packager/internal/logx"
	"packager/internal/metrics"
	"packager/internal/paths"
	"packager/internal/pkgref"
	"packager/pkg/version"
)

// Store is the local archive cache backed by a remote repository.
type Store struct {
	Layout  paths.Layout
	RepoURL string
	Client  *http.Client
	// Timeout bounds the index fetch; DownloadTimeout bounds one archive.
	Timeout         time.Duration
	DownloadTimeout time.Duration
	UserAgent       string
	Logger          *log.Logger
	Metrics         metrics.Recorder
}

func (s *Store) logger() *log.Logger       { return logx.OrDiscard(s.Logger) }
func (s *Store) recorder() metrics.Recorder { return metrics.OrNoop(s.Metrics) }

func (s *Store) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

// Update fetches the remote index and writes it to the cache when it
// differs from the local copy or no local copy exists. It reports whether
// a write happened.
func (s *Store) Update(ctx context.Context) (bool, error) {
	if err := s.Layout.EnsureCache(); err != nil {
		return false, fmt.Errorf("cache update: %w", err)
	}
	url := s.RepoURL + paths.IndexFileName
	if s.RepoURL == "" {
		return false, errs.New(errs.ErrConfig, "cache update").Wrap(errors.New("repo.url is not configured"))
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	body, err := s.fetch(ctx, url)
	if err != nil {
		return false, errs.New(errs.ErrNetwork, "cache update").At(url).Wrap(err)
	}

	before, err := os.ReadFile(s.Layout.IndexFile)
	switch {
	case err == nil && bytes.Equal(before, body):
		s.logger().Debug("index unchanged", "path", s.Layout.IndexFile)
		return false, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		s.logger().Warn("local index unreadable, replacing", "path", s.Layout.IndexFile, "err", err)
	}

	if err := writeAtomic(s.Layout.IndexFile, body); err != nil {
		return false, fmt.Errorf("cache update: %w", err)
	}
	s.logger().Info("index updated", "path", s.Layout.IndexFile, "bytes", len(body))
	return true, nil
}

func (s *Store) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// LoadIndex reads the cached index.
func (s *Store) LoadIndex() (*Index, error) {
	return LoadIndex(s.Layout.IndexFile)
}

// Resolve completes ref against the cached index without touching the
// network: it picks the version (the newest when ref.Latest is set, or the
// one carrying ref.Suffix when only a suffix is known) and fills Tarball
// and Suffix.
func (s *Store) Resolve(ref pkgref.Ref) (pkgref.Ref, error) {
	const op = "resolve package"
	if err := ref.Require(op, pkgref.FieldPackage); err != nil {
		return ref, err
	}
	idx, err := s.LoadIndex()
	if err != nil {
		return ref, err
	}
	versions, ok := idx.Packages[ref.Package]
	if !ok {
		return ref, ref.Err(errs.ErrUnknownPackage, op, s.Layout.IndexFile, nil)
	}

	if !ref.Latest && !ref.HasVersion() && ref.Suffix != "" {
		for _, key := range sortedVersionKeys(versions) {
			if versions[key].Suffix != ref.Suffix {
				continue
			}
			v, err := version.Parse(key)
			if err != nil {
				return ref, ref.Err(errs.ErrIndexCorrupt, op, s.Layout.IndexFile, err)
			}
			ref = ref.WithVersion(v)
			break
		}
		if !ref.HasVersion() {
			return ref, ref.Err(errs.ErrUnknownVersion, op, s.Layout.IndexFile, fmt.Errorf("no version with suffix %q", ref.Suffix))
		}
	}

	if ref.Latest || !ref.HasVersion() {
		latest, skipped, ok := idx.Latest(ref.Package)
		for _, key := range skipped {
			s.logger().Warn("ignoring unparsable index version", "package", ref.Package, "version", key)
		}
		if !ok {
			return ref, ref.Err(errs.ErrNoVersions, op, s.Layout.IndexFile, nil)
		}
		ref = ref.WithVersion(latest)
	}

	entry, ok := versions[ref.Version.String()]
	if !ok {
		return ref, ref.Err(errs.ErrUnknownVersion, op, s.Layout.IndexFile, nil)
	}
	if err := ref.SetSuffix(entry.Suffix); err != nil {
		return ref, err
	}
	ref.Tarball = entry.File
	return ref, nil
}

func sortedVersionKeys(versions map[string]Entry) []string {
	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnsurePresent resolves ref against the index and downloads its archive
// into the cache unless a file of that name is already there.
func (s *Store) EnsurePresent(ctx context.Context, ref pkgref.Ref) (pkgref.Ref, error) {
	ref, err := s.Resolve(ref)
	if err != nil {
		return ref, err
	}
	target := s.Layout.CacheFile(ref.Tarball)
	exists, err := paths.FileExists(target)
	if err != nil {
		return ref, ref.Err(errs.ErrDownload, "ensure present", target, err)
	}
	if exists {
		s.logger().Debug("archive already cached", "path", target)
		return ref, nil
	}

	url := s.RepoURL + ref.Tarball
	if s.RepoURL == "" {
		return ref, ref.Err(errs.ErrConfig, "ensure present", target, errors.New("repo.url is not configured"))
	}
	n, err := s.download(ctx, target, url)
	s.recorder().IncDownload(metrics.Result(err), n)
	if err != nil {
		return ref, ref.Err(errs.ErrDownload, "download", url, err)
	}
	s.logger().Info("downloaded archive", "url", url, "path", target, "bytes", n)
	return ref, nil
}

// CacheFile returns where ref's archive lives in the cache.
func (s *Store) CacheFile(ref pkgref.Ref) (string, error) {
	if err := ref.Require("cache file", pkgref.FieldTarball); err != nil {
		return "", err
	}
	return s.Layout.CacheFile(ref.Tarball), nil
}

func (s *Store) download(ctx context.Context, dest, url string) (int64, error) {
	if s.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.DownloadTimeout)
		defer cancel()
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("prepare download destination: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), "download-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		tmpFile.Close()
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		return n, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return n, fmt.Errorf("finalize download: %w", err)
	}
	return n, nil
}
