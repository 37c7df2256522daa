package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"packager/internal/config"
)

// IndexFileName is the name of the index document inside the cache
// directory and at the repository root.
const IndexFileName = "packages"

// Layout captures the canonical on-host locations managed by packager.
type Layout struct {
	PackageDir string
	ServiceDir string
	CacheDir   string
	IndexFile  string
	LogsDir    string
}

// FromConfig derives the layout from the loaded configuration.
func FromConfig(cfg config.Config) Layout {
	return New(cfg.Install.Dir, cfg.Components.Dir, cfg.Install.Cache, cfg.Logging.Dir)
}

// New builds a layout from explicit directories. logsDir may be empty.
func New(packageDir, serviceDir, cacheDir, logsDir string) Layout {
	return Layout{
		PackageDir: filepath.Clean(packageDir),
		ServiceDir: filepath.Clean(serviceDir),
		CacheDir:   filepath.Clean(cacheDir),
		IndexFile:  filepath.Join(cacheDir, IndexFileName),
		LogsDir:    logsDir,
	}
}

// Package returns the package store path for a directory name.
func (l Layout) Package(dirName string) string {
	return filepath.Join(l.PackageDir, dirName)
}

// Service returns the service store path for a directory name.
func (l Layout) Service(dirName string) string {
	return filepath.Join(l.ServiceDir, dirName)
}

// CacheFile returns the cached location of an archive file name.
func (l Layout) CacheFile(tarball string) string {
	return filepath.Join(l.CacheDir, tarball)
}

// EnsureStores creates the package and service store directories.
func (l Layout) EnsureStores() error {
	for _, dir := range []string{l.PackageDir, l.ServiceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureCache creates the cache directory.
func (l Layout) EnsureCache() error {
	if err := os.MkdirAll(l.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", l.CacheDir, err)
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory. Symlinks
// are followed.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Occupied reports whether anything, including a dangling symlink, exists
// at path, and whether it is a real directory.
func Occupied(path string) (exists, isDir bool, err error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}
