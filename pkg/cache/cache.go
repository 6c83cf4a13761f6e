// Package cache provides the on-disk store for raw map payloads so repeated
// imports of the same area do not hit the remote map API.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/NERVsystems/osmscene/pkg/monitoring"
	"github.com/NERVsystems/osmscene/pkg/tracing"
)

// ErrMiss is returned by Read when no usable entry exists for a key.
var ErrMiss = errors.New("cache miss")

const fileSuffix = ".osm"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Store keeps one file per key under a directory. Entries are written with
// write-temp-then-rename so a crashed run never leaves a truncated file under
// the final name. An entry older than MaxAge, or an empty one, is treated as
// absent and removed on read.
type Store struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
	mu     sync.Mutex
}

// DefaultDir returns the per-user cache directory for map payloads.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "osmscene", "geodat_osm"), nil
}

// NewStore creates the directory if needed. A zero maxAge disables staleness.
func NewStore(dir string, maxAge time.Duration, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:    dir,
		maxAge: maxAge,
		logger: logger.With("component", "disk_cache", "dir", dir),
	}
	monitoring.UpdateCacheSize(tracing.CacheTypeDisk, s.Count())
	return s, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path an entry for key is stored at.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+fileSuffix)
}

// Read returns the payload stored under key, or ErrMiss.
func (s *Store) Read(key string) ([]byte, error) {
	path := s.Path(key)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		monitoring.RecordCacheMiss(tracing.CacheTypeDisk)
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("stat cache entry: %w", err)
	}

	if info.Size() == 0 {
		s.logger.Warn("removing empty cache entry", "key", key)
		s.Delete(key)
		monitoring.RecordCacheMiss(tracing.CacheTypeDisk)
		return nil, ErrMiss
	}
	if s.maxAge > 0 && time.Since(info.ModTime()) > s.maxAge {
		s.logger.Info("removing stale cache entry", "key", key, "age", time.Since(info.ModTime()).Round(time.Second))
		s.Delete(key)
		monitoring.RecordCacheMiss(tracing.CacheTypeDisk)
		return nil, ErrMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	monitoring.RecordCacheHit(tracing.CacheTypeDisk)
	s.logger.Debug("cache hit", "key", key, "bytes", len(data))
	return data, nil
}

// Write stores data under key atomically.
func (s *Store) Write(key string, data []byte) error {
	if len(data) == 0 {
		return errors.New("refusing to cache empty payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// no-op once renamed
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		return fmt.Errorf("rename cache entry: %w", err)
	}

	monitoring.UpdateCacheSize(tracing.CacheTypeDisk, s.countLocked())
	s.logger.Debug("cache entry written", "key", key, "bytes", len(data))
	return nil
}

// Delete removes the entry for key if present.
func (s *Store) Delete(key string) {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove cache entry", "key", key, "error", err)
	}
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *Store) countLocked() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			n++
		}
	}
	return n
}
