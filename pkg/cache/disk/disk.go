// Package disk implements cache.Store as one JSON file per fingerprint.
//
// Every write goes to a temporary file in the same directory and is made
// visible with a single rename, so readers in any process see either the old
// entry or the complete new one. No locks are taken.
package disk

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/parley/pkg/cache"
	"github.com/pario-ai/parley/pkg/models"
)

const (
	entryExt  = ".json"
	tmpExt    = ".tmp"
	envelopeV = 1

	// temp files older than this are assumed abandoned by a crashed writer.
	staleTmpAge = time.Hour
)

// envelope is the on-disk form of an entry.
type envelope struct {
	Version     int       `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	ProviderID  string    `json:"provider_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Checksum    string    `json:"checksum"`
	Payload     []byte    `json:"payload"`
}

func checksum(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// Store is a directory of cache entries.
type Store struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if needed) a store in dir. An empty dir uses
// DefaultDir; ttl <= 0 uses cache.DefaultTTL.
func New(dir string, ttl time.Duration, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache directory: %w", cache.ErrUnavailable, err)
	}
	s := &Store{dir: dir, ttl: ttl, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// DefaultDir returns $XDG_CACHE_HOME/parley, falling back to ~/.cache/parley.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "parley")
	}
	return filepath.Join(os.TempDir(), "parley-cache")
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(fp string) string {
	return filepath.Join(s.dir, fp+entryExt)
}

// Get returns the entry for fp. Missing, expired, or undecodable files are
// reported as absent; only I/O failures return an error. Nothing is deleted
// on read because a concurrent writer may be replacing the file.
func (s *Store) Get(fp string) (models.CacheEntry, bool, error) {
	entry, ok, err := s.read(fp)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return entry, ok, err
}

// Peek is Get without touching the hit and miss counters.
func (s *Store) Peek(fp string) (models.CacheEntry, bool, error) {
	return s.read(fp)
}

func (s *Store) read(fp string) (models.CacheEntry, bool, error) {
	if !cache.ValidFingerprint(fp) {
		return models.CacheEntry{}, false, fmt.Errorf("invalid fingerprint %q", fp)
	}

	data, err := os.ReadFile(s.path(fp))
	if errors.Is(err, fs.ErrNotExist) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}

	env, err := decode(data)
	if err != nil || env.Fingerprint != fp {
		s.logger.Debug("ignoring unreadable cache entry", zap.String("fingerprint", fp), zap.Error(err))
		return models.CacheEntry{}, false, nil
	}

	entry := env.entry()
	if entry.Expired(s.now()) {
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put writes payload under fp. A ttl <= 0 uses the store default.
func (s *Store) Put(fp, providerID string, payload []byte, ttl time.Duration) error {
	if !cache.ValidFingerprint(fp) {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	if payload == nil {
		payload = []byte{}
	}

	now := s.now().UTC()
	data, err := json.Marshal(envelope{
		Version:     envelopeV,
		Fingerprint: fp,
		ProviderID:  providerID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Checksum:    checksum(payload),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := s.writeAtomic(fp, data); err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) writeAtomic(fp string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, "."+fp+"-*"+tmpExt)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path(fp)); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Clear removes entries whose age exceeds olderThan, or every entry when
// olderThan <= 0. Files that cannot be decoded are aged by mtime.
func (s *Store) Clear(olderThan time.Duration) (int, error) {
	now := s.now()
	removed := 0
	err := s.walk(func(path string, info fs.FileInfo, env *envelope) error {
		created := info.ModTime()
		if env != nil {
			created = env.CreatedAt
		}
		if olderThan > 0 && now.Sub(created) <= olderThan {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: clearing cache: %w", cache.ErrUnavailable, err)
	}
	return removed, nil
}

// Compact removes expired and undecodable entries and temp files left by
// crashed writers. It returns the number of files removed. A concurrent Put
// of an expired fingerprint may lose its fresh entry; the next read simply
// misses.
func (s *Store) Compact() (int, error) {
	now := s.now()
	removed := 0
	err := s.walk(func(path string, _ fs.FileInfo, env *envelope) error {
		if env != nil && !env.entry().Expired(now) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: compacting cache: %w", cache.ErrUnavailable, err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return removed, fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), tmpExt) {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) < staleTmpAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cache compacted", zap.Int("removed", removed), zap.String("dir", s.dir))
	}
	return removed, nil
}

// Stats scans the directory and returns its summary together with this
// process's hit and miss counters.
func (s *Store) Stats() (models.CacheStats, error) {
	now := s.now()
	stats := models.CacheStats{
		Dir:    s.dir,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	err := s.walk(func(_ string, info fs.FileInfo, env *envelope) error {
		stats.Entries++
		stats.TotalBytes += info.Size()

		created := info.ModTime()
		if env != nil {
			created = env.CreatedAt
			if env.entry().Expired(now) {
				stats.Expired++
			}
		}
		if stats.Oldest.IsZero() || created.Before(stats.Oldest) {
			stats.Oldest = created
		}
		if created.After(stats.Newest) {
			stats.Newest = created
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%w: cache stats: %w", cache.ErrUnavailable, err)
	}
	return stats, nil
}

// walk calls fn for every committed entry file. env is nil when the file
// cannot be decoded. Files removed between listing and reading are skipped.
func (s *Store) walk(fn func(path string, info fs.FileInfo, env *envelope) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entryExt) {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		var env *envelope
		if e, err := decode(data); err == nil {
			env = &e
		}
		if err := fn(path, info, env); err != nil {
			return err
		}
	}
	return nil
}

func decode(data []byte) (envelope, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decoding entry: %w", err)
	}
	if env.Version != envelopeV {
		return envelope{}, fmt.Errorf("unsupported entry version %d", env.Version)
	}
	if checksum(env.Payload) != env.Checksum {
		return envelope{}, errors.New("payload checksum mismatch")
	}
	return env, nil
}

func (e envelope) entry() models.CacheEntry {
	return models.CacheEntry{
		Fingerprint: e.Fingerprint,
		ProviderID:  e.ProviderID,
		Payload:     e.Payload,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
		SizeBytes:   int64(len(e.Payload)),
	}
}
