// Package cache defines the content-addressed response cache contract and
// the fingerprint used as its key.
package cache

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/parley/pkg/models"
)

// DefaultTTL is the lifetime of an entry written with ttl <= 0.
const DefaultTTL = 24 * time.Hour

// ErrUnavailable wraps I/O failures of the backing store. Absence of an
// entry is never an error.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a TTL cache of provider responses keyed by fingerprint.
type Store interface {
	// Get returns the entry for fp. Expired or unreadable entries are absent.
	Get(fp string) (models.CacheEntry, bool, error)
	// Put makes payload visible under fp atomically.
	Put(fp, providerID string, payload []byte, ttl time.Duration) error
	// Clear removes entries older than olderThan (all when <= 0).
	Clear(olderThan time.Duration) (int, error)
	// Stats summarizes the store.
	Stats() (models.CacheStats, error)
}

// Peeker is implemented by stores that can look up an entry without
// counting it as a hit or miss.
type Peeker interface {
	Peek(fp string) (models.CacheEntry, bool, error)
}

// bump when the fingerprint encoding changes.
const fingerprintVersion = "parley/v1"

// Fingerprint returns the hex SHA-256 cache key for prompt sent to
// providerID running model with opts. The prompt is normalized first so
// line ending and trailing whitespace differences map to the same key.
func Fingerprint(prompt, providerID, model string, opts models.Options) string {
	focus := opts.Focus
	if focus == "" {
		focus = models.FocusGeneral
	}

	h := sha256.New()
	writeField(h, "version", fingerprintVersion)
	writeField(h, "provider", providerID)
	writeField(h, "model", model)
	writeField(h, "focus", string(focus))
	writeField(h, "system", opts.SystemPrompt)
	writeField(h, "max_tokens", strconv.Itoa(opts.MaxTokens))
	writeField(h, "temperature", strconv.FormatFloat(opts.Temperature, 'g', -1, 64))
	writeField(h, "prompt", NormalizePrompt(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// length-prefixed so no field value can forge a boundary.
func writeField(h hash.Hash, name, value string) {
	fmt.Fprintf(h, "%s=%d:%s\n", name, len(value), value)
}

// NormalizePrompt unifies line endings, strips trailing whitespace on every
// line, and drops leading and trailing blank lines.
func NormalizePrompt(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

// ValidFingerprint reports whether fp looks like a Fingerprint result. Stores
// use it to keep keys from escaping their directory.
func ValidFingerprint(fp string) bool {
	if len(fp) != sha256.Size*2 {
		return false
	}
	for _, c := range fp {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
