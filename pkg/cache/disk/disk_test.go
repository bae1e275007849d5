package disk

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/parley/pkg/cache"
	"github.com/pario-ai/parley/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(t.TempDir(), 0, WithClock(clock.Now), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return s, clock
}

func fp(s string) string {
	return cache.Fingerprint(s, "gpt", "gpt-4o", models.Options{})
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	for _, size := range []int{0, 1, 1024, 1 << 20} {
		key := fp(fmt.Sprintf("size-%d", size))
		payload := bytes.Repeat([]byte{'x'}, size)
		require.NoError(t, s.Put(key, "gpt", payload, time.Hour))

		got, ok, err := s.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "size %d", size)
		assert.Len(t, got.Payload, size)
		assert.True(t, bytes.Equal(payload, got.Payload))
		assert.Equal(t, int64(size), got.SizeBytes)
		assert.Equal(t, "gpt", got.ProviderID)
		assert.Equal(t, key, got.Fingerprint)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.Get(fp("nothing"))
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestTTLExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	key := fp("short")
	require.NoError(t, s.Put(key, "gpt", []byte("v"), time.Second))

	_, ok, _ := s.Get(key)
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	// lazy expiry leaves the file in place
	_, err = os.Stat(filepath.Join(s.Dir(), key+".json"))
	assert.NoError(t, err)
}

func TestDefaultTTL(t *testing.T) {
	s, clock := newTestStore(t)
	key := fp("default")
	require.NoError(t, s.Put(key, "gpt", []byte("v"), 0))

	got, ok, _ := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, cache.DefaultTTL, got.ExpiresAt.Sub(got.CreatedAt))

	clock.Advance(23 * time.Hour)
	_, ok, _ = s.Get(key)
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok, _ = s.Get(key)
	assert.False(t, ok)
}

func TestInterruptedWriteKeepsCommittedEntry(t *testing.T) {
	s, _ := newTestStore(t)
	key := fp("crash")
	require.NoError(t, s.Put(key, "gpt", []byte("committed"), time.Hour))

	// A writer that crashed after writing half of its temp file.
	tmp, err := os.CreateTemp(s.Dir(), "."+key+"-*.tmp")
	require.NoError(t, err)
	_, err = tmp.WriteString(`{"version":1,"fingerprint":"` + key + `","payl`)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "committed", string(got.Payload))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestTruncatedEntryIsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	key := fp("truncated")
	require.NoError(t, s.Put(key, "gpt", []byte("some payload"), time.Hour))

	path := filepath.Join(s.Dir(), key+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o644))

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTamperedPayloadIsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	key := fp("tampered")
	require.NoError(t, s.Put(key, "gpt", []byte("original"), time.Hour))

	path := filepath.Join(s.Dir(), key+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// "original" base64 is b3JpZ2luYWw=
	tampered := strings.Replace(string(data), "b3JpZ2luYWw=", "Y2hhbmdlZA==", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentWritersSameFingerprint(t *testing.T) {
	dir := t.TempDir()
	// Two stores on one directory stand in for two processes.
	a, err := New(dir, time.Hour)
	require.NoError(t, err)
	b, err := New(dir, time.Hour)
	require.NoError(t, err)

	key := fp("race")
	const size = 256 << 10
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := a
			if i%2 == 1 {
				store = b
			}
			payload := bytes.Repeat([]byte{byte('a' + i)}, size)
			assert.NoError(t, store.Put(key, "gpt", payload, time.Hour))
		}(i)
	}
	wg.Wait()

	got, ok, err := a.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Payload, size)
	first := got.Payload[0]
	assert.Equal(t, size, bytes.Count(got.Payload, []byte{first}), "entry must not be interleaved")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestClearOlderThan(t *testing.T) {
	s, clock := newTestStore(t)
	require.NoError(t, s.Put(fp("old"), "gpt", []byte("1"), 48*time.Hour))
	clock.Advance(3 * time.Hour)
	require.NoError(t, s.Put(fp("new"), "gpt", []byte("2"), 48*time.Hour))
	clock.Advance(time.Hour)

	n, err := s.Clear(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := s.Get(fp("old"))
	assert.False(t, ok)
	_, ok, _ = s.Get(fp("new"))
	assert.True(t, ok)

	n, err = s.Clear(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClearCorruptFileUsesMtime(t *testing.T) {
	s, _ := newTestStore(t)
	path := filepath.Join(s.Dir(), fp("junk")+".json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, old, old))

	n, err := s.Clear(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCompact(t *testing.T) {
	s, clock := newTestStore(t)
	require.NoError(t, s.Put(fp("expiring"), "gpt", []byte("1"), time.Minute))
	require.NoError(t, s.Put(fp("fresh"), "gpt", []byte("2"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), fp("junk")+".json"), []byte("{"), 0o644))

	stale := filepath.Join(s.Dir(), "."+fp("x")+"-123.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	longAgo := clock.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, longAgo, longAgo))

	clock.Advance(2 * time.Minute)
	n, err := s.Compact()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok, _ := s.Get(fp("fresh"))
	assert.True(t, ok)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestStats(t *testing.T) {
	s, clock := newTestStore(t)
	start := clock.Now()
	require.NoError(t, s.Put(fp("a"), "gpt", []byte("aaaa"), time.Minute))
	clock.Advance(10 * time.Minute)
	require.NoError(t, s.Put(fp("b"), "gpt", []byte("bb"), time.Hour))

	_, _, _ = s.Get(fp("b"))
	_, _, _ = s.Get(fp("a"))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, s.Dir(), stats.Dir)
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Positive(t, stats.TotalBytes)
	assert.True(t, stats.Oldest.Equal(start))
	assert.True(t, stats.Newest.Equal(start.Add(10*time.Minute)))
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestPeekLeavesCountersAlone(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Put(fp("a"), "gpt", []byte("aaaa"), time.Hour))

	got, ok, err := s.Peek(fp("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("aaaa"), got.Payload)

	_, ok, err = s.Peek(fp("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestInvalidFingerprintRejected(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Put("../escape", "gpt", []byte("x"), time.Hour))
	_, _, err := s.Get("../escape")
	assert.Error(t, err)
}

func TestDefaultDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "parley"), DefaultDir())
}
