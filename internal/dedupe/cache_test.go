// ABOUTME: Tests for the idempotency key cache
// ABOUTME: Validates claims, expiry, release, size limits, sweeping, and concurrency safety

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user-1:abc", Key("user-1", "abc"))
	assert.NotEqual(t, Key("user-1", "abc"), Key("user-2", "abc"))
}

func TestCache_ClaimOnce(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	assert.False(t, c.Seen("k"))
	assert.True(t, c.Claim("k"))
	assert.True(t, c.Seen("k"))
	assert.False(t, c.Claim("k"), "second claim inside the window is rejected")
}

func TestCache_ClaimAfterExpiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	assert.True(t, c.Claim("k"))
	clock.Advance(time.Minute)
	assert.False(t, c.Seen("k"))
	assert.True(t, c.Claim("k"), "expired claim can be renewed")
	assert.Equal(t, 1, c.Len())
}

func TestCache_Release(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	assert.True(t, c.Claim("k"))
	c.Release("k")
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Claim("k"))

	// Releasing an unknown key is a no-op.
	c.Release("missing")
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 3)

	for _, k := range []string{"a", "b", "c"} {
		assert.True(t, c.Claim(k))
		clock.Advance(time.Second)
	}
	assert.True(t, c.Claim("d"))

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("b"))
	assert.True(t, c.Seen("d"))
}

func TestCache_RemoveExpired(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Claim("old-1")
	c.Claim("old-2")
	clock.Advance(2 * time.Minute)
	c.Claim("fresh")

	c.removeExpired()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestCache_SweeperRuns(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	c.Claim("k")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCache_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim("same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestNew_DefaultSize(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	assert.Equal(t, 10000, c.maxSize)
}
