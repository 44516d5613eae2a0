package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_PutAndGet(t *testing.T) {
	c := New[string](Config{MaxSize: 10})

	c.Put("k", "v")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.Equal(t, 1, c.Size())
}

func TestCache_GetMissing(t *testing.T) {
	c := New[int](Config{})

	got, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestCache_ExpiredEntry(t *testing.T) {
	c := New[string](Config{MaxSize: 10})

	c.PutWithTTL("k", "v", 100*time.Millisecond)

	_, ok := c.Get("k")
	require.True(t, ok, "entry should exist immediately")
	require.Equal(t, 1, c.Size())

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "entry should be expired")
	assert.Equal(t, 0, c.Size(), "expired entry should be removed on access")
}

func TestCache_ExpiryUsesClock(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Config{DefaultTTL: time.Second}, WithClock(clock.Now))

	c.Put("k", "v")

	clock.Advance(time.Second)
	assert.True(t, c.Contains("k"), "age equal to ttl is not expired")

	clock.Advance(time.Millisecond)
	assert.False(t, c.Contains("k"))
	assert.Equal(t, 0, c.Size())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Config{}, WithClock(clock.Now))

	c.PutWithTTL("k", "v", 0)
	clock.Advance(1000 * time.Hour)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_Overwrite(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Config{DefaultTTL: time.Minute}, WithClock(clock.Now))

	c.Put("k", "old")
	clock.Advance(50 * time.Second)
	c.Put("k", "new")
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok, "overwrite should reset the entry age")
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Size())
}

func TestCache_EvictsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Config{MaxSize: 3}, WithClock(clock.Now))

	c.PutWithTTL("a", 1, 0)
	c.PutWithTTL("short", 2, time.Second)
	c.PutWithTTL("b", 3, 0)
	clock.Advance(2 * time.Second)

	c.Put("c", 4)

	assert.Equal(t, 3, c.Size())
	assert.True(t, c.Contains("a"), "live entries survive when expiry frees room")
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.False(t, c.Contains("short"))
}

func TestCache_EvictsOldestTenPercent(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Config{MaxSize: 20}, WithClock(clock.Now))

	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("k%02d", i), i)
		clock.Advance(time.Millisecond)
	}

	c.Put("new", 99)

	// 10% of 20 entries are evicted, then one inserted.
	assert.Equal(t, 19, c.Size())
	assert.False(t, c.Contains("k00"))
	assert.False(t, c.Contains("k01"))
	assert.True(t, c.Contains("k02"))
	assert.True(t, c.Contains("new"))
}

func TestCache_EvictsAtLeastOne(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Config{MaxSize: 2}, WithClock(clock.Now))

	c.Put("a", 1)
	clock.Advance(time.Millisecond)
	c.Put("b", 2)
	clock.Advance(time.Millisecond)
	c.Put("c", 3)

	assert.Equal(t, 2, c.Size())
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestCache_EvictionTieBreaksByKey(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Config{MaxSize: 3}, WithClock(clock.Now))

	c.Put("z", 1)
	c.Put("m", 2)
	c.Put("a", 3)
	c.Put("new", 4)

	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("m"))
	assert.True(t, c.Contains("z"))
}

func TestCache_Remove(t *testing.T) {
	c := New[string](Config{})
	c.Put("k", "v")

	assert.True(t, c.Remove("k"))
	assert.False(t, c.Remove("k"))
	assert.Equal(t, 0, c.Size())
}

func TestCache_Clear(t *testing.T) {
	c := New[string](Config{})
	c.Put("a", "1")
	c.Put("b", "2")

	c.Clear()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_CleanupExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Config{}, WithClock(clock.Now))

	c.PutWithTTL("a", "1", time.Second)
	c.PutWithTTL("b", "2", time.Second)
	c.PutWithTTL("c", "3", time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 3, c.Size(), "expiry is lazy")
	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, c.CleanupExpired())
}

func TestCache_Metrics(t *testing.T) {
	m := NewMetrics()
	require.Same(t, m, NewMetrics(), "metrics are registered once")

	c := New[string](Config{MaxSize: 1, Name: "test_metrics"}, WithMetrics(m))
	c.Put("a", "1")
	c.Get("a")
	c.Get("missing")
	c.Put("b", "2")
	assert.Equal(t, 1, c.Size())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](Config{MaxSize: 50, DefaultTTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", id, j%20)
				c.Put(key, j)
				c.Get(key)
				c.Contains(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}

func TestTextKey(t *testing.T) {
	assert.Equal(t, TextKey("hello world"), TextKey("hello world"))
	assert.NotEqual(t, TextKey("hello world"), TextKey("Hello world"))
	// sha256("") is well known.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", TextKey(""))
}

func TestEmbeddingCache(t *testing.T) {
	c := NewEmbeddingCache(10)

	vec := []float32{0.1, 0.2, 0.3}
	c.Put("hello world", vec)
	vec[0] = 9

	got, ok := c.Get("hello world")
	require.True(t, ok, "identical text must hit")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got, "cache keeps its own copy")

	_, ok = c.Get("hello  world")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}
