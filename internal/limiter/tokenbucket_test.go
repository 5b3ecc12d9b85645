package limiter_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/gesturehub/internal/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestTokenBucket_Burst 測試突發容量
func TestTokenBucket_Burst(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	tb := limiter.NewTokenBucketWithClock(5, 1, clock.Now)
	require.NotNil(t, tb)

	for i := range 5 {
		assert.True(t, tb.Allow(), "request %d should pass", i)
	}
	assert.False(t, tb.Allow())
	assert.Equal(t, int64(0), tb.Tokens())
}

// TestTokenBucket_Refill 測試令牌填充
func TestTokenBucket_Refill(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		allowed int
	}{
		{name: "half a token is not enough", advance: 50 * time.Millisecond, allowed: 0},
		{name: "one token", advance: 100 * time.Millisecond, allowed: 1},
		{name: "refill capped at capacity", advance: time.Hour, allowed: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &manualClock{now: time.Unix(0, 0)}
			tb := limiter.NewTokenBucketWithClock(3, 10, clock.Now)
			for range 3 {
				require.True(t, tb.Allow())
			}

			clock.Advance(tt.advance)

			got := 0
			for range 10 {
				if tb.Allow() {
					got++
				}
			}
			assert.Equal(t, tt.allowed, got)
		})
	}
}

// TestTokenBucket_FractionalAccumulation 測試小於一個令牌的時間片會累積
func TestTokenBucket_FractionalAccumulation(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	tb := limiter.NewTokenBucketWithClock(1, 10, clock.Now)
	require.True(t, tb.Allow())

	clock.Advance(60 * time.Millisecond)
	assert.False(t, tb.Allow())
	clock.Advance(60 * time.Millisecond)
	assert.True(t, tb.Allow())
}

// TestTokenBucket_Disabled 測試不限流
func TestTokenBucket_Disabled(t *testing.T) {
	tb := limiter.NewTokenBucket(0, 10)
	assert.Nil(t, tb)
	for range 1000 {
		assert.True(t, tb.Allow())
	}
}

// TestTokenBucket_Concurrent 測試並發取令牌不超發
func TestTokenBucket_Concurrent(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	tb := limiter.NewTokenBucketWithClock(100, 1, clock.Now)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tb.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}
