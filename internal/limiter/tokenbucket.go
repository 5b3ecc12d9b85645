// Package limiter 限制每條連線的訊息速率
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶
//
// 桶容量決定可容忍的突發訊息數，填充速率決定長期平均速率。
// 初始化時桶是滿的。
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒填充的令牌數
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 建立令牌桶，capacity 或 refillRate <= 0 時返回 nil（不限流）
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

// NewTokenBucketWithClock 建立使用指定時鐘的令牌桶（測試用）
func NewTokenBucketWithClock(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return newTokenBucket(capacity, refillRate, now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	if capacity <= 0 || refillRate <= 0 {
		return nil
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow 嘗試取出一個令牌；nil 的桶永遠允許
func (tb *TokenBucket) Allow() bool {
	if tb == nil {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 返回當前令牌數（取整，用於監控）
func (tb *TokenBucket) Tokens() int64 {
	if tb == nil {
		return 0
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return int64(tb.tokens)
}
