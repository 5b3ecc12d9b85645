package room

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryBackend 記憶體儲存（降級模式）
//
// 行為與 RedisBackend 一致，包含 TTL：讀取時忽略已過期的鍵，
// 背景 janitor 定期清除過期鍵，並把已消失的房間代碼從 active_rooms 移除。
// 行程重啟即遺失全部資料。
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
	logger  *slog.Logger

	janitorInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

type memEntry struct {
	value     []byte
	set       map[string]struct{}
	expiresAt time.Time // 零值代表不過期
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption 記憶體儲存選項
type MemoryOption func(*MemoryBackend)

// WithClock 注入時鐘（測試用）
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// WithJanitor 啟動定期清理，interval <= 0 時不啟動
func WithJanitor(interval time.Duration) MemoryOption {
	return func(b *MemoryBackend) { b.janitorInterval = interval }
}

// NewMemoryBackend 創建記憶體儲存
func NewMemoryBackend(logger *slog.Logger, opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]*memEntry),
		now:     time.Now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.janitorInterval > 0 {
		b.wg.Add(1)
		go b.janitorLoop(b.janitorInterval)
	}
	return b
}

// lookup 取得未過期的項目，需持有鎖
func (b *MemoryBackend) lookup(key string) (*memEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(b.now()) {
		delete(b.entries, key)
		return nil, false
	}
	return e, true
}

func (b *MemoryBackend) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(ttl)
}

// Get 讀取值
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok || e.value == nil {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(e.value), nil
}

// Set 寫入值
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = &memEntry{value: slices.Clone(value), expiresAt: b.deadline(ttl)}
	return nil
}

// SetNX 鍵不存在時寫入
func (b *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lookup(key); ok {
		return false, nil
	}
	b.entries[key] = &memEntry{value: slices.Clone(value), expiresAt: b.deadline(ttl)}
	return true, nil
}

// Delete 刪除鍵
func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.entries, k)
	}
	return nil
}

// Exists 檢查鍵是否存在
func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.lookup(key)
	return ok, nil
}

// Expire 刷新 TTL，鍵不存在時無動作
func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.lookup(key); ok {
		e.expiresAt = b.deadline(ttl)
	}
	return nil
}

// SAdd 加入集合
func (b *MemoryBackend) SAdd(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok {
		e = &memEntry{set: make(map[string]struct{})}
		b.entries[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

// SRem 從集合移除，集合清空時刪除鍵（與 Redis 相同）
func (b *MemoryBackend) SRem(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(b.entries, key)
	}
	return nil
}

// SMembers 返回排序後的集合成員
func (b *MemoryBackend) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

// Ping 記憶體儲存永遠可用
func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Close 停止 janitor 並清空資料
func (b *MemoryBackend) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()

	b.mu.Lock()
	clear(b.entries)
	b.mu.Unlock()
	return nil
}

// Mode 儲存模式
func (b *MemoryBackend) Mode() string { return "memory" }

// Sweep 執行一次清理（公開方法供測試使用）
func (b *MemoryBackend) Sweep() int {
	return b.sweep()
}

func (b *MemoryBackend) janitorLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := b.sweep(); n > 0 {
				b.logger.Debug("memory store swept expired keys", "count", n)
			}
		case <-b.stopCh:
			return
		}
	}
}

// sweep 清除過期鍵，返回清除數量
func (b *MemoryBackend) sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for k, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, k)
			removed++
		}
	}

	// Redis 不會自動清理集合中的成員，這裡順便修剪 active_rooms
	if active, ok := b.entries[activeRoomsKey]; ok {
		for code := range active.set {
			if _, alive := b.entries[roomKey(code)]; !alive {
				delete(active.set, code)
			}
		}
		if len(active.set) == 0 {
			delete(b.entries, activeRoomsKey)
		}
	}

	return removed
}

// Keys 返回符合前綴的存活鍵（除錯與測試用）
func (b *MemoryBackend) Keys(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var out []string
	for k, e := range b.entries {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
