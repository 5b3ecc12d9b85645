package room

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound 鍵不存在或已過期
var ErrKeyNotFound = errors.New("key not found")

// Backend 房間儲存的能力介面
//
// 兩種實作：RedisBackend（持久、TTL 由 Redis 處理）與 MemoryBackend
// （Redis 不可用時的降級模式，資料隨行程消失）。Service 只依賴這個介面。
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX 只在鍵不存在時寫入，返回是否寫入成功
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
	// Mode 返回 "redis" 或 "memory"
	Mode() string
}
