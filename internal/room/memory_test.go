package room_test

import (
	"context"
	"testing"
	"time"

	"github.com/koopa0/system-design/gesturehub/internal/room"
	"github.com/koopa0/system-design/gesturehub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryBackend_KeyValue 測試基本讀寫與 TTL
func TestMemoryBackend_KeyValue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := room.NewMemoryBackend(testutils.Logger(), room.WithClock(clock.Now))
	defer b.Close()

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, room.ErrKeyNotFound)

	require.NoError(t, b.Set(ctx, "k", []byte("v1"), time.Minute))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	ok, err := b.SetNX(ctx, "k", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Minute)
	exists, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists, "key should expire exactly at its deadline")

	ok, err = b.SetNX(ctx, "k", []byte("v2"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// ttl <= 0 不過期
	clock.Advance(24 * time.Hour)
	got, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, b.Delete(ctx, "k", "missing"))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, room.ErrKeyNotFound)
}

// TestMemoryBackend_Expire 測試刷新 TTL
func TestMemoryBackend_Expire(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := room.NewMemoryBackend(testutils.Logger(), room.WithClock(clock.Now))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, b.Expire(ctx, "k", time.Minute))
	clock.Advance(50 * time.Second)

	exists, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	// 不存在的鍵不會被建立
	require.NoError(t, b.Expire(ctx, "missing", time.Minute))
	exists, err = b.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestMemoryBackend_Sets 測試集合操作
func TestMemoryBackend_Sets(t *testing.T) {
	ctx := context.Background()
	b := room.NewMemoryBackend(testutils.Logger())
	defer b.Close()

	members, err := b.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, b.SAdd(ctx, "s", "b", "a", "b"))
	members, err = b.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, b.SRem(ctx, "s", "a", "b"))
	exists, err := b.Exists(ctx, "s")
	require.NoError(t, err)
	assert.False(t, exists, "empty set is removed like redis does")

	// 值與集合不共用
	_, err = b.Get(ctx, "s")
	assert.ErrorIs(t, err, room.ErrKeyNotFound)
}

// TestMemoryBackend_Sweep 測試清理過期鍵並修剪 active_rooms
func TestMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	b := room.NewMemoryBackend(testutils.Logger(), room.WithClock(clock.Now))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "room:AAAAAA", []byte("{}"), time.Minute))
	require.NoError(t, b.Set(ctx, "room:BBBBBB", []byte("{}"), time.Hour))
	require.NoError(t, b.SAdd(ctx, "active_rooms", "AAAAAA", "BBBBBB"))

	assert.Equal(t, 0, b.Sweep())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, b.Sweep())

	assert.Equal(t, []string{"room:BBBBBB"}, b.Keys("room:"))
	members, err := b.SMembers(ctx, "active_rooms")
	require.NoError(t, err)
	assert.Equal(t, []string{"BBBBBB"}, members)
}

// TestMemoryBackend_Janitor 測試背景清理
func TestMemoryBackend_Janitor(t *testing.T) {
	ctx := context.Background()
	b := room.NewMemoryBackend(testutils.Logger(), room.WithJanitor(10*time.Millisecond))

	require.NoError(t, b.Set(ctx, "room:CCCCCC", []byte("{}"), 20*time.Millisecond))
	require.NoError(t, b.SAdd(ctx, "active_rooms", "CCCCCC"))

	// 集合成員只會被 janitor 修剪
	assert.Eventually(t, func() bool {
		members, err := b.SMembers(ctx, "active_rooms")
		return err == nil && len(members) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	// 重複關閉是安全的
	require.NoError(t, b.Close())
}

// TestMemoryBackend_Mode 測試模式名稱
func TestMemoryBackend_Mode(t *testing.T) {
	b := room.NewMemoryBackend(testutils.Logger())
	defer b.Close()

	assert.Equal(t, "memory", b.Mode())
	assert.NoError(t, b.Ping(context.Background()))
}
