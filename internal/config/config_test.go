package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/gesturehub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault 測試配置的預設值
func TestDefault(t *testing.T) {
	cfg := config.Default()

	t.Run("store defaults", func(t *testing.T) {
		assert.Equal(t, time.Hour, cfg.Store.RoomTTL)
		assert.Equal(t, 6, cfg.Store.CodeLength)
		assert.Equal(t, 6, cfg.Store.MaxPlayers)
		assert.True(t, cfg.Store.FallbackToMemory)
	})

	t.Run("ws defaults", func(t *testing.T) {
		assert.Equal(t, 54*time.Second, cfg.WS.PingInterval)
		assert.Equal(t, 60*time.Second, cfg.WS.PongWait)
		assert.Equal(t, 256, cfg.WS.SendBuffer)
	})

	t.Run("events disabled", func(t *testing.T) {
		assert.Empty(t, cfg.Events.NATSURL)
		assert.Equal(t, "gesturehub.rooms", cfg.Events.SubjectPrefix)
	})

	require.NoError(t, cfg.Validate())
}

// TestLoad_YAMLThenEnv 測試 YAML 與環境變數覆蓋順序
func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  port: 9090
redis:
  addr: "redis.internal:6379"
store:
  room_ttl: 30m
  max_players: 4
log:
  level: debug
  backend: zap
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("REDIS_ADDR", "override:6380")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "override:6380", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Store.RoomTTL)
	assert.Equal(t, 4, cfg.Store.MaxPlayers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "zap", cfg.Log.Backend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "nats://nats:4222", cfg.Events.NATSURL)
	// 未設定的欄位保留預設
	assert.Equal(t, 6, cfg.Store.CodeLength)
}

// TestLoad_MissingFile 測試設定檔不存在時使用預設值
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

// TestValidate 測試配置驗證
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *config.Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "capacity ceiling below two",
			mutate:  func(c *config.Config) { c.Store.MaxPlayers = 1 },
			wantErr: "store.max_players",
		},
		{
			name: "pong wait not longer than ping",
			mutate: func(c *config.Config) {
				c.WS.PingInterval = time.Minute
				c.WS.PongWait = time.Minute
			},
			wantErr: "ws.pong_wait",
		},
		{
			name:    "unknown log backend",
			mutate:  func(c *config.Config) { c.Log.Backend = "logrus" },
			wantErr: "log.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
