// Package config 載入服務配置：先讀 YAML 檔，再以環境變數覆蓋
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port           int           `yaml:"port" env:"SERVER_PORT"`
		ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
		WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
		IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
		AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
		Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB           int           `yaml:"db" env:"REDIS_DB"`
		PoolSize     int           `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
		MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`
		MaxRetries   int           `yaml:"max_retries" env:"REDIS_MAX_RETRIES"`
		DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
		ReadTimeout  time.Duration `yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`
		WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
	} `yaml:"redis"`

	Store struct {
		RoomTTL          time.Duration `yaml:"room_ttl" env:"ROOM_TTL"`
		CodeLength       int           `yaml:"code_length" env:"ROOM_CODE_LENGTH"`
		MaxPlayers       int           `yaml:"max_players" env:"MAX_PLAYERS_PER_ROOM"`
		FallbackToMemory bool          `yaml:"fallback_to_memory" env:"STORE_FALLBACK_TO_MEMORY"`
		JanitorInterval  time.Duration `yaml:"janitor_interval" env:"STORE_JANITOR_INTERVAL"`
	} `yaml:"store"`

	WS struct {
		PingInterval   time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
		PongWait       time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT"`
		WriteWait      time.Duration `yaml:"write_wait" env:"WS_WRITE_WAIT"`
		SendBuffer     int           `yaml:"send_buffer" env:"WS_SEND_BUFFER"`
		MaxMessageSize int64         `yaml:"max_message_size" env:"WS_MAX_MESSAGE_SIZE"`
		RateBurst      int64         `yaml:"rate_burst" env:"WS_RATE_BURST"`
		RatePerSecond  int64         `yaml:"rate_per_second" env:"WS_RATE_PER_SECOND"`
	} `yaml:"ws"`

	Events struct {
		NATSURL       string `yaml:"nats_url" env:"NATS_URL"` // 空白時不發布事件
		SubjectPrefix string `yaml:"subject_prefix" env:"EVENTS_SUBJECT_PREFIX"`
	} `yaml:"events"`

	Log struct {
		Level     string `yaml:"level" env:"LOG_LEVEL"`
		Format    string `yaml:"format" env:"LOG_FORMAT"`
		Backend   string `yaml:"backend" env:"LOG_BACKEND"`
		Output    string `yaml:"output" env:"LOG_OUTPUT"`
		AddSource bool   `yaml:"add_source" env:"LOG_ADD_SOURCE"`
	} `yaml:"log"`
}

// Default 返回預設配置
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.AllowedOrigins = []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3000",
	}

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.MaxRetries = 3
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.Store.RoomTTL = time.Hour
	cfg.Store.CodeLength = 6
	cfg.Store.MaxPlayers = 6
	cfg.Store.FallbackToMemory = true
	cfg.Store.JanitorInterval = time.Minute

	cfg.WS.PingInterval = 54 * time.Second
	cfg.WS.PongWait = 60 * time.Second
	cfg.WS.WriteWait = 10 * time.Second
	cfg.WS.SendBuffer = 256
	cfg.WS.MaxMessageSize = 1 << 20
	cfg.WS.RateBurst = 120
	cfg.WS.RatePerSecond = 60

	cfg.Events.SubjectPrefix = "gesturehub.rooms"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Backend = "std"
	cfg.Log.Output = "stdout"

	return cfg
}

// Load 載入配置
//
// 順序：預設值 → YAML 檔（path 為空或檔案不存在則略過）→ 環境變數
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查配置合法性
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Store.RoomTTL <= 0 {
		errs = append(errs, errors.New("store.room_ttl must be positive"))
	}
	if c.Store.CodeLength < 4 {
		errs = append(errs, fmt.Errorf("store.code_length too short: %d", c.Store.CodeLength))
	}
	if c.Store.MaxPlayers < 2 {
		errs = append(errs, fmt.Errorf("store.max_players must be at least 2: %d", c.Store.MaxPlayers))
	}
	if c.WS.PingInterval <= 0 || c.WS.PongWait <= c.WS.PingInterval {
		errs = append(errs, errors.New("ws.pong_wait must be greater than ws.ping_interval"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	switch c.Log.Backend {
	case "std", "zap":
	default:
		errs = append(errs, fmt.Errorf("log.backend must be std or zap: %q", c.Log.Backend))
	}
	return errors.Join(errs...)
}
