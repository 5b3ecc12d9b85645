// GestureHub 伺服器：房間 HTTP API 與遊戲的 WebSocket 即時通道
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/gesturehub/internal/api"
	"github.com/koopa0/system-design/gesturehub/internal/config"
	"github.com/koopa0/system-design/gesturehub/internal/events"
	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/protocol"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	"github.com/koopa0/system-design/gesturehub/internal/ws"
	"github.com/koopa0/system-design/gesturehub/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置檔路徑")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gesturehub: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Backend:   logger.Backend(cfg.Log.Backend),
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.AddSource,
		Service:   "gesturehub",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	backend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("close room store failed", "error", err)
		}
	}()

	publisher := openPublisher(cfg, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("close event publisher failed", "error", err)
		}
	}()

	rooms := room.NewService(backend, room.Options{
		TTL:        cfg.Store.RoomTTL,
		CodeLength: cfg.Store.CodeLength,
		MaxPlayers: cfg.Store.MaxPlayers,
		Events:     publisher,
	}, log)

	registry := hub.NewRegistry(log)
	dispatcher := protocol.NewDispatcher(rooms, registry, protocol.Options{
		RateBurst:     cfg.WS.RateBurst,
		RatePerSecond: cfg.WS.RatePerSecond,
	}, log)

	wsHandler := ws.NewHandler(rooms, dispatcher, ws.Config{
		PingInterval:   cfg.WS.PingInterval,
		PongWait:       cfg.WS.PongWait,
		WriteWait:      cfg.WS.WriteWait,
		SendBuffer:     cfg.WS.SendBuffer,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(api.Deps{
			Rooms:          rooms,
			Registry:       registry,
			Dispatcher:     dispatcher,
			WS:             wsHandler,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         log,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"port", cfg.Server.Port,
			"store", rooms.Mode(),
			"room_ttl", cfg.Store.RoomTTL)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 先停止接受新請求，再關閉既有的 WebSocket 連線
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	registry.Close()
	if err := wsHandler.Wait(shutdownCtx); err != nil {
		log.Warn("websocket sessions did not finish", "error", err)
	}

	log.Info("server stopped")
	return nil
}

// openBackend 連線 Redis；連不上且允許降級時改用行程內儲存
func openBackend(cfg *config.Config, log *slog.Logger) (room.Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err == nil {
		log.Info("connected to redis", "addr", cfg.Redis.Addr)
		return room.NewRedisBackend(client), nil
	}
	_ = client.Close()

	if !cfg.Store.FallbackToMemory {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	log.Warn("redis unavailable, using in-memory room store",
		"addr", cfg.Redis.Addr,
		"error", err)
	return room.NewMemoryBackend(log, room.WithJanitor(cfg.Store.JanitorInterval)), nil
}

// openPublisher 設定 NATS 時發布房間事件，連不上則只記錄警告
func openPublisher(cfg *config.Config, log *slog.Logger) events.Publisher {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}
	}

	p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		log.Warn("nats unavailable, room events disabled",
			"url", cfg.Events.NATSURL,
			"error", err)
		return events.Nop{}
	}

	log.Info("publishing room events", "url", cfg.Events.NATSURL, "prefix", cfg.Events.SubjectPrefix)
	return p
}
