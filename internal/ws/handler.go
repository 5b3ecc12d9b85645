// Package ws 提供房間的 WebSocket 端點
//
// 路徑為 /ws/{room_code}/{player_id}。升級前先確認房間存在且玩家在名單內，
// 之後每條連線各有一個讀取與一個寫入 goroutine，訊息交給 protocol 處理。
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/protocol"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
)

// Config 連線參數
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string // 空白或包含 "*" 時不檢查來源
}

// DefaultConfig 預設連線參數
func DefaultConfig() Config {
	return Config{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		SendBuffer:     256,
		MaxMessageSize: 1 << 20,
	}
}

// RoomLookup 升級前檢查房間用
type RoomLookup interface {
	GetRoom(ctx context.Context, code string) (*room.Room, error)
}

// Handler WebSocket 端點
type Handler struct {
	rooms      RoomLookup
	dispatcher *protocol.Dispatcher
	upgrader   websocket.Upgrader
	cfg        Config
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewHandler 創建 WebSocket 端點
func NewHandler(rooms RoomLookup, dispatcher *protocol.Dispatcher, cfg Config, logger *slog.Logger) *Handler {
	h := &Handler{
		rooms:      rooms,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP 驗證房間與玩家後升級連線
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomCode := chi.URLParam(r, "room_code")
	playerID := chi.URLParam(r, "player_id")
	if roomCode == "" || playerID == "" {
		http.Error(w, "room code and player id are required", http.StatusBadRequest)
		return
	}

	rm, err := h.rooms.GetRoom(r.Context(), roomCode)
	switch {
	case apperrors.IsNotFound(err):
		http.Error(w, "room not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("load room failed", "room_code", roomCode, "error", err)
		http.Error(w, "room store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !rm.HasPlayer(playerID) {
		http.Error(w, "player not in room", http.StatusForbidden)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已經寫出錯誤回應
		h.logger.Warn("websocket upgrade failed", "room_code", roomCode, "error", err)
		return
	}

	logger := h.logger.With("room_code", roomCode, "player_id", playerID)
	conn := newConnection(wsConn, h.cfg, logger)

	// 連線的生命週期比請求長，不能沿用請求的取消
	ctx := context.WithoutCancel(r.Context())
	session := h.dispatcher.Connect(ctx, roomCode, playerID, conn)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		conn.writePump()
	}()
	go func() {
		defer h.wg.Done()
		defer func() {
			session.Close(ctx)
			_ = conn.Close()
		}()
		conn.readPump(func(env hub.Envelope) {
			session.Receive(ctx, env)
		})
	}()
}

// Wait 等待所有連線的 goroutine 結束或 ctx 逾時
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}
