package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/protocol"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
)

// HeaderPlayerID 創建或加入房間後，回應中帶回分配給呼叫者的玩家 ID
const HeaderPlayerID = "X-Player-ID"

// Handler HTTP 請求處理器
type Handler struct {
	rooms      *room.Service
	registry   *hub.Registry
	dispatcher *protocol.Dispatcher
	logger     *slog.Logger
	startedAt  time.Time
}

// 請求結構
type createRoomRequest struct {
	Username   string `json:"username"`
	MaxPlayers int    `json:"max_players"`
}

type joinRoomRequest struct {
	RoomCode string `json:"room_code"`
	Username string `json:"username"`
	PlayerID string `json:"player_id,omitempty"` // 帶入既有 ID 可重新加入
}

// createRoom 創建房間，呼叫者成為房主
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "username is required"))
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = h.rooms.MaxPlayers()
	}

	playerID := uuid.NewString()
	rm, err := h.rooms.CreateRoom(r.Context(), playerID, req.Username, req.MaxPlayers)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	w.Header().Set(HeaderPlayerID, playerID)
	h.jsonResponse(w, rm, http.StatusCreated)
}

// joinRoom 加入房間
func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	req.RoomCode = strings.ToUpper(strings.TrimSpace(req.RoomCode))
	req.Username = strings.TrimSpace(req.Username)
	if req.RoomCode == "" || req.Username == "" {
		h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "room_code and username are required"))
		return
	}

	playerID := req.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}

	rm, err := h.rooms.JoinRoom(r.Context(), req.RoomCode, playerID, req.Username)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	w.Header().Set(HeaderPlayerID, playerID)
	h.jsonResponse(w, rm, http.StatusOK)
}

// getRoom 房間詳情
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "room_code"))

	rm, err := h.rooms.GetRoom(r.Context(), code)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, rm, http.StatusOK)
}

// listRooms 存活的房間代碼
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	codes, err := h.rooms.ListActiveRooms(r.Context())
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	if codes == nil {
		codes = []string{}
	}
	h.jsonResponse(w, codes, http.StatusOK)
}

// leaveRoom 離開房間，並通知仍在線上的其他玩家
func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "room_code"))
	playerID := chi.URLParam(r, "player_id")

	res, err := h.rooms.LeaveRoom(r.Context(), code, playerID)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	if res.Removed {
		data := map[string]any{
			"player_id": playerID,
			"room_code": code,
		}
		if res.NewHostID != "" {
			data["new_host_id"] = res.NewHostID
		}
		h.registry.Broadcast(code, hub.Envelope{Type: protocol.TypePlayerLeft, Data: data}, playerID)
	}

	h.jsonResponse(w, map[string]any{
		"message": "Left room successfully",
		"room":    res.Room,
	}, http.StatusOK)
}

// root 服務資訊
func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"message": "Welcome to GestureHub API",
		"version": "1.0.0",
	}, http.StatusOK)
}

// health 健康檢查，儲存不可用時返回 503
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{
		"status": "healthy",
		"store":  h.rooms.Mode(),
		"time":   time.Now().Unix(),
	}
	if err := h.rooms.Ping(ctx); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		h.jsonResponse(w, body, http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, body, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"store":       h.rooms.Mode(),
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"connections": h.registry.Stats(),
		"messages":    h.dispatcher.Stats(),
	}, http.StatusOK)
}
