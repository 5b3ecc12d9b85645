// Package protocol 處理房間內的即時訊息
//
// 每條連線是一個 Session：連線時登記並通知房間，之後逐一處理收到的訊息，
// 斷線時移除連線、離開房間並通知剩下的玩家。處理過程中的錯誤只影響
// 當次操作，不會中斷連線。
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/koopa0/system-design/gesturehub/internal/game"
	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/limiter"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
	"github.com/koopa0/system-design/gesturehub/pkg/logger"
)

// RoomStore 協定需要的房間操作
type RoomStore interface {
	GetRoom(ctx context.Context, code string) (*room.Room, error)
	SetPlayerReady(ctx context.Context, code, playerID string, ready bool) (*room.Room, error)
	SelectGame(ctx context.Context, code, gameType string, init room.InitFunc) (*room.Room, error)
	MergeGameState(ctx context.Context, code string, fn room.MergeFunc) (*room.Room, bool, error)
	LeaveRoom(ctx context.Context, code, playerID string) (room.LeaveResult, error)
}

// Options 協定選項
type Options struct {
	RateBurst     int64 // 每條連線可突發的訊息數，<= 0 不限流
	RatePerSecond int64
}

// Dispatcher 訊息分派
type Dispatcher struct {
	store    RoomStore
	registry *hub.Registry
	opts     Options
	logger   *slog.Logger

	handled     atomic.Int64
	rateLimited atomic.Int64
	rejected    atomic.Int64
}

// NewDispatcher 創建訊息分派器
func NewDispatcher(store RoomStore, registry *hub.Registry, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Session 單一連線的協定狀態
type Session struct {
	d        *Dispatcher
	roomCode string
	playerID string
	conn     hub.Conn
	limiter  *limiter.TokenBucket
}

// Connect 登記連線，送出連線確認，並通知房間內其他人
func (d *Dispatcher) Connect(ctx context.Context, roomCode, playerID string, conn hub.Conn) *Session {
	ctx = logger.WithSession(ctx, roomCode, playerID)

	d.registry.Register(roomCode, playerID, conn)

	d.registry.SendTo(roomCode, playerID, hub.Envelope{
		Type: TypeConnect,
		Data: map[string]any{
			"player_id": playerID,
			"room_code": roomCode,
			"message":   "Connected successfully",
		},
	})

	d.registry.Broadcast(roomCode, hub.Envelope{
		Type: TypePlayerJoined,
		Data: map[string]any{
			"player_id": playerID,
			"room_code": roomCode,
		},
	}, playerID)

	d.logger.InfoContext(ctx, "player connected")

	return &Session{
		d:        d,
		roomCode: roomCode,
		playerID: playerID,
		conn:     conn,
		limiter:  limiter.NewTokenBucket(d.opts.RateBurst, d.opts.RatePerSecond),
	}
}

// Receive 處理一則收到的訊息，超過速率限制時丟棄
func (s *Session) Receive(ctx context.Context, env hub.Envelope) {
	if !s.limiter.Allow() {
		s.d.rateLimited.Add(1)
		s.d.logger.DebugContext(logger.WithSession(ctx, s.roomCode, s.playerID),
			"message rate limited", "type", env.Type)
		return
	}
	s.d.Handle(ctx, s.roomCode, s.playerID, env)
}

// Close 連線結束
func (s *Session) Close(ctx context.Context) {
	s.d.Disconnect(ctx, s.roomCode, s.playerID, s.conn)
}

// Handle 依訊息類型分派
func (d *Dispatcher) Handle(ctx context.Context, roomCode, playerID string, env hub.Envelope) {
	ctx = logger.WithSession(ctx, roomCode, playerID)
	d.handled.Add(1)

	data := env.Data
	if data == nil {
		data = map[string]any{}
	}

	switch env.Type {
	case TypePlayerReady:
		d.handleReady(ctx, roomCode, playerID, data)
	case TypeGameSelected:
		d.handleGameSelected(ctx, roomCode, data)
	case TypeGameStart:
		d.registry.Broadcast(roomCode, hub.Envelope{Type: TypeGameStart, Data: data})
	case TypeGameStateUpdate:
		d.handleStateUpdate(ctx, roomCode, playerID, data)
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate:
		d.handleRelay(ctx, roomCode, playerID, env.Type, data)
	case TypeChatMessage:
		d.handleChat(ctx, roomCode, playerID, data)
	case TypePing:
		d.registry.SendTo(roomCode, playerID, hub.Envelope{Type: TypePong, Data: map[string]any{}})
	default:
		d.logger.DebugContext(ctx, "unknown message type ignored", "type", env.Type)
	}
}

// Disconnect 移除連線、離開房間並通知剩下的玩家
//
// 以下情況只結束連線，不離開房間：同一玩家已有新的連線，或登記表正在關閉
// （服務停止時保留房間成員）。連線因投遞失敗已被移除時照常離開房間。
func (d *Dispatcher) Disconnect(ctx context.Context, roomCode, playerID string, conn hub.Conn) {
	ctx = logger.WithSession(ctx, roomCode, playerID)

	if !d.registry.UnregisterConn(roomCode, playerID, conn) {
		switch {
		case d.registry.Closing():
			d.logger.DebugContext(ctx, "connection closed during shutdown")
			return
		case d.registry.Connected(roomCode, playerID):
			d.logger.DebugContext(ctx, "stale connection closed")
			return
		}
	}

	data := map[string]any{
		"player_id": playerID,
		"room_code": roomCode,
	}

	res, err := d.store.LeaveRoom(ctx, roomCode, playerID)
	switch {
	case err != nil && !apperrors.IsNotFound(err):
		d.logger.ErrorContext(ctx, "leave room failed", "error", err)
	case err == nil && res.NewHostID != "":
		data["new_host_id"] = res.NewHostID
	}

	d.registry.Broadcast(roomCode, hub.Envelope{Type: TypePlayerLeft, Data: data})

	d.logger.InfoContext(ctx, "player disconnected", "room_deleted", res.RoomDeleted)
}

// Stats 訊息統計
func (d *Dispatcher) Stats() map[string]any {
	return map[string]any{
		"messages_handled":      d.handled.Load(),
		"messages_rate_limited": d.rateLimited.Load(),
		"updates_rejected":      d.rejected.Load(),
	}
}

func (d *Dispatcher) handleReady(ctx context.Context, roomCode, playerID string, data map[string]any) {
	ready := boolField(data, "ready")

	r, err := d.store.SetPlayerReady(ctx, roomCode, playerID, ready)
	if err != nil {
		d.logStoreError(ctx, "set ready failed", err)
		return
	}

	d.registry.Broadcast(roomCode, hub.Envelope{
		Type: TypePlayerReady,
		Data: map[string]any{
			"player_id": playerID,
			"ready":     ready,
			"room":      r,
		},
	})
}

func (d *Dispatcher) handleGameSelected(ctx context.Context, roomCode string, data map[string]any) {
	gameType := stringField(data, "game_type")
	if !game.Known(gameType) {
		d.logger.DebugContext(ctx, "unknown game type ignored", "game_type", gameType)
		return
	}

	r, err := d.store.SelectGame(ctx, roomCode, gameType, func(playerIDs []string) map[string]any {
		return game.InitialState(game.Type(gameType), playerIDs)
	})
	if err != nil {
		d.logStoreError(ctx, "select game failed", err)
		return
	}

	d.logger.InfoContext(ctx, "game selected", "game_type", gameType, "players", len(r.Players))

	d.registry.Broadcast(roomCode, hub.Envelope{
		Type: TypeGameSelected,
		Data: map[string]any{
			"game_type":     gameType,
			"initial_state": r.GameState,
		},
	})
}

// handleStateUpdate 驗證並合併狀態更新
//
// 未選遊戲時忽略，驗證失敗時靜默丟棄。結束時廣播 game_end 給所有人，
// 否則把合併後的狀態廣播給發送者以外的人。
func (d *Dispatcher) handleStateUpdate(ctx context.Context, roomCode, playerID string, data map[string]any) {
	patch := map[string]any{}
	if raw, ok := data["state"]; ok && raw != nil {
		p, ok := raw.(map[string]any)
		if !ok {
			d.rejected.Add(1)
			d.logger.DebugContext(ctx, "state update dropped", "error", apperrors.ErrInvalidGameUpdate)
			return
		}
		patch = p
	}

	var (
		gameType game.Type
		roster   []string
		merged   game.State
	)
	_, applied, err := d.store.MergeGameState(ctx, roomCode, func(t string, playerIDs []string, current map[string]any) (map[string]any, bool) {
		gameType = game.Type(t)
		roster = playerIDs
		if !game.Validate(gameType, current, patch) {
			return nil, false
		}
		merged = game.Merge(current, patch)
		return merged, true
	})
	if err != nil {
		d.logStoreError(ctx, "merge game state failed", err)
		return
	}
	if !applied {
		if gameType != "" {
			d.rejected.Add(1)
			d.logger.DebugContext(ctx, "state update dropped",
				"game_type", gameType,
				"error", apperrors.ErrInvalidGameUpdate)
		}
		return
	}

	if ended, winner := game.CheckEnd(gameType, merged, roster); ended {
		d.logger.InfoContext(ctx, "game ended", "game_type", gameType, "winner", winnerValue(winner))
		d.registry.Broadcast(roomCode, hub.Envelope{
			Type: TypeGameEnd,
			Data: map[string]any{
				"winner":      winnerValue(winner),
				"final_state": merged,
			},
		})
		return
	}

	d.registry.Broadcast(roomCode, hub.Envelope{
		Type: TypeGameStateUpdate,
		Data: map[string]any{
			"player_id": playerID,
			"state":     merged,
		},
	}, playerID)
}

// handleRelay 信令點對點轉發，目標未連線時丟棄
func (d *Dispatcher) handleRelay(ctx context.Context, roomCode, playerID, msgType string, data map[string]any) {
	target := stringField(data, "target_player_id")
	if target == "" {
		d.logger.DebugContext(ctx, "relay without target dropped", "type", msgType)
		return
	}

	key := relayPayloadKey[msgType]
	d.registry.SendTo(roomCode, target, hub.Envelope{
		Type: msgType,
		Data: map[string]any{
			"from_player_id": playerID,
			key:              data[key],
		},
	})
}

func (d *Dispatcher) handleChat(ctx context.Context, roomCode, playerID string, data map[string]any) {
	username := stringField(data, "username")
	if username == "" {
		username = d.lookupUsername(ctx, roomCode, playerID)
	}

	d.registry.Broadcast(roomCode, hub.Envelope{
		Type: TypeChatMessage,
		Data: map[string]any{
			"player_id": playerID,
			"message":   stringField(data, "message"),
			"username":  username,
		},
	})
}

// lookupUsername 從房間名單取得顯示名稱
func (d *Dispatcher) lookupUsername(ctx context.Context, roomCode, playerID string) string {
	r, err := d.store.GetRoom(ctx, roomCode)
	if err == nil {
		if p, ok := r.Player(playerID); ok && p.Username != "" {
			return p.Username
		}
	}
	return "Unknown"
}

// logStoreError 房間不存在屬於正常情況（例如已過期），其餘記錄為錯誤
func (d *Dispatcher) logStoreError(ctx context.Context, msg string, err error) {
	if apperrors.IsNotFound(err) || errors.Is(err, apperrors.ErrPlayerNotFound) {
		d.logger.DebugContext(ctx, msg, "error", err)
		return
	}
	d.logger.ErrorContext(ctx, msg, "error", err)
}
