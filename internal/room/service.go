package room

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/koopa0/system-design/gesturehub/internal/events"
	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
)

// codeAlphabet 房間代碼字元集
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts 生成房間代碼的重試上限
const maxCodeAttempts = 100

// Options 房間服務選項
type Options struct {
	TTL        time.Duration // 房間記錄存活時間，每次變更刷新
	CodeLength int
	MaxPlayers int // 容量上限

	// CodeGenerator 產生候選代碼（測試時可固定）
	CodeGenerator func(n int) string
	Now           func() time.Time

	// Events 接收生命週期事件，nil 時不發布
	Events events.Publisher
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.CodeLength <= 0 {
		o.CodeLength = 6
	}
	if o.MaxPlayers < 2 {
		o.MaxPlayers = 6
	}
	if o.CodeGenerator == nil {
		o.CodeGenerator = GenerateCode
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
}

// Service 房間生命週期管理
//
// 同一個房間的變更在行程內以房間鎖序列化（讀取 → 修改 → 寫回），
// 不同行程之間仍可能互相覆蓋。
type Service struct {
	backend Backend
	opts    Options
	locks   *keyedMutex
	logger  *slog.Logger
}

// NewService 創建房間服務
func NewService(backend Backend, opts Options, logger *slog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		backend: backend,
		opts:    opts,
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Mode 底層儲存模式
func (s *Service) Mode() string { return s.backend.Mode() }

// MaxPlayers 容量上限
func (s *Service) MaxPlayers() int { return s.opts.MaxPlayers }

// Ping 檢查底層儲存
func (s *Service) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// CreateRoom 創建房間，建立者成為唯一玩家與房主
func (s *Service) CreateRoom(ctx context.Context, hostID, username string, maxPlayers int) (*Room, error) {
	if maxPlayers < 2 || maxPlayers > s.opts.MaxPlayers {
		return nil, apperrors.ErrInvalidCapacity.WithDetails(
			fmt.Sprintf("max_players must be between 2 and %d", s.opts.MaxPlayers))
	}
	if hostID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "host id is required")
	}

	now := s.opts.Now().UTC()
	r := &Room{
		HostID: hostID,
		Players: []Player{{
			ID:       hostID,
			Username: username,
			Status:   StatusConnected,
			JoinedAt: now,
		}},
		MaxPlayers: maxPlayers,
		GameState:  map[string]any{},
		CreatedAt:  now,
		IsActive:   true,
	}

	// 以 SETNX 佔用代碼，碰撞時重新抽樣
	for attempt := 0; ; attempt++ {
		if attempt >= maxCodeAttempts {
			return nil, apperrors.New(apperrors.ErrCodeInternal, "could not allocate room code")
		}

		r.Code = s.opts.CodeGenerator(s.opts.CodeLength)
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode room: %w", err)
		}

		ok, err := s.backend.SetNX(ctx, roomKey(r.Code), data, s.opts.TTL)
		if err != nil {
			return nil, storeError(err)
		}
		if ok {
			break
		}
		s.logger.Debug("room code collision", "room_code", r.Code, "attempt", attempt+1)
	}

	if err := s.backend.SAdd(ctx, activeRoomsKey, r.Code); err != nil {
		s.discard(ctx, r.Code)
		return nil, storeError(err)
	}
	if err := s.addMember(ctx, r.Code, hostID); err != nil {
		s.discard(ctx, r.Code)
		return nil, err
	}

	s.logger.Info("room created",
		"room_code", r.Code,
		"host_id", hostID,
		"max_players", maxPlayers)
	s.publish(ctx, events.RoomCreated, r.Code, hostID, map[string]any{"max_players": maxPlayers})

	return r, nil
}

// GetRoom 讀取房間，不存在或已過期時返回 ErrRoomNotFound
func (s *Service) GetRoom(ctx context.Context, code string) (*Room, error) {
	return s.load(ctx, code)
}

// JoinRoom 加入房間
//
// 已在房間內的玩家重複加入時直接返回目前的房間（即使房間已滿）。
func (s *Service) JoinRoom(ctx context.Context, code, playerID, username string) (*Room, error) {
	if playerID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "player id is required")
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	r, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.HasPlayer(playerID) {
		return r, nil
	}
	if r.IsFull() {
		return nil, apperrors.ErrRoomFull.WithDetails(code)
	}

	r.Players = append(r.Players, Player{
		ID:       playerID,
		Username: username,
		Status:   StatusConnected,
		JoinedAt: s.opts.Now().UTC(),
	})

	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	if err := s.addMember(ctx, code, playerID); err != nil {
		return nil, err
	}

	s.logger.Info("player joined room",
		"room_code", code,
		"player_id", playerID,
		"players", len(r.Players))
	s.publish(ctx, events.PlayerJoined, code, playerID, map[string]any{"username": username})

	return r, nil
}

// LeaveResult 離開房間的結果
type LeaveResult struct {
	Room        *Room  // 剩餘的房間，房間被刪除時為 nil
	Removed     bool   // 玩家確實在房間內並已移除
	RoomDeleted bool   // 最後一位玩家離開，房間已刪除
	NewHostID   string // 房主有變更時非空
}

// LeaveRoom 離開房間
//
// 名單清空時刪除房間記錄、玩家集合，並從 active_rooms 移除；
// 否則房主依加入順序轉移給第一位剩餘玩家。
func (s *Service) LeaveRoom(ctx context.Context, code, playerID string) (LeaveResult, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	r, err := s.load(ctx, code)
	if err != nil {
		return LeaveResult{}, err
	}

	removed, newHost := r.removePlayer(playerID)
	if !removed {
		return LeaveResult{Room: r}, nil
	}

	if len(r.Players) == 0 {
		if err := s.backend.Delete(ctx, roomKey(code), playersKey(code)); err != nil {
			return LeaveResult{}, storeError(err)
		}
		if err := s.backend.SRem(ctx, activeRoomsKey, code); err != nil {
			return LeaveResult{}, storeError(err)
		}
		s.logger.Info("room deleted", "room_code", code, "reason", "empty")
		s.publish(ctx, events.PlayerLeft, code, playerID, nil)
		s.publish(ctx, events.RoomDeleted, code, "", nil)
		return LeaveResult{Removed: true, RoomDeleted: true}, nil
	}

	if err := s.save(ctx, r); err != nil {
		return LeaveResult{}, err
	}
	if err := s.backend.SRem(ctx, playersKey(code), playerID); err != nil {
		return LeaveResult{}, storeError(err)
	}

	s.logger.Info("player left room",
		"room_code", code,
		"player_id", playerID,
		"new_host_id", newHost)
	var data map[string]any
	if newHost != "" {
		data = map[string]any{"new_host_id": newHost}
	}
	s.publish(ctx, events.PlayerLeft, code, playerID, data)

	return LeaveResult{Room: r, Removed: true, NewHostID: newHost}, nil
}

// UpdatePlayerStatus 更新玩家狀態
func (s *Service) UpdatePlayerStatus(ctx context.Context, code, playerID string, status PlayerStatus) (*Room, error) {
	if !status.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "unknown player status").WithDetails(string(status))
	}
	return s.mutatePlayer(ctx, code, playerID, func(p *Player) { p.Status = status })
}

// SetPlayerReady 設置玩家準備狀態，同時同步 status
func (s *Service) SetPlayerReady(ctx context.Context, code, playerID string, ready bool) (*Room, error) {
	return s.mutatePlayer(ctx, code, playerID, func(p *Player) {
		p.Ready = ready
		if ready {
			p.Status = StatusReady
		} else if p.Status == StatusReady {
			p.Status = StatusConnected
		}
	})
}

// UpdatePlayerScore 更新玩家分數
func (s *Service) UpdatePlayerScore(ctx context.Context, code, playerID string, score int) (*Room, error) {
	return s.mutatePlayer(ctx, code, playerID, func(p *Player) { p.Score = score })
}

// InitFunc 依目前的玩家順序產生遊戲的初始狀態
type InitFunc func(playerIDs []string) map[string]any

// SelectGame 選擇遊戲並重設遊戲狀態
//
// 遊戲類型與 init 產生的初始狀態在同一次房間鎖內寫入；init 為 nil 時狀態為 {}。
func (s *Service) SelectGame(ctx context.Context, code, gameType string, init InitFunc) (*Room, error) {
	r, err := s.mutate(ctx, code, func(r *Room) error {
		g := gameType
		r.CurrentGame = &g
		r.GameState = map[string]any{}
		if init != nil {
			if state := init(r.PlayerIDs()); state != nil {
				r.GameState = state
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.GameSelected, code, "", map[string]any{"game_type": gameType})
	return r, nil
}

// UpdateGameState 整體替換遊戲狀態
func (s *Service) UpdateGameState(ctx context.Context, code string, state map[string]any) (*Room, error) {
	return s.mutate(ctx, code, func(r *Room) error {
		if state == nil {
			state = map[string]any{}
		}
		r.GameState = state
		return nil
	})
}

// MergeFunc 在房間鎖內計算新的遊戲狀態
//
// playerIDs 為目前的加入順序。返回 false 表示放棄這次更新，不寫回。
type MergeFunc func(gameType string, playerIDs []string, current map[string]any) (next map[string]any, apply bool)

// MergeGameState 在房間鎖內讀取、合併並寫回遊戲狀態
//
// 未選擇遊戲時不呼叫 fn。返回的 bool 表示是否寫回。
func (s *Service) MergeGameState(ctx context.Context, code string, fn MergeFunc) (*Room, bool, error) {
	applied := false
	r, err := s.mutate(ctx, code, func(r *Room) error {
		gameType, ok := r.Game()
		if !ok {
			return errSkip
		}
		next, apply := fn(gameType, r.PlayerIDs(), r.GameState)
		if !apply {
			return errSkip
		}
		r.GameState = next
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return r, applied, nil
}

// ListActiveRooms 列出存活的房間代碼
//
// active_rooms 可能殘留已過期的代碼（Redis 不會清理集合成員），
// 讀取時順便修剪。
func (s *Service) ListActiveRooms(ctx context.Context) ([]string, error) {
	codes, err := s.backend.SMembers(ctx, activeRoomsKey)
	if err != nil {
		return nil, storeError(err)
	}

	alive := make([]string, 0, len(codes))
	for _, code := range codes {
		ok, err := s.backend.Exists(ctx, roomKey(code))
		if err != nil {
			return nil, storeError(err)
		}
		if !ok {
			if err := s.backend.SRem(ctx, activeRoomsKey, code); err != nil {
				s.logger.Warn("prune stale room code failed", "room_code", code, "error", err)
			}
			continue
		}
		alive = append(alive, code)
	}
	return alive, nil
}

// errSkip 變更函式表示不需寫回
var errSkip = errors.New("skip write")

// mutate 在房間鎖內讀取、修改並寫回
func (s *Service) mutate(ctx context.Context, code string, fn func(r *Room) error) (*Room, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	r, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := fn(r); err != nil {
		if errors.Is(err, errSkip) {
			return r, nil
		}
		return nil, err
	}

	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) mutatePlayer(ctx context.Context, code, playerID string, fn func(p *Player)) (*Room, error) {
	return s.mutate(ctx, code, func(r *Room) error {
		p, ok := r.Player(playerID)
		if !ok {
			return apperrors.ErrPlayerNotFound.WithDetails(playerID)
		}
		fn(p)
		return nil
	})
}

func (s *Service) load(ctx context.Context, code string) (*Room, error) {
	data, err := s.backend.Get(ctx, roomKey(code))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, apperrors.ErrRoomNotFound.WithDetails(code)
	}
	if err != nil {
		return nil, storeError(err)
	}

	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	if r.GameState == nil {
		r.GameState = map[string]any{}
	}
	return &r, nil
}

// save 寫回整個房間記錄並刷新 TTL
func (s *Service) save(ctx context.Context, r *Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.Code, err)
	}
	if err := s.backend.Set(ctx, roomKey(r.Code), data, s.opts.TTL); err != nil {
		return storeError(err)
	}
	if err := s.backend.Expire(ctx, playersKey(r.Code), s.opts.TTL); err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Service) addMember(ctx context.Context, code, playerID string) error {
	if err := s.backend.SAdd(ctx, playersKey(code), playerID); err != nil {
		return storeError(err)
	}
	if err := s.backend.Expire(ctx, playersKey(code), s.opts.TTL); err != nil {
		return storeError(err)
	}
	return nil
}

// discard 撤銷建立到一半的房間，釋放已佔用的代碼
func (s *Service) discard(ctx context.Context, code string) {
	if err := s.backend.Delete(ctx, roomKey(code), playersKey(code)); err != nil {
		s.logger.Warn("discard room failed", "room_code", code, "error", err)
	}
	if err := s.backend.SRem(ctx, activeRoomsKey, code); err != nil {
		s.logger.Warn("discard room failed", "room_code", code, "error", err)
	}
}

// publish 發布事件，失敗只記錄
func (s *Service) publish(ctx context.Context, typ, code, playerID string, data map[string]any) {
	err := s.opts.Events.Publish(ctx, events.Event{
		Type:      typ,
		RoomCode:  code,
		PlayerID:  playerID,
		Data:      data,
		Timestamp: s.opts.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publish room event failed",
			"event", typ,
			"room_code", code,
			"error", err)
	}
}

func storeError(err error) error {
	return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "room store operation failed")
}

// GenerateCode 以 crypto/rand 從 A-Z0-9 抽樣 n 個字元
func GenerateCode(n int) string {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// 隨機來源失敗時退回時間，碰撞由 SETNX 處理
			b[i] = codeAlphabet[time.Now().UnixNano()%int64(len(codeAlphabet))]
			continue
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}
