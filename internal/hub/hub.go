// Package hub 管理行程內的即時連線
//
// Registry 以 房間代碼 → 玩家 ID → Conn 兩層 map 保存連線，
// 提供點對點發送與房間廣播。任何一個接收者投遞失敗只會把該連線移除，
// 不會中斷對其他人的投遞。連線不持久化，重啟即消失。
package hub

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Envelope 雙向訊息格式
//
// Timestamp 由伺服器在送出時蓋上。
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Conn 單一玩家的連線
//
// Send 不可阻塞：緩衝區滿或連線已關閉時直接返回錯誤，
// 慢速的接收者不能拖累同房間的其他人。
type Conn interface {
	Send(env Envelope) error
	Close() error
}

// roomConns 單一房間的連線，mu 讓註冊、註銷與廣播的順序一致
type roomConns struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// Registry 連線登記表
//
// 鎖順序：Registry.mu → roomConns.mu。廣播只持有房間鎖。
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*roomConns
	closing atomic.Bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewRegistry 創建連線登記表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*roomConns),
		now:    time.Now,
		logger: logger,
	}
}

// Register 登記連線，同一玩家已有連線時關閉舊的
//
// 登記表關閉後直接關閉 conn。
func (r *Registry) Register(roomCode, playerID string, conn Conn) {
	if r.closing.Load() {
		_ = conn.Close()
		return
	}

	r.mu.Lock()
	rc, ok := r.rooms[roomCode]
	if !ok {
		rc = &roomConns{conns: make(map[string]Conn)}
		r.rooms[roomCode] = rc
	}
	rc.mu.Lock()
	old, replaced := rc.conns[playerID]
	rc.conns[playerID] = conn
	rc.mu.Unlock()
	r.mu.Unlock()

	if replaced && old != conn {
		_ = old.Close()
		r.logger.Info("replaced existing connection",
			"room_code", roomCode,
			"player_id", playerID)
	}
}

// Unregister 移除玩家的連線，房間沒有連線時移除房間項目
func (r *Registry) Unregister(roomCode, playerID string) {
	r.remove(roomCode, playerID, nil)
}

// UnregisterConn 只有目前登記的就是 conn 時才移除
//
// 返回是否確實移除。conn 已被新連線取代，或已因投遞失敗被移除時返回 false，
// 兩者可用 Connected 區分。
func (r *Registry) UnregisterConn(roomCode, playerID string, conn Conn) bool {
	return r.remove(roomCode, playerID, conn)
}

func (r *Registry) remove(roomCode, playerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rc, ok := r.rooms[roomCode]
	if !ok {
		return false
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	current, ok := rc.conns[playerID]
	if !ok || (conn != nil && current != conn) {
		return false
	}
	delete(rc.conns, playerID)
	if len(rc.conns) == 0 {
		delete(r.rooms, roomCode)
	}
	return true
}

// SendTo 點對點發送，玩家未連線時靜默丟棄
func (r *Registry) SendTo(roomCode, playerID string, env Envelope) {
	rc := r.room(roomCode)
	if rc == nil {
		return
	}

	env.Timestamp = r.timestamp()

	rc.mu.Lock()
	conn, ok := rc.conns[playerID]
	var err error
	if ok {
		err = conn.Send(env)
	}
	rc.mu.Unlock()

	if err != nil {
		r.drop(roomCode, playerID, conn, err)
	}
}

// Broadcast 發送給房間內所有連線，exclude 中的玩家除外
//
// 投遞在房間鎖內進行，每個連線收到的訊息順序一致。
// 投遞失敗的連線會被移除並關閉。
func (r *Registry) Broadcast(roomCode string, env Envelope, exclude ...string) {
	rc := r.room(roomCode)
	if rc == nil {
		return
	}

	env.Timestamp = r.timestamp()

	type failure struct {
		playerID string
		conn     Conn
		err      error
	}
	var failed []failure

	rc.mu.Lock()
	for playerID, conn := range rc.conns {
		if slices.Contains(exclude, playerID) {
			continue
		}
		if err := conn.Send(env); err != nil {
			failed = append(failed, failure{playerID, conn, err})
		}
	}
	rc.mu.Unlock()

	for _, f := range failed {
		r.drop(roomCode, f.playerID, f.conn, f.err)
	}
}

// drop 移除投遞失敗的連線
func (r *Registry) drop(roomCode, playerID string, conn Conn, err error) {
	if r.UnregisterConn(roomCode, playerID, conn) {
		_ = conn.Close()
		r.logger.Warn("delivery failed, connection removed",
			"room_code", roomCode,
			"player_id", playerID,
			"error", err)
	}
}

// Connected 玩家是否有連線
func (r *Registry) Connected(roomCode, playerID string) bool {
	rc := r.room(roomCode)
	if rc == nil {
		return false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.conns[playerID]
	return ok
}

// Count 房間內的連線數
func (r *Registry) Count(roomCode string) int {
	rc := r.room(roomCode)
	if rc == nil {
		return 0
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.conns)
}

// Rooms 有連線的房間代碼（排序）
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.rooms))
}

// Stats 連線統計
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perRoom := make(map[string]int, len(r.rooms))
	total := 0
	for code, rc := range r.rooms {
		rc.mu.Lock()
		n := len(rc.conns)
		rc.mu.Unlock()
		perRoom[code] = n
		total += n
	}

	return map[string]any{
		"total_rooms":       len(r.rooms),
		"total_connections": total,
		"rooms":             perRoom,
	}
}

// Closing 是否已呼叫 Close
func (r *Registry) Closing() bool {
	return r.closing.Load()
}

// Close 關閉所有連線並清空登記表
func (r *Registry) Close() {
	r.closing.Store(true)

	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*roomConns)
	r.mu.Unlock()

	for _, rc := range rooms {
		rc.mu.Lock()
		for _, conn := range rc.conns {
			_ = conn.Close()
		}
		rc.mu.Unlock()
	}

	r.logger.Info("connection registry closed")
}

func (r *Registry) room(roomCode string) *roomConns {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomCode]
}

func (r *Registry) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}
