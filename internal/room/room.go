// Package room 實現房間的持久化生命週期管理
//
// 房間以 JSON 形式存放在外部 key-value 儲存中（Redis 或降級用的記憶體 map），
// 帶有 TTL，每次變更都會刷新。鍵配置：
//
//	room:{code}          → 房間記錄
//	room:{code}:players  → 玩家 ID 集合（輔助索引）
//	active_rooms         → 所有存活房間代碼的集合
//
// 房間的不變量：
//   - 房間代碼唯一對應一個存活房間
//   - 只要房間內有玩家，host_id 一定是其中之一
//   - 玩家數量不超過 max_players
//   - 沒有玩家的房間直接刪除，不保留空殼
package room

import (
	"slices"
	"time"
)

// PlayerStatus 玩家狀態
type PlayerStatus string

const (
	StatusConnected    PlayerStatus = "connected"
	StatusReady        PlayerStatus = "ready"
	StatusPlaying      PlayerStatus = "playing"
	StatusDisconnected PlayerStatus = "disconnected"
)

// Valid 檢查狀態是否為已知值
func (s PlayerStatus) Valid() bool {
	switch s {
	case StatusConnected, StatusReady, StatusPlaying, StatusDisconnected:
		return true
	}
	return false
}

// Player 玩家資訊
type Player struct {
	ID       string       `json:"player_id"`
	Username string       `json:"username"`
	Status   PlayerStatus `json:"status"`
	Score    int          `json:"score"`
	Ready    bool         `json:"ready"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Room 遊戲房間
//
// Players 依加入順序排列，房主轉移時取第一個。
type Room struct {
	Code        string         `json:"room_code"`
	HostID      string         `json:"host_id"`
	Players     []Player       `json:"players"`
	MaxPlayers  int            `json:"max_players"`
	CurrentGame *string        `json:"current_game"`
	GameState   map[string]any `json:"game_state"`
	CreatedAt   time.Time      `json:"created_at"`
	IsActive    bool           `json:"is_active"`
}

// Game 返回已選擇的遊戲類型
func (r *Room) Game() (string, bool) {
	if r.CurrentGame == nil || *r.CurrentGame == "" {
		return "", false
	}
	return *r.CurrentGame, true
}

// Player 依 ID 查找玩家
func (r *Room) Player(playerID string) (*Player, bool) {
	i := r.indexOf(playerID)
	if i < 0 {
		return nil, false
	}
	return &r.Players[i], true
}

// HasPlayer 檢查玩家是否在房間內
func (r *Room) HasPlayer(playerID string) bool {
	return r.indexOf(playerID) >= 0
}

// PlayerIDs 依加入順序返回玩家 ID
func (r *Room) PlayerIDs() []string {
	ids := make([]string, len(r.Players))
	for i, p := range r.Players {
		ids[i] = p.ID
	}
	return ids
}

// IsFull 房間是否已滿
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

func (r *Room) indexOf(playerID string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == playerID })
}

// removePlayer 移除玩家，必要時依加入順序轉移房主
//
// 返回是否確實移除；newHost 在房主有變更時非空。
func (r *Room) removePlayer(playerID string) (removed bool, newHost string) {
	i := r.indexOf(playerID)
	if i < 0 {
		return false, ""
	}
	r.Players = slices.Delete(r.Players, i, i+1)

	if r.HostID == playerID && len(r.Players) > 0 {
		r.HostID = r.Players[0].ID
		newHost = r.HostID
	}
	return true, newHost
}

func roomKey(code string) string    { return "room:" + code }
func playersKey(code string) string { return "room:" + code + ":players" }

const activeRoomsKey = "active_rooms"
