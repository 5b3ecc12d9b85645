// Package game 定義各遊戲的狀態規則
//
// 遊戲邏輯主要在客戶端執行，這裡只負責三件事：建立初始狀態、
// 對更新做淺層檢查、判斷遊戲是否結束。每種遊戲是一個 Engine 實作，
// 新增遊戲只需要新增一個實作並登記到 engines。
package game

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
)

// Type 遊戲類型
type Type string

const (
	TypeAirHockey   Type = "air_hockey"
	TypePictionary  Type = "pictionary"
	TypeLaserDodger Type = "laser_dodger"
	TypeBalloonPop  Type = "balloon_pop"
)

// State 遊戲狀態，結構由各遊戲自行定義
type State = map[string]any

// Engine 單一遊戲的規則
type Engine interface {
	Type() Type
	// InitialState 依玩家加入順序建立初始狀態，玩家不足時對應欄位為 nil
	InitialState(playerIDs []string) State
	// ValidateUpdate 只檢查明確的不變量，其餘欄位一律接受
	ValidateUpdate(current, patch State) bool
	// CheckEnd 返回是否結束與勝者，沒有勝者時為 nil
	//
	// playerIDs 為房間目前的加入順序，同分時依此決定勝者。
	CheckEnd(state State, playerIDs []string) (ended bool, winner *string)
}

var engines = map[Type]Engine{
	TypeAirHockey:   airHockey{},
	TypePictionary:  pictionary{},
	TypeLaserDodger: laserDodger{},
	TypeBalloonPop:  balloonPop{},
}

// Lookup 依類型取得規則
func Lookup(t Type) (Engine, bool) {
	e, ok := engines[t]
	return e, ok
}

// Types 所有支援的遊戲類型（排序）
func Types() []Type {
	return slices.Sorted(maps.Keys(engines))
}

// Known 是否為支援的遊戲類型
func Known(t string) bool {
	_, ok := engines[Type(t)]
	return ok
}

// InitialState 未知類型返回空狀態
func InitialState(t Type, playerIDs []string) State {
	if e, ok := Lookup(t); ok {
		return e.InitialState(playerIDs)
	}
	return State{}
}

// Validate 未知類型一律接受
func Validate(t Type, current, patch State) bool {
	if e, ok := Lookup(t); ok {
		return e.ValidateUpdate(current, patch)
	}
	return true
}

// CheckEnd 未知類型永不結束
func CheckEnd(t Type, state State, playerIDs []string) (bool, *string) {
	if e, ok := Lookup(t); ok {
		return e.CheckEnd(state, playerIDs)
	}
	return false, nil
}

// Merge 淺層覆蓋：patch 的欄位取代同名欄位，其餘保留
//
// 不修改 current，返回新的 map。
func Merge(current, patch State) State {
	out := make(State, len(current)+len(patch))
	maps.Copy(out, current)
	maps.Copy(out, patch)
	return out
}

// number 將 JSON 解碼後可能出現的數值型別轉成 float64
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// numberOr 取得數值欄位，不存在或非數值時返回 def
func numberOr(state State, key string, def float64) float64 {
	v, ok := state[key]
	if !ok {
		return def
	}
	if f, ok := number(v); ok {
		return f
	}
	return def
}

func isNonNegativeInt(v any) bool {
	f, ok := number(v)
	return ok && f >= 0 && f == math.Trunc(f)
}

func isNonNegativeNumber(v any) bool {
	f, ok := number(v)
	return ok && f >= 0
}

// allNonNegative 檢查 map 欄位的所有值皆為非負數；欄位不是物件時拒絕
func allNonNegative(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, val := range m {
		if !isNonNegativeNumber(val) {
			return false
		}
	}
	return true
}

// highestScore 取分數最高的玩家
//
// 同分時依加入順序取最早的玩家；已不在名單上的玩家排在最後，彼此依 ID 排序。
func highestScore(state State, playerIDs []string) *string {
	scores, ok := state["scores"].(map[string]any)
	if !ok || len(scores) == 0 {
		return nil
	}

	var (
		best      string
		bestScore float64
		found     bool
	)
	for _, id := range scoreOrder(scores, playerIDs) {
		s, ok := number(scores[id])
		if !ok {
			continue
		}
		if !found || s > bestScore {
			best, bestScore, found = id, s, true
		}
	}
	if !found {
		return nil
	}
	return &best
}

// scoreOrder 分數表的比較順序
func scoreOrder(scores map[string]any, playerIDs []string) []string {
	order := make([]string, 0, len(scores))
	for _, id := range playerIDs {
		if _, ok := scores[id]; ok && !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	var rest []string
	for id := range scores {
		if !slices.Contains(order, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(order, rest...)
}

// zeroScores 每位玩家分數為 0
func zeroScores(playerIDs []string) map[string]any {
	scores := make(map[string]any, len(playerIDs))
	for _, id := range playerIDs {
		scores[id] = 0
	}
	return scores
}

func idAt(playerIDs []string, i int) any {
	if i < len(playerIDs) {
		return playerIDs[i]
	}
	return nil
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
