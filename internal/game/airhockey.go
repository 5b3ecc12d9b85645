package game

// WinningScore 空氣曲棍球的獲勝分數
const WinningScore = 7

// airHockey 兩人對戰計分
type airHockey struct{}

func (airHockey) Type() Type { return TypeAirHockey }

func (airHockey) InitialState(playerIDs []string) State {
	return State{
		"player1_score": 0,
		"player2_score": 0,
		"player1_id":    idAt(playerIDs, 0),
		"player2_id":    idAt(playerIDs, 1),
		"puck_position": map[string]any{"x": 50, "y": 50},
		"game_started":  false,
		"winner":        nil,
	}
}

// ValidateUpdate 出現的分數欄位必須是非負整數
func (airHockey) ValidateUpdate(_, patch State) bool {
	for _, key := range []string{"player1_score", "player2_score"} {
		if v, ok := patch[key]; ok && !isNonNegativeInt(v) {
			return false
		}
	}
	return true
}

// CheckEnd 任一方達到 WinningScore 即結束，先檢查 player1
func (airHockey) CheckEnd(state State, _ []string) (bool, *string) {
	if numberOr(state, "player1_score", 0) >= WinningScore {
		return true, stringPtr(state["player1_id"])
	}
	if numberOr(state, "player2_score", 0) >= WinningScore {
		return true, stringPtr(state["player2_id"])
	}
	return false, nil
}
