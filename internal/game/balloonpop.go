package game

// balloonPop 限時計分
type balloonPop struct{}

func (balloonPop) Type() Type { return TypeBalloonPop }

func (balloonPop) InitialState(playerIDs []string) State {
	return State{
		"scores":         zeroScores(playerIDs),
		"time_remaining": 60,
		"balloons":       []any{},
		"game_started":   false,
		"winner":         nil,
	}
}

func (balloonPop) ValidateUpdate(_, patch State) bool {
	if v, ok := patch["scores"]; ok && !allNonNegative(v) {
		return false
	}
	return true
}

// CheckEnd 時間歸零時結束，最高分者獲勝
func (balloonPop) CheckEnd(state State, playerIDs []string) (bool, *string) {
	if numberOr(state, "time_remaining", 60) <= 0 {
		return true, highestScore(state, playerIDs)
	}
	return false, nil
}
