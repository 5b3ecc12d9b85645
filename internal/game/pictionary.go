package game

// pictionary 輪流作畫
type pictionary struct{}

func (pictionary) Type() Type { return TypePictionary }

func (pictionary) InitialState(playerIDs []string) State {
	return State{
		"current_drawer":  idAt(playerIDs, 0),
		"drawer_index":    0,
		"current_word":    nil,
		"guessed_players": []string{},
		"round":           1,
		"max_rounds":      len(playerIDs),
		"time_remaining":  45,
		"scores":          zeroScores(playerIDs),
	}
}

func (pictionary) ValidateUpdate(_, patch State) bool {
	if v, ok := patch["scores"]; ok && !allNonNegative(v) {
		return false
	}
	if v, ok := patch["round"]; ok {
		f, ok := number(v)
		if !ok || f < 1 {
			return false
		}
	}
	return true
}

// CheckEnd 回合數超過 max_rounds 時結束，最高分者獲勝
func (pictionary) CheckEnd(state State, playerIDs []string) (bool, *string) {
	if numberOr(state, "round", 1) > numberOr(state, "max_rounds", 1) {
		return true, highestScore(state, playerIDs)
	}
	return false, nil
}
