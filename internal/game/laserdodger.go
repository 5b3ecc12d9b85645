package game

// laserDodger 淘汰制，最後存活者獲勝
type laserDodger struct{}

func (laserDodger) Type() Type { return TypeLaserDodger }

func (laserDodger) InitialState(playerIDs []string) State {
	alive := make([]string, len(playerIDs))
	copy(alive, playerIDs)

	health := make(map[string]any, len(playerIDs))
	for _, id := range playerIDs {
		health[id] = 100
	}

	return State{
		"alive_players": alive,
		"player_health": health,
		"lasers":        []any{},
		"game_speed":    1.0,
		"game_started":  false,
		"winner":        nil,
	}
}

func (laserDodger) ValidateUpdate(_, patch State) bool {
	if v, ok := patch["player_health"]; ok && !allNonNegative(v) {
		return false
	}
	if v, ok := patch["alive_players"]; ok {
		switch v.(type) {
		case []any, []string:
		default:
			return false
		}
	}
	return true
}

// CheckEnd 存活人數 <= 1 時結束
func (laserDodger) CheckEnd(state State, _ []string) (bool, *string) {
	alive := stringList(state["alive_players"])
	if len(alive) > 1 {
		return false, nil
	}
	if len(alive) == 0 {
		return true, nil
	}
	winner := alive[0]
	return true, &winner
}
