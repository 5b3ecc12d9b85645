package protocol

// 訊息類型
const (
	// 只由伺服器送出
	TypeConnect      = "connect"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypeGameEnd      = "game_end"
	TypePong         = "pong"

	// 雙向
	TypePlayerReady        = "player_ready"
	TypeGameSelected       = "game_selected"
	TypeGameStart          = "game_start"
	TypeGameStateUpdate    = "game_state_update"
	TypeWebRTCOffer        = "webrtc_offer"
	TypeWebRTCAnswer       = "webrtc_answer"
	TypeWebRTCICECandidate = "webrtc_ice_candidate"
	TypeChatMessage        = "chat_message"
	TypePing               = "ping"
)

// relayPayloadKey 信令轉發時各類型攜帶的欄位
var relayPayloadKey = map[string]string{
	TypeWebRTCOffer:        "offer",
	TypeWebRTCAnswer:       "answer",
	TypeWebRTCICECandidate: "candidate",
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func boolField(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

// winnerValue 將勝者轉成 JSON 值（沒有勝者時為 null）
func winnerValue(w *string) any {
	if w == nil {
		return nil
	}
	return *w
}
