// Package events 對外發布房間生命週期事件
//
// 事件只是通知：發布失敗會被記錄，不影響房間操作本身。
// 未設定 NATS 時使用 Nop。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 事件類型，同時是 subject 的最後一段
const (
	RoomCreated  = "room_created"
	PlayerJoined = "player_joined"
	PlayerLeft   = "player_left"
	RoomDeleted  = "room_deleted"
	GameSelected = "game_selected"
)

// Event 房間事件
type Event struct {
	Type      string         `json:"type"`
	RoomCode  string         `json:"room_code"`
	PlayerID  string         `json:"player_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher 事件發布
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop 丟棄所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// NATSPublisher 以 core NATS 發布，subject 為 {prefix}.{room_code}.{type}
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連線 NATS
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("gesturehub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if prefix == "" {
		prefix = "gesturehub.rooms"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject 事件的 subject
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + "." + e.RoomCode + "." + e.Type
}

// Publish 發布事件
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
