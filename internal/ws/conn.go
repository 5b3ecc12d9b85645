package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/gesturehub/internal/hub"
	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
)

// Connection 單一 WebSocket 連線，實作 hub.Conn
//
// 寫入只發生在 writePump；Send 只把訊息放進緩衝 channel，
// 緩衝區滿或已關閉時立即返回錯誤。
type Connection struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, cfg Config, logger *slog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger,
	}
}

// Send 序列化並放入發送緩衝
func (c *Connection) Send(env hub.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	select {
	case <-c.done:
		return apperrors.ErrDeliveryFailure.WithDetails("connection closed")
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return apperrors.ErrDeliveryFailure.WithDetails("connection closed")
	default:
		return apperrors.ErrDeliveryFailure.WithDetails("send buffer full")
	}
}

// Close 通知 writePump 送出關閉訊框並結束，可重複呼叫
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readPump 讀取客戶端訊息直到連線結束
//
// 讀取期限為 PongWait，每收到 pong 延長一次。writePump 每 PingInterval
// 送出 ping，PingInterval 必須小於 PongWait。
func (c *Connection) readPump(onMessage func(hub.Envelope)) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("set read deadline failed", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env hub.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("malformed message ignored", "error", err)
			continue
		}
		onMessage(env)
	}
}

// writePump 把緩衝中的訊息寫到連線，並定期送出 ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			// 先送完已排隊的訊息，再送關閉訊框
		drain:
			for {
				select {
				case message := <-c.send:
					if err := c.write(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					break drain
				}
			}
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
