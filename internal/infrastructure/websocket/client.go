package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lokamart/pkg/logger"
)

// Client frame types. The server pushes new_message / conversation_update /
// typing_indicator payloads; clients send the frames below.
const (
	FrameTypePing        = "ping"
	FrameTypePong        = "pong"
	FrameTypeJoin        = "join_conversation"
	FrameTypeLeave       = "leave_conversation"
	FrameTypeTypingStart = "typing_start"
	FrameTypeTypingStop  = "typing_stop"
)

type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// EventHandler lets the chat core gate room joins and fan typing events out
// without the transport depending on it.
type EventHandler interface {
	Authorize(ctx context.Context, userID, conversationID string) error
	HandleTyping(ctx context.Context, userID, conversationID string, isTyping bool)
}

type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend enqueues without blocking. Reports false only when the buffer is
// full; a closed client swallows the payload so a publish racing a reconnect
// never writes to a closed channel.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump consumes frames until the connection drops.
func (c *Client) ReadPump(m *Manager, events EventHandler) {
	defer func() {
		m.UnregisterClient(c)
		c.Conn.Close()
	}()

	for {
		_, payload, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("ws: read error for %s: %v", c.UserID, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			logger.Debug("ws: invalid frame from %s: %v", c.UserID, err)
			continue
		}

		ctx := context.Background()

		switch frame.Type {
		case FrameTypePing:
			pong, _ := json.Marshal(Frame{Type: FrameTypePong, Timestamp: time.Now().Format(time.RFC3339)})
			m.send(c, pong)

		case FrameTypeJoin:
			if frame.ConversationID == "" {
				continue
			}
			if err := events.Authorize(ctx, c.UserID, frame.ConversationID); err != nil {
				logger.Debug("ws: join denied for %s on %s: %v", c.UserID, frame.ConversationID, err)
				continue
			}
			m.JoinConversation(frame.ConversationID, c.UserID)

		case FrameTypeLeave:
			if frame.ConversationID != "" {
				m.LeaveConversation(frame.ConversationID, c.UserID)
			}

		case FrameTypeTypingStart:
			events.HandleTyping(ctx, c.UserID, frame.ConversationID, true)

		case FrameTypeTypingStop:
			events.HandleTyping(ctx, c.UserID, frame.ConversationID, false)

		default:
			logger.Debug("ws: unknown frame type %q from %s", frame.Type, c.UserID)
		}
	}
}

// WritePump drains the send buffer onto the connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for payload := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("ws: write error for %s: %v", c.UserID, err)
			return
		}
	}

	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
