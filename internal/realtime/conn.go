package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/internal/services"
	apperrors "github.com/charlesng35/dropwire/pkg/errors"
	"github.com/charlesng35/dropwire/pkg/metrics"
	"github.com/charlesng35/dropwire/pkg/validator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	maxTextContent = 64 << 10

	sendBufferSize = 64
)

// frame is the JSON envelope both directions use on the event channel.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type joinRoomPayload struct {
	Code        string `json:"code" validate:"required,paircode"`
	ClientToken string `json:"clientToken"`
}

type sendMessagePayload struct {
	MatchCode   string           `json:"matchCode" validate:"required,paircode"`
	ClientToken string           `json:"clientToken" validate:"required"`
	Message     services.Message `json:"message"`
}

// connection is a single event-channel client. Its channel ID identifies the
// transport; the client token identifies the participant across reconnects.
type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	send   chan outbound
	once   sync.Once

	mu    sync.Mutex
	code  string
	token string
}

func newConnection(hub *Hub, socket *websocket.Conn) *connection {
	return &connection{
		hub:    hub,
		socket: socket,
		id:     uuid.NewString(),
		send:   make(chan outbound, sendBufferSize),
	}
}

// Notify implements services.Notifier. It never blocks: a client that cannot
// drain its buffer is disconnected rather than stalling the session's
// critical section.
func (c *connection) Notify(event string, payload any) {
	select {
	case c.send <- outbound{Event: event, Data: payload}:
	default:
		c.hub.log.Warn("dropping backpressured client", zap.String("channel_id", c.id))
		go c.close()
	}
}

func (c *connection) readLoop() {
	defer c.close()

	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("channel_id", c.id), zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.sendError("InvalidPayload")
			continue
		}

		switch f.Event {
		case "joinRoom":
			c.handleJoin(f.Data)
		case "sendMessage":
			c.handleSend(f.Data)
		default:
			c.sendError("UnknownEvent")
		}
	}
}

func (c *connection) handleJoin(data json.RawMessage) {
	var payload joinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("InvalidPayload")
		return
	}
	payload.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	if err := validator.Struct(payload); err != nil {
		c.sendError("InvalidCode")
		return
	}

	c.mu.Lock()
	alreadyJoined := c.code != ""
	c.mu.Unlock()
	if alreadyJoined {
		c.sendError("AlreadyJoined")
		return
	}

	result, err := c.hub.manager.Join(payload.Code, payload.ClientToken, c.id, c)
	if err != nil {
		c.sendError(wsReason(err))
		return
	}

	c.mu.Lock()
	c.code = payload.Code
	c.token = result.Token
	c.mu.Unlock()
}

func (c *connection) handleSend(data json.RawMessage) {
	var payload sendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("InvalidPayload")
		return
	}
	payload.MatchCode = strings.ToUpper(strings.TrimSpace(payload.MatchCode))
	if err := validator.Struct(payload); err != nil {
		c.sendError("InvalidPayload")
		return
	}
	if err := validateMessage(payload.Message); err != nil {
		c.sendError(err.Error())
		return
	}

	if _, err := c.hub.manager.AppendMessage(payload.MatchCode, payload.ClientToken, payload.Message); err != nil {
		c.sendError(wsReason(err))
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		code := c.code
		c.mu.Unlock()

		if code != "" {
			c.hub.manager.HandleDisconnect(code, c.id)
		}
		close(c.send)
		_ = c.socket.Close()
	})
}

func (c *connection) sendError(message string) {
	c.Notify(services.EventError, map[string]any{"message": message})
}

func validateMessage(msg services.Message) error {
	switch msg.Type {
	case services.MessageText:
		if msg.Content == "" {
			return errors.New("EmptyMessage")
		}
		if len(msg.Content) > maxTextContent {
			return errors.New("MessageTooLong")
		}
	case services.MessageFile:
		if msg.Metadata == nil || msg.Metadata.Name == "" {
			return errors.New("InvalidFileMetadata")
		}
	default:
		return errors.New("InvalidMessageType")
	}
	return nil
}

// wsReason maps admission and validation failures onto the compact reason
// strings the event-channel contract promises.
func wsReason(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return "InternalError"
	}

	switch appErr.Code {
	case apperrors.ErrInvalidCode.Code:
		return "InvalidCode"
	case apperrors.ErrSessionFull.Code:
		return "SessionFull"
	case apperrors.ErrNotConnected.Code:
		return "NotConnected"
	default:
		return "InternalError"
	}
}
