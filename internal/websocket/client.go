package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/devbattle/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// lookupTimeout bounds the battle read behind a subscribe request
	lookupTimeout = 5 * time.Second

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress feeds carry no credentials
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one spectator connection following battle progress
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a request sent by a spectator
type ClientMessage struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id,omitempty"`
}

// NewClient creates a spectator connection bound to hub
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// ServeWs upgrades the request and starts the connection's pumps
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writeLoop()
	go client.readLoop()

	client.logger.Debug("spectator connected", "remote_addr", r.RemoteAddr)
}

// readLoop decodes spectator requests until the connection drops
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req ClientMessage
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reject("", "invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("spectator connection closed", "error", err)
			}
			return
		}
		c.handle(&req)
	}
}

func (c *Client) handle(req *ClientMessage) {
	switch req.Type {
	case MessageTypeSubscribe:
		c.follow(req.BattleID)
	case MessageTypeUnsubscribe:
		if req.BattleID == "" {
			c.reject("", "battle_id required for unsubscribe")
			return
		}
		c.hub.Unsubscribe(c, req.BattleID)
		c.enqueue(&Message{Type: MessageTypeUnsubscribed, BattleID: req.BattleID, Timestamp: time.Now()})
	case MessageTypePing:
		c.enqueue(&Message{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		c.reject(req.BattleID, "unknown message type "+req.Type)
	}
}

// follow checks that the battle exists, acknowledges the subscription and
// hands the stored state to the hub for replay
func (c *Client) follow(battleID string) {
	if battleID == "" {
		c.reject("", "battle_id required for subscribe")
		return
	}

	var snapshot *Message
	if c.hub.lookup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		battle, err := c.hub.lookup.GetBattle(ctx, battleID)
		cancel()
		switch {
		case errors.Is(err, domain.ErrBattleNotFound):
			c.reject(battleID, "battle not found")
			return
		case err != nil:
			c.logger.Error("battle lookup failed", "battle_id", battleID, "error", err)
			c.reject(battleID, "battle lookup failed")
			return
		}
		snapshot = snapshotOf(battle, time.Now())
	}

	c.enqueue(&Message{Type: MessageTypeSubscribed, BattleID: battleID, Timestamp: time.Now()})
	c.hub.Subscribe(c, battleID, snapshot)
}

// snapshotOf renders a stored battle as the message a late subscriber
// would have seen last
func snapshotOf(b *domain.Battle, now time.Time) *Message {
	at := now
	if b.CompletedAt != nil {
		at = *b.CompletedAt
	}

	switch b.Status {
	case domain.BattleStatusCompleted:
		return &Message{
			Type:     MessageTypeComplete,
			BattleID: b.ID,
			Data: domain.ProgressEvent{
				BattleID:  b.ID,
				Status:    domain.ProgressComplete,
				Progress:  domain.ProgressPctDone,
				Message:   "Battle completed",
				Result:    b.Outcome(),
				Timestamp: at,
			},
			Timestamp: at,
		}
	case domain.BattleStatusFailed:
		return &Message{
			Type:     MessageTypeError,
			BattleID: b.ID,
			Data: domain.ProgressEvent{
				BattleID:  b.ID,
				Status:    domain.ProgressError,
				Message:   "Battle failed",
				Error:     "battle failed",
				Timestamp: at,
			},
			Timestamp: at,
		}
	default:
		return &Message{
			Type:      MessageTypeStatus,
			BattleID:  b.ID,
			Data:      map[string]domain.BattleStatus{"status": b.Status},
			Timestamp: now,
		}
	}
}

func (c *Client) reject(battleID, reason string) {
	c.enqueue(&Message{
		Type:      MessageTypeError,
		BattleID:  battleID,
		Data:      map[string]string{"error": reason},
		Timestamp: time.Now(),
	})
}

// enqueue queues msg for the write loop. It drops the message when the
// connection is not draining its buffer.
func (c *Client) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("spectator buffer full, dropping message", "type", msg.Type)
	}
}

// writeLoop writes queued messages one frame each and keeps the peer alive
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
