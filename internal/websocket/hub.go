package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/devbattle/internal/domain"
)

// Message types
const (
	MessageTypeProgress     = "progress"
	MessageTypeComplete     = "complete"
	MessageTypeStatus       = "status"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

const (
	// replayRetention is how long the last event of a battle stays
	// available to late subscribers after it was published
	replayRetention = 10 * time.Minute
	pruneInterval   = time.Minute
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	BattleID  string      `json:"battle_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BattleLookup resolves the stored state of a battle
type BattleLookup interface {
	GetBattle(ctx context.Context, battleID string) (*domain.Battle, error)
}

// Hub tracks connected clients and their battle subscriptions. It keeps the
// most recent event per battle so a client that subscribes mid-run starts
// from the current state instead of waiting for the next event.
type Hub struct {
	// Subscribed clients by battle ID
	battles map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Last delivered event by battle ID
	latest map[string]*replayEntry

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	lookup BattleLookup
	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	battleID string
	// snapshot is the stored state at subscribe time, nil when unknown
	snapshot *Message
}

type replayEntry struct {
	message *Message
	at      time.Time
}

// NewHub creates a new Hub. A nil lookup accepts every battle ID.
func NewHub(lookup BattleLookup, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		battles:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		latest:      make(map[string]*replayEntry),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		lookup:      lookup,
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.detach(client)

		case req := <-h.subscribe:
			h.attach(req)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.battles[req.battleID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.battles, req.battleID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "battle_id", req.battleID)

		case message := <-h.broadcast:
			h.deliver(message)

		case <-ticker.C:
			h.prune()
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for battleID, clients := range h.battles {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.battles, battleID)
			}
		}
	}
	close(client.send)
	h.logger.Debug("client unregistered", "client_id", client.id)
}

// attach replays the current state of the battle to the client and keeps
// it subscribed unless that state is already terminal. A stored terminal
// state wins over a buffered in-flight event.
func (h *Hub) attach(req *subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.allClients[req.client]; !ok {
		return
	}

	replay := req.snapshot
	if entry, ok := h.latest[req.battleID]; ok && !terminal(replay) {
		replay = entry.message
	}

	if !terminal(replay) {
		if _, ok := h.battles[req.battleID]; !ok {
			h.battles[req.battleID] = make(map[*Client]bool)
		}
		h.battles[req.battleID][req.client] = true
		h.logger.Debug("client subscribed", "client_id", req.client.id, "battle_id", req.battleID)
	}

	if replay != nil {
		req.client.enqueue(replay)
	}
}

// deliver sends a message to every subscriber of its battle and keeps it
// for late subscribers
func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[message.BattleID] = &replayEntry{message: message, at: h.now()}

	for client := range h.battles[message.BattleID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id, "battle_id", message.BattleID)
		}
	}
	if terminal(message) {
		delete(h.battles, message.BattleID)
	}
}

// prune forgets battles whose last event is older than replayRetention
func (h *Hub) prune() {
	cutoff := h.now().Add(-replayRetention)

	h.mu.Lock()
	defer h.mu.Unlock()
	for battleID, entry := range h.latest {
		if entry.at.Before(cutoff) {
			delete(h.latest, battleID)
		}
	}
}

// PublishProgress forwards a battle progress event to its subscribers
func (h *Hub) PublishProgress(event domain.ProgressEvent) {
	msgType := MessageTypeProgress
	switch event.Status {
	case domain.ProgressComplete:
		msgType = MessageTypeComplete
	case domain.ProgressError:
		msgType = MessageTypeError
	}

	message := &Message{
		Type:      msgType,
		BattleID:  event.BattleID,
		Data:      event,
		Timestamp: event.Timestamp,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "battle_id", event.BattleID)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a battle's progress feed. snapshot is the
// stored battle state replayed when the hub holds nothing newer.
func (h *Hub) Subscribe(client *Client, battleID string, snapshot *Message) {
	h.subscribe <- &subscriptionRequest{client: client, battleID: battleID, snapshot: snapshot}
}

// Unsubscribe removes a client from a battle's progress feed
func (h *Hub) Unsubscribe(client *Client, battleID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, battleID: battleID}
}

// GetSubscriberCount returns the number of subscribers for a battle
func (h *Hub) GetSubscriberCount(battleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.battles[battleID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// terminal reports whether m ends a battle's feed
func terminal(m *Message) bool {
	return m != nil && m.BattleID != "" && (m.Type == MessageTypeComplete || m.Type == MessageTypeError)
}
