package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/observer"
	"github.com/tubepost/api/internal/store"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Conn is the part of a websocket connection the hub uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// Client is one open UI
type Client struct {
	ID   string
	Conn Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue queues msg without blocking. It reports false when the client is
// gone or too slow to keep up.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub maintains active WebSocket connections. Each connection gets its own
// observer of the state record; badge and notification changes are broadcast
// to every connection.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	store       store.Store
	sender      command.Sender
	indicator   notify.Indicator
	validate    *validator.Validate
	sourceMatch string
	log         *logrus.Entry

	mu sync.RWMutex
}

// HubConfig holds the hub's collaborators
type HubConfig struct {
	Store       store.Store
	Sender      command.Sender
	Indicator   notify.Indicator
	Validate    *validator.Validate
	SourceMatch string
	Log         logrus.FieldLogger
}

func NewHub(cfg HubConfig) *Hub {
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		store:       cfg.Store,
		sender:      cfg.Sender,
		indicator:   cfg.Indicator,
		validate:    validate,
		sourceMatch: cfg.SourceMatch,
		log:         logger.Component(cfg.Log, "ws-hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			client.close()
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.WithField("client_id", client.ID).Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			h.log.WithField("client_id", client.ID).Debug("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.enqueue(msg) {
					h.log.WithField("client_id", client.ID).Warn("dropping slow client")
					client.close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Follow broadcasts every badge change and notification from the feeds until
// the returned stop function is called.
func (h *Hub) Follow(ctx context.Context, badges notify.BadgeFeed, notes notify.NotificationFeed) (func(), error) {
	stopBadges, err := badges.Watch(ctx, h.BroadcastBadge)
	if err != nil {
		return nil, err
	}
	stopNotes, err := notes.Watch(ctx, h.BroadcastNotification)
	if err != nil {
		stopBadges()
		return nil, err
	}
	return func() {
		stopBadges()
		stopNotes()
	}, nil
}

// BroadcastBadge sends a badge change to all clients
func (h *Hub) BroadcastBadge(badge model.Badge) {
	h.publish(model.WSBadgeMessage{Type: model.WSMessageTypeBadge, Badge: badge})
}

// BroadcastNotification sends a notification to all clients
func (h *Hub) BroadcastNotification(n model.Notification) {
	h.publish(model.WSNotificationMessage{Type: model.WSMessageTypeNotification, Notification: n})
}

func (h *Hub) publish(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// HandleConnection serves one UI until it disconnects. pageURL is the page the
// UI was opened on, used to prefill the input.
func (h *Hub) HandleConnection(c Conn, pageURL string) {
	client := &Client{
		ID:   uuid.New().String(),
		Conn: c,
		Send: make(chan []byte, sendBuffer),
	}
	log := h.log.WithField("client_id", client.ID)

	if !h.Register(client) {
		return
	}

	writerDone := make(chan struct{})
	go h.writePump(client, writerDone)
	defer func() {
		h.Unregister(client)
		<-writerDone
	}()

	opts := []observer.Option{
		observer.WithSourceMatch(h.sourceMatch),
		observer.WithIndicator(h.indicator),
	}
	if pageURL != "" {
		opts = append(opts, observer.WithPageContext(observer.StaticPage(pageURL)))
	}
	obs := observer.New(h.store, h.sender, log, opts...)
	obs.OnChange(func(s observer.Snapshot) {
		sendJSON(client, model.WSStateMessage{Type: model.WSMessageTypeState, State: s.State, InputURL: s.InputURL})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := obs.Activate(ctx); err != nil {
		log.WithError(err).Error("failed to activate observer")
		sendError(client, "STATE_UNAVAILABLE", "Could not load generation state")
		return
	}
	defer obs.Deactivate()

	if url := obs.Snapshot().InputURL; url != "" {
		sendJSON(client, model.WSPrefillMessage{Type: model.WSMessageTypePrefill, URL: url})
	}

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("websocket read error")
			}
			return
		}

		var msg model.WSClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			sendError(client, "INVALID_MESSAGE", "Message must be JSON")
			continue
		}
		h.handleMessage(ctx, client, obs, msg, log)
	}
}

func (h *Hub) handleMessage(ctx context.Context, client *Client, obs *observer.Observer, msg model.WSClientMessage, log *logrus.Entry) {
	switch msg.Type {
	case model.WSMessageTypePing:
		sendJSON(client, model.WSMessage{Type: model.WSMessageTypePong})

	case model.WSMessageTypeStart:
		if err := h.validate.Var(msg.URL, "omitempty,url"); err != nil {
			sendError(client, "VALIDATION_ERROR", "url must be a valid URL")
			return
		}
		if _, err := obs.Start(ctx, msg.URL); err != nil {
			if errors.Is(err, observer.ErrNoURL) {
				sendError(client, "VALIDATION_ERROR", "url is required")
				return
			}
			log.WithError(err).Error("failed to send start command")
			sendError(client, "COMMAND_FAILED", "Could not start generation")
		}

	case model.WSMessageTypeReset:
		if _, err := obs.Reset(ctx); err != nil {
			log.WithError(err).Error("failed to send reset command")
			sendError(client, "COMMAND_FAILED", "Could not reset generation")
		}

	default:
		sendError(client, "INVALID_MESSAGE", "Unknown message type")
	}
}

func (h *Hub) writePump(client *Client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendJSON(client *Client, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.enqueue(data)
}

func sendError(client *Client, code, message string) {
	sendJSON(client, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Error: model.WSError{Code: code, Message: message},
	})
}
