package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"offlinekit/internal/constants"
	"offlinekit/internal/metrics"
	"offlinekit/internal/models"
	"offlinekit/internal/notify"
	"offlinekit/internal/privacy"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Envelope types sent to windows
const (
	TypeNotification      = "notification"
	TypeNotificationClose = "notification.close"
	TypeFocus             = "focus"
	TypeControllerChange  = "controllerchange"
	TypeNotice            = "notice"
)

// Envelope types received from windows
const (
	TypeNavigate = "navigate"
	TypeFocused  = "focused"
	TypeMessage  = "message"
)

const maxInboundBytes = 64 * 1024

// ErrNoOpener is returned by OpenWindow when the hub cannot launch windows
var ErrNoOpener = notify.ErrNoOpener

// ErrWindowNotFound is returned when a window id is not connected
var ErrWindowNotFound = errors.New("window not connected")

// Envelope is the wire format in both directions
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Opener launches a new window at url
type Opener func(ctx context.Context, url string) error

// MessageHandler receives messages windows post to the worker
type MessageHandler func(ctx context.Context, windowID string, payload json.RawMessage) error

// ConnectHook runs after a window registers
type ConnectHook func(ctx context.Context, window models.Window)

type client struct {
	id          string
	conn        *websocket.Conn
	send        chan Envelope
	connectedAt time.Time

	mu      sync.Mutex
	url     string
	focused bool
	closed  bool
}

func (c *client) window() models.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Window{
		ID:          c.id,
		URL:         c.url,
		Focused:     c.focused,
		ConnectedAt: models.Timestamp(c.connectedAt),
	}
}

// Hub tracks connected application windows and pushes events to them
type Hub struct {
	logger         *logrus.Logger
	opener         Opener
	onMessage      MessageHandler
	onConnect      ConnectHook
	sendBuffer     int
	writeTimeout   time.Duration
	originPatterns []string

	mu      sync.RWMutex
	clients map[string]*client
	order   []string
}

// Option configures a Hub
type Option func(*Hub)

// WithOpener sets how new windows are launched
func WithOpener(opener Opener) Option {
	return func(h *Hub) { h.opener = opener }
}

// WithMessageHandler sets the receiver of window messages
func WithMessageHandler(fn MessageHandler) Option {
	return func(h *Hub) { h.onMessage = fn }
}

// WithConnectHook sets a callback run when a window registers
func WithConnectHook(fn ConnectHook) Option {
	return func(h *Hub) { h.onConnect = fn }
}

// WithSendBuffer sets the per-window outbound queue size
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single write to a window
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin websocket upgrades from these hosts
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// New creates a hub
func New(logger *logrus.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Hub{
		logger:       logger,
		sendBuffer:   constants.DefaultHubSendBuffer,
		writeTimeout: time.Duration(constants.DefaultHubWriteTimeoutSec) * time.Second,
		clients:      make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves one window until it disconnects.
// The window announces its location with the url query parameter, falling
// back to the Referer header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Server read/write timeouts would otherwise cut long lived windows off
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept window connection")
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	windowURL := r.URL.Query().Get("url")
	if windowURL == "" {
		windowURL = r.Referer()
	}

	c := &client{
		id:          models.NewClientID(),
		conn:        conn,
		send:        make(chan Envelope, h.sendBuffer),
		connectedAt: time.Now(),
		url:         windowURL,
	}

	ctx := r.Context()
	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(ctx, c)

	if h.onConnect != nil {
		h.onConnect(ctx, c.window())
	}

	h.readLoop(ctx, c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.order = append(h.order, c.id)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.SetGauge(metrics.ConnectedWindows, float64(count), nil, "Connected application windows")
	h.logger.WithFields(logrus.Fields{
		"window_id": privacy.MaskClientID(c.id),
		"url":       privacy.MaskURLQuery(c.url),
	}).Info("Window connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		for i, id := range h.order {
			if id == c.id {
				h.order = append(h.order[:i:i], h.order[i+1:]...)
				break
			}
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	metrics.SetGauge(metrics.ConnectedWindows, float64(count), nil, "Connected application windows")
	h.logger.WithField("window_id", privacy.MaskClientID(c.id)).Info("Window disconnected")
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.WithError(err).WithField("window_id", privacy.MaskClientID(c.id)).Debug("Window read failed")
			}
			c.conn.CloseNow()
			return
		}
		h.handleInbound(ctx, c, env)
	}
}

func (h *Hub) handleInbound(ctx context.Context, c *client, env Envelope) {
	switch env.Type {
	case TypeNavigate:
		var p struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.URL != "" {
			c.mu.Lock()
			c.url = p.URL
			c.mu.Unlock()
		}
	case TypeFocused:
		h.setFocused(c.id)
	case TypeMessage:
		if h.onMessage == nil {
			return
		}
		if err := h.onMessage(ctx, c.id, env.Payload); err != nil {
			h.logger.WithError(err).WithField("window_id", privacy.MaskClientID(c.id)).Warn("Window message rejected")
		}
	default:
		h.logger.WithField("type", env.Type).Debug("Ignoring unknown window message")
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for env := range c.send {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := wsjson.Write(writeCtx, c.conn, env)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("window_id", privacy.MaskClientID(c.id)).Debug("Window write failed")
			c.conn.CloseNow()
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// enqueue queues env for c without blocking. A window that cannot keep up is
// disconnected.
func (h *Hub) enqueue(c *client, env Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		h.logger.WithField("window_id", privacy.MaskClientID(c.id)).Warn("Window send buffer full, disconnecting")
		c.closed = true
		close(c.send)
		go c.conn.Close(websocket.StatusPolicyViolation, "send buffer full")
		return false
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.clients[id])
	}
	return out
}

func (h *Hub) lookup(id string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) setFocused(id string) {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		c.focused = c.id == id
		c.mu.Unlock()
	}
}

// Broadcast sends an envelope to every window and returns how many accepted it
func (h *Hub) Broadcast(_ context.Context, msgType string, payload interface{}) (int, error) {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, c := range h.snapshot() {
		if h.enqueue(c, env) {
			delivered++
		}
	}
	return delivered, nil
}

// Show displays a notification in every connected window
func (h *Hub) Show(ctx context.Context, n models.Notification) (int, error) {
	delivered, err := h.Broadcast(ctx, TypeNotification, n)
	if err != nil {
		return 0, fmt.Errorf("failed to show notification: %w", err)
	}
	if delivered == 0 {
		h.logger.WithField("title", n.Title).Debug("No window connected to show notification")
	}
	return delivered, nil
}

// Close dismisses a notification in every window
func (h *Hub) Close(ctx context.Context, n models.Notification) error {
	_, err := h.Broadcast(ctx, TypeNotificationClose, n)
	return err
}

// Publish sends a status notice to every window
func (h *Hub) Publish(ctx context.Context, notice models.Notice) {
	if _, err := h.Broadcast(ctx, TypeNotice, notice); err != nil {
		h.logger.WithError(err).Warn("Failed to publish notice")
	}
}

// MatchAll lists connected windows in connection order
func (h *Hub) MatchAll(_ context.Context) []models.Window {
	clients := h.snapshot()
	out := make([]models.Window, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.window())
	}
	return out
}

// Focus asks one window to bring itself to the front
func (h *Hub) Focus(_ context.Context, windowID string) error {
	c, ok := h.lookup(windowID)
	if !ok {
		return ErrWindowNotFound
	}
	env, err := newEnvelope(TypeFocus, nil)
	if err != nil {
		return err
	}
	if !h.enqueue(c, env) {
		return ErrWindowNotFound
	}
	h.setFocused(windowID)
	return nil
}

// OpenWindow launches a new window at url
func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	if h.opener == nil {
		return ErrNoOpener
	}
	if err := h.opener(ctx, url); err != nil {
		return fmt.Errorf("failed to open window: %w", err)
	}
	return nil
}

// Claim tells every window that a new worker generation controls it
func (h *Hub) Claim(ctx context.Context, version string) int {
	delivered, err := h.Broadcast(ctx, TypeControllerChange, map[string]string{"version": version})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to claim windows")
		return 0
	}
	return delivered
}

// Count returns the number of connected windows
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every window
func (h *Hub) Shutdown() {
	for _, c := range h.snapshot() {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func newEnvelope(msgType string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	env.Payload = raw
	return env, nil
}
