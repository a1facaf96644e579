// Package realtime streams incident analyses to live dashboards over
// WebSocket.
//
// A dashboard connecting to /ws first receives the most recent analyses, then
// live events. Sending a Subscription message narrows the stream by event
// type, site, level or minimum score.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treloxai/riskops/internal/metrics"
	"github.com/treloxai/riskops/internal/risk"
)

const (
	// MaxClients caps concurrent dashboard connections.
	MaxClients = 1000
	// DefaultReplay is how many recent analyses a new dashboard receives.
	DefaultReplay = 20

	sendBuffer     = 256
	maxMessageSize = 64 << 10
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

// EventType names what happened to an incident.
type EventType string

const (
	EventAnalysis EventType = "analysis"
	EventReport   EventType = "report"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Analysis is the payload of analysis and report events: the result plus the
// site it belongs to, so dashboards can route it without the request.
type Analysis struct {
	SiteID string           `json:"site_id"`
	ZoneID string           `json:"zone_id,omitempty"`
	Result *risk.RiskResult `json:"result"`
}

// Subscription filters a dashboard's stream. Empty filters match everything.
type Subscription struct {
	EventTypes []EventType  `json:"event_types"`
	SiteIDs    []string     `json:"site_ids"`
	Levels     []risk.Level `json:"levels"`
	MinScore   float64      `json:"min_score"`
}

func (s Subscription) matches(event *Event) bool {
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, event.Type) {
		return false
	}

	// Site, level and score filters only look at incident payloads.
	a, ok := event.Data.(*Analysis)
	if !ok || a.Result == nil {
		return true
	}
	switch {
	case len(s.SiteIDs) > 0 && !slices.Contains(s.SiteIDs, a.SiteID):
		return false
	case len(s.Levels) > 0 && !slices.Contains(s.Levels, a.Result.GlobalSeverityLevel):
		return false
	case s.MinScore > 0 && a.Result.GlobalSeverityScore < s.MinScore:
		return false
	}
	return true
}

// Client is one connected dashboard.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) subscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// offer queues payload without blocking; false means the client is behind.
func (c *Client) offer(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func shouldSend(c *Client, event *Event) bool {
	return c.subscription().matches(event)
}

// frame is an encoded event kept for replay.
type frame struct {
	event   *Event
	payload []byte
}

// Stats is a snapshot of hub activity, served at /ws/stats.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedClients   int64 `json:"droppedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	ReplayBuffered   int   `json:"replayBuffered"`
}

// Hub fans events out to connected dashboards. All membership changes go
// through Run's goroutine.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	maxClients int
	replay     int

	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	running    atomic.Bool

	mu      sync.RWMutex
	clients map[*Client]struct{}
	recent  []frame // newest last, at most replay entries

	events   atomic.Int64
	connects atomic.Int64
	peak     atomic.Int64
	dropped  atomic.Int64
}

// NewHub creates a hub. allowedOrigins lists browser origins allowed to
// connect; "*" allows any.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	return &Hub{
		logger:     logger,
		maxClients: MaxClients,
		replay:     DefaultReplay,
		broadcast:  make(chan *Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowedOrigins)
			},
		},
	}
}

// originAllowed accepts non-browser clients, same-host pages and the
// configured origins.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// Run owns the client set until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()
	h.logger.Info("realtime hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Running reports whether Run is active.
func (h *Hub) Running() bool {
	return h.running.Load()
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	sub := c.subscription()
	for _, f := range h.recent {
		if sub.matches(f.event) && !c.offer(f.payload) {
			break
		}
	}
	h.mu.Unlock()

	h.connects.Add(1)
	for peak := h.peak.Load(); int64(n) > peak; peak = h.peak.Load() {
		if h.peak.CompareAndSwap(peak, int64(n)) {
			break
		}
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("dashboard connected", "clients", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.ActiveWebSocketClients.Set(float64(n))
		h.logger.Info("dashboard disconnected", "clients", n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send) // writePump answers with a close frame
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

func (h *Hub) fanOut(event *Event) {
	h.events.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event serialization failed", "type", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.Type == EventAnalysis && h.replay > 0 {
		h.recent = append(h.recent, frame{event: event, payload: payload})
		if extra := len(h.recent) - h.replay; extra > 0 {
			h.recent = slices.Delete(h.recent, 0, extra)
		}
	}

	for c := range h.clients {
		if !shouldSend(c, event) || c.offer(payload) {
			continue
		}
		// A dashboard that cannot keep up is cut off rather than stalling
		// the others; it reconnects and gets the replay.
		delete(h.clients, c)
		close(c.send)
		h.dropped.Add(1)
		h.logger.Warn("dropping slow dashboard", "clients", len(h.clients))
	}
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

// Broadcast queues an event; it never blocks the caller.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", event.Type)
	}
}

// EmitAnalysis broadcasts a completed analysis.
func (h *Hub) EmitAnalysis(_ context.Context, site risk.Context, result *risk.RiskResult) {
	h.emit(EventAnalysis, site, result)
}

// EmitReport broadcasts that a report was generated for an analysis.
func (h *Hub) EmitReport(_ context.Context, site risk.Context, result *risk.RiskResult) {
	h.emit(EventReport, site, result)
}

func (h *Hub) emit(t EventType, site risk.Context, result *risk.RiskResult) {
	h.Broadcast(&Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      &Analysis{SiteID: site.SiteID, ZoneID: site.ZoneID, Result: result},
	})
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected, buffered := len(h.clients), len(h.recent)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: connected,
		TotalClients:     h.connects.Load(),
		PeakClients:      h.peak.Load(),
		DroppedClients:   h.dropped.Load(),
		TotalEvents:      h.events.Load(),
		ReplayBuffered:   buffered,
	}
}

// HandleWebSocket upgrades a dashboard connection and attaches it to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies subscription messages and keeps the read deadline alive.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "error", err)
			continue
		}
		c.subscribe(sub)
	}
}

// writePump drains the send queue and pings idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
