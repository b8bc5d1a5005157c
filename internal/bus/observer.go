package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hiroaki404/trip-ai/internal/routes"
)

const (
	// DefaultAddr is the default listen address for the observer.
	DefaultAddr = "127.0.0.1:8765"

	// WebSocketEndpoint is the path for WebSocket connections.
	WebSocketEndpoint = "/ws"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/health"

	// MetricsEndpoint serves Prometheus metrics when configured.
	MetricsEndpoint = "/metrics"

	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum client message size.
	MaxMessageSize = 16 * 1024
)

// Conversation is one planning session driven from a websocket client.
type Conversation interface {
	ID() string
	// Start runs the session in the background.
	Start(ctx context.Context, input string)
	Busy() bool
	SubmitAnswer(text string) error
	SubmitFeedback(text string) error
	// Close aborts a run parked on a gate.
	Close()
}

// RouteReader reads stored route geometry.
type RouteReader interface {
	Get(id string) (routes.Geometry, error)
}

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Type string `json:"type"` // "start", "answer" or "feedback"
	Text string `json:"text"`
}

// Observer is the HTTP front end of `tripai serve`. Each websocket
// connection drives its own conversation and receives that conversation's
// bus events as JSON.
type Observer struct {
	bus      *Bus
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server

	newConversation func() Conversation
	routes          RouteReader
	metrics         http.Handler

	// Client management
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	subID      SubscriptionID

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.RWMutex
}

// Client represents a single WebSocket connection.
type Client struct {
	observer *Observer
	conn     *websocket.Conn
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conv Conversation
}

// ObserverConfig configures the observer.
type ObserverConfig struct {
	Addr string

	// NewConversation creates the session for a "start" message.
	NewConversation func() Conversation

	// Routes backs GET /routes/{id}. Nil disables the endpoint.
	Routes RouteReader

	// Metrics backs GET /metrics. Nil disables the endpoint.
	Metrics http.Handler
}

// NewObserver creates an observer attached to bus.
func NewObserver(bus *Bus, config ObserverConfig) *Observer {
	ctx, cancel := context.WithCancel(context.Background())
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	o := &Observer{
		bus:  bus,
		addr: config.Addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Local tool; the UI may be served from any origin.
				return true
			},
		},
		newConversation: config.NewConversation,
		routes:          config.Routes,
		metrics:         config.Metrics,
		clients:         make(map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		ctx:             ctx,
		cancel:          cancel,
	}

	o.subID = bus.Subscribe(EventType(""), o.handleBusEvent)

	o.wg.Add(1)
	go o.runClientManager()

	return o
}

// Handler returns the observer's HTTP routes.
func (o *Observer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketEndpoint, o.handleWebSocket)
	mux.HandleFunc("GET "+HealthEndpoint, o.handleHealth)
	if o.metrics != nil {
		mux.Handle("GET "+MetricsEndpoint, o.metrics)
	}
	if o.routes != nil {
		mux.HandleFunc("GET /routes/{id}", o.handleRoute)
	}
	mux.HandleFunc("GET /{$}", o.handleIndex)
	return mux
}

// Start listens on the configured address.
func (o *Observer) Start() error {
	o.runningMu.Lock()
	if o.running {
		o.runningMu.Unlock()
		return fmt.Errorf("observer already running")
	}

	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		o.runningMu.Unlock()
		return fmt.Errorf("listen %s: %w", o.addr, err)
	}
	o.server = &http.Server{Handler: o.Handler(), ReadHeaderTimeout: 10 * time.Second}
	o.running = true
	o.runningMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("observer listening")
		if err := o.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("observer server error")
		}
	}()

	return nil
}

// Stop closes every client, aborts their conversations and shuts the server down.
func (o *Observer) Stop() error {
	o.runningMu.Lock()
	server := o.server
	o.running = false
	o.runningMu.Unlock()

	o.cancel()
	_ = o.bus.Unsubscribe(o.subID)

	o.clientsMu.Lock()
	for client := range o.clients {
		client.shutdown()
		delete(o.clients, client)
	}
	o.clientsMu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	o.wg.Wait()
	log.Info().Msg("observer stopped")
	return nil
}

// IsRunning returns whether the observer is currently listening.
func (o *Observer) IsRunning() bool {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()
	return o.running
}

// ClientCount returns the number of connected WebSocket clients.
func (o *Observer) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// runClientManager handles client registration/unregistration.
func (o *Observer) runClientManager() {
	defer o.wg.Done()

	for {
		select {
		case client := <-o.register:
			o.clientsMu.Lock()
			o.clients[client] = true
			n := len(o.clients)
			o.clientsMu.Unlock()
			log.Debug().Int("clients", n).Msg("websocket client connected")

		case client := <-o.unregister:
			o.clientsMu.Lock()
			if _, ok := o.clients[client]; ok {
				delete(o.clients, client)
				client.shutdown()
			}
			n := len(o.clients)
			o.clientsMu.Unlock()
			log.Debug().Int("clients", n).Msg("websocket client disconnected")

		case <-o.ctx.Done():
			return
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (o *Observer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(o.ctx)
	client := &Client{
		observer: o,
		conn:     conn,
		send:     make(chan []byte, 256),
		ctx:      ctx,
		cancel:   cancel,
	}

	select {
	case o.register <- client:
	case <-o.ctx.Done():
		cancel()
		conn.Close()
		return
	}

	o.wg.Add(2)
	go o.writePump(client)
	go o.readPump(client)
}

// shutdown aborts the client's conversation and stops its pumps. Called with
// clientsMu held, once per client.
func (c *Client) shutdown() {
	c.cancel()
	c.mu.Lock()
	if c.conv != nil {
		c.conv.Close()
	}
	c.mu.Unlock()
	close(c.send)
}

func (c *Client) conversation() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// writePump handles sending messages to the WebSocket client.
func (o *Observer) writePump(client *Client) {
	defer o.wg.Done()
	defer client.conn.Close()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				// Channel closed
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and routes them to the conversation.
func (o *Observer) readPump(client *Client) {
	defer o.wg.Done()
	defer func() {
		select {
		case o.unregister <- client:
		case <-o.ctx.Done():
		}
	}()

	client.conn.SetReadLimit(MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(PongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			o.sendError(client, "", fmt.Errorf("invalid message: %w", err))
			continue
		}
		if err := o.dispatch(client, msg); err != nil {
			conv := client.conversation()
			id := ""
			if conv != nil {
				id = conv.ID()
			}
			o.sendError(client, id, err)
		}
	}
}

func (o *Observer) dispatch(client *Client, msg ClientMessage) error {
	typ := strings.ToLower(strings.TrimSpace(msg.Type))
	switch typ {
	case "start":
		if o.newConversation == nil {
			return errors.New("planning is not available")
		}
		client.mu.Lock()
		if client.conv != nil && client.conv.Busy() {
			client.mu.Unlock()
			return errors.New("a planning session is already running")
		}
		conv := o.newConversation()
		client.conv = conv
		client.mu.Unlock()

		log.Info().Str("request_id", conv.ID()).Msg("websocket session started")
		conv.Start(client.ctx, msg.Text)
		return nil

	case "answer", "feedback":
		conv := client.conversation()
		if conv == nil {
			return errors.New("no planning session; send a start message first")
		}
		if typ == "answer" {
			return conv.SubmitAnswer(msg.Text)
		}
		return conv.SubmitFeedback(msg.Text)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (o *Observer) sendError(client *Client, requestID string, err error) {
	e := NewEvent(EventType("error"))
	e.RequestID = requestID
	e.Error = err.Error()
	data, merr := json.Marshal(e)
	if merr != nil {
		return
	}
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	if o.clients[client] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// handleBusEvent forwards an event to the client driving its session.
func (o *Observer) handleBusEvent(event Event) {
	if event.RequestID == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to marshal event")
		return
	}

	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	for client := range o.clients {
		conv := client.conversation()
		if conv == nil || conv.ID() != event.RequestID {
			continue
		}
		select {
		case client.send <- data:
		default:
			log.Warn().Str("request_id", event.RequestID).Msg("websocket client backed up, event dropped")
		}
	}
}

// handleHealth responds to health check requests.
func (o *Observer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status      string `json:"status"`
		Service     string `json:"service"`
		Clients     int    `json:"clients"`
		BusSubs     int    `json:"bus_subscriptions"`
		HistorySize int    `json:"history_size"`
		Dropped     uint64 `json:"dropped_events"`
	}{
		Status:      "healthy",
		Service:     "tripai",
		Clients:     o.ClientCount(),
		BusSubs:     o.bus.SubscriptionsCount(),
		HistorySize: len(o.bus.History(0)),
		Dropped:     o.bus.Dropped(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleRoute returns a stored route geometry.
func (o *Observer) handleRoute(w http.ResponseWriter, r *http.Request) {
	g, err := o.routes.Get(r.PathValue("id"))
	if errors.Is(err, routes.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g)
}

// handleIndex provides basic info at the root endpoint.
func (o *Observer) handleIndex(w http.ResponseWriter, r *http.Request) {
	types := make([]string, len(EventTypes))
	for i, t := range EventTypes {
		types[i] = string(t)
	}

	info := struct {
		Name       string   `json:"name"`
		WebSocket  string   `json:"websocket_endpoint"`
		Health     string   `json:"health_endpoint"`
		EventTypes []string `json:"event_types"`
	}{
		Name:       "tripai",
		WebSocket:  WebSocketEndpoint,
		Health:     HealthEndpoint,
		EventTypes: types,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
