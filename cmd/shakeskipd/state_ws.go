package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State websocket
//
// Every connected client first receives "state_init" with the full daemon
// status, then one JSON text frame per change:
//
//	{"type": "...", "ts": "...", "data": {...}}
//
// Clients whose send queue fills up are disconnected.

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultClientBuf    = 32
	defaultBroadcastBuf = 128
)

// envelope is the wire form of every state message.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type HubConfig struct {
	// ClientBuf is the per-client outbound queue length.
	ClientBuf int
	// BroadcastBuf is the hub inbound queue length.
	BroadcastBuf int
}

// Hub fans serialized frames out to every registered client.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu        sync.Mutex
	clients   map[*Client]struct{}
	clientBuf int
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.ClientBuf <= 0 {
		cfg.ClientBuf = defaultClientBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		clientBuf:  cfg.ClientBuf,
	}
}

// Run serves registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.disconnectAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("state client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.drop(c, "closed")

		case frame := <-h.broadcast:
			for _, c := range h.deliver(frame) {
				h.drop(c, "slow_client")
			}
		}
	}
}

// deliver queues frame on every client and returns those that were full.
func (h *Hub) deliver(frame []byte) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var full []*Client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			full = append(full, c)
		}
	}
	return full
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.logger.Info("state client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Publish queues a frame for every client. It never blocks.
func (h *Hub) Publish(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("state hub queue full, dropping frame", "bytes", len(frame))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce  sync.Once
	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.clientBuf),
		remoteAddr: remoteAddr,
		logger:     hub.logger,
	}
}

// close shuts the connection and ends writePump. Safe to call repeatedly.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("state client "+pump+" closed", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("state client "+pump+" error", "remote_addr", c.remoteAddr, "error", err)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process pongs and notice
// disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
			return
		}
	}
}

// ============================================================================
// HTTP
// ============================================================================

// StateServer upgrades HTTP requests into state clients.
type StateServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() daemonStatus
	upgrader websocket.Upgrader
}

func NewStateServer(logger *slog.Logger, snapshot func() daemonStatus, cfg HubConfig) *StateServer {
	return &StateServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Register mounts the websocket handler at path.
func (s *StateServer) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handle)
}

func (s *StateServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("state websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr)

	// state_init is queued before registration so it is always the first
	// frame the client sees.
	if s.snapshot != nil {
		frame, err := marshalEnvelope("state_init", time.Time{}, s.snapshot())
		if err != nil {
			s.logger.Warn("state_init marshal failed", "error", err)
		} else {
			client.send <- frame
		}
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		client.close()
		return
	}

	// The pumps outlive the request context; the hub owns the connection.
	go client.writePump()
	go client.readPump()
}

// runHTTPServer serves handler on addr until ctx is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	logger.Info("state websocket listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
