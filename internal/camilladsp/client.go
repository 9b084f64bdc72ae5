// Package camilladsp talks to a CamillaDSP instance over its websocket
// control API.
package camilladsp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when no connection could be established.
	ErrNotConnected = errors.New("camilladsp: no websocket connection")

	// ErrCommandFailed is returned when CamillaDSP answers with a result
	// other than "Ok".
	ErrCommandFailed = errors.New("camilladsp: command failed")
)

// Config configures a Client.
type Config struct {
	URL              string
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	ConnectAttempts  int
	RetryDelay       time.Duration
}

// DefaultConfig points at a local CamillaDSP on its default port.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://127.0.0.1:1234",
		ReadTimeout:      500 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
		ConnectAttempts:  10,
		RetryDelay:       500 * time.Millisecond,
	}
}

// Client is a request/response client for the CamillaDSP websocket API.
// Calls are serialized; a broken connection is re-dialled on the next call.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger
}

// reply is the envelope of every CamillaDSP answer: {"<Command>": {...}}.
type reply struct {
	Result string          `json:"result"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// NewClient dials CamillaDSP, retrying up to cfg.ConnectAttempts times.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{cfg: cfg, logger: logger}
	if err := c.connectWithRetry(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectLocked() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := d.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) connectWithRetry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectWithRetryLocked()
}

func (c *Client) connectWithRetryLocked() error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ConnectAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.cfg.RetryDelay)
		}
		err := c.connectLocked()
		if err == nil {
			c.logger.Info("connected to CamillaDSP", "url", c.cfg.URL)
			return nil
		}
		lastErr = err
		c.logger.Warn("CamillaDSP connection failed", "error", err, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %d attempts: %v", ErrNotConnected, c.cfg.ConnectAttempts, lastErr)
}

// call sends cmd and returns the value of the reply named name.
func (c *Client) call(name string, cmd any) (json.RawMessage, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warn("CamillaDSP connection lost; reconnecting")
		if err := c.connectWithRetryLocked(); err != nil {
			return nil, err
		}
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env map[string]reply
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", name, err)
	}
	r, ok := env[name]
	if !ok {
		return nil, fmt.Errorf("decode %s reply: unexpected message %s", name, msg)
	}
	if r.Result != "Ok" {
		return nil, fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, r.Result)
	}
	c.logger.Debug("CamillaDSP reply", "command", name, "value", string(r.Value))
	return r.Value, nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// SetVolume sets the main fader in dB.
func (c *Client) SetVolume(db float64) error {
	_, err := c.call("SetVolume", map[string]any{"SetVolume": db})
	return err
}

// GetVolume returns the main fader in dB.
func (c *Client) GetVolume() (float64, error) {
	raw, err := c.call("GetVolume", "GetVolume")
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode GetVolume value: %w", err)
	}
	return v, nil
}

func (c *Client) SetMute(mute bool) error {
	_, err := c.call("SetMute", map[string]any{"SetMute": mute})
	return err
}

func (c *Client) GetMute() (bool, error) {
	raw, err := c.call("GetMute", "GetMute")
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decode GetMute value: %w", err)
	}
	return v, nil
}

// GetState returns the processing state ("Running", "Paused", ...).
func (c *Client) GetState() (string, error) {
	raw, err := c.call("GetState", "GetState")
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode GetState value: %w", err)
	}
	return v, nil
}

// Close closes the connection. A later call re-dials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}
