// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loop-social/loopkit/lib/version"
)

// DefaultEndpoint is the production gateway WebSocket endpoint.
const DefaultEndpoint = "wss://events.loop-social.com/cable"

// State is the connection lifecycle state of a Client.
type State int

const (
	// Disconnected is the initial state and the state after any
	// connection loss. Connect is only meaningful here.
	Disconnected State = iota

	// Connecting covers the dial window. Connect calls arriving in
	// this state are no-ops.
	Connecting

	// Connected means the socket is open and subscribe/unsubscribe
	// commands will be sent.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handler receives one inbound gateway frame. The event is the frame's
// event field; payload is the complete frame, undecoded, so handlers
// can pick out whatever domain fields they understand.
type Handler func(event string, payload json.RawMessage)

// command is the outbound frame shape for subscription management.
type command struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

// inboundFrame is the minimal decode of any frame the gateway sends.
// Protocol frames carry a type (ping, welcome); domain frames carry an
// event. Everything else on the frame stays in the raw bytes.
type inboundFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// ClientConfig configures a gateway Client.
type ClientConfig struct {
	// Endpoint is the WebSocket URL to dial. Empty means
	// DefaultEndpoint.
	Endpoint string

	// Dialer performs the WebSocket handshake. Nil means
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger receives connection lifecycle and dropped-frame logs.
	// Nil means slog.Default().
	Logger *slog.Logger

	// TrackSubscriptions makes the client remember active channels
	// and suppress redundant subscribe/unsubscribe frames. Off by
	// default: the remote side is authoritative and treats repeated
	// commands as idempotent.
	TrackSubscriptions bool
}

// Client maintains one persistent gateway connection and routes
// inbound events to registered handlers.
//
// All methods are safe for concurrent use. Handlers run on the
// connection's read goroutine: a slow handler delays subsequent
// frames, so handlers that do real work should hand off to their own
// goroutine or channel.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *slog.Logger
	track    bool

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	active   map[string]bool
	handlers map[string][]Handler
}

// NewClient constructs a disconnected Client.
func NewClient(config ClientConfig) *Client {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		dialer:   dialer,
		logger:   logger,
		track:    config.TrackSubscriptions,
		active:   make(map[string]bool),
		handlers: make(map[string][]Handler),
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a handler for frames whose event field equals event.
// The event "*" matches every routable frame, after any exact-match
// handlers. Multiple handlers per event are invoked in registration
// order. Registration is allowed in any state and survives reconnects.
func (c *Client) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Connect dials the gateway with the stream token and app version
// embedded in the connection URL, then starts the read loop. A no-op
// when already connecting or connected.
func (c *Client) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("gateway: connect requires a stream token")
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	target, err := url.Parse(c.endpoint)
	if err != nil {
		c.setDisconnected(nil)
		return fmt.Errorf("gateway: parsing endpoint %q: %w", c.endpoint, err)
	}
	query := target.Query()
	query.Set("token", token)
	query.Set("app_version", version.App)
	target.RawQuery = query.Encode()

	conn, _, err := c.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		c.setDisconnected(nil)
		return fmt.Errorf("gateway: dialing %s: %w", target.Host, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("gateway connected", "host", target.Host)
	go c.readLoop(conn)
	return nil
}

// Subscribe sends a subscribe command for the channel identifier. A
// no-op when not connected. Repeated subscribes send repeated frames
// unless the client was configured to track subscriptions — the
// remote side treats them as idempotent either way.
func (c *Client) Subscribe(channel string) error {
	return c.sendCommand("subscribe", channel)
}

// Unsubscribe sends an unsubscribe command for the channel
// identifier. A no-op when not connected; unsubscribing from an
// inactive channel is accepted by the remote side.
func (c *Client) Unsubscribe(channel string) error {
	return c.sendCommand("unsubscribe", channel)
}

func (c *Client) sendCommand(verb, channel string) error {
	if channel == "" {
		return fmt.Errorf("gateway: %s requires a channel identifier", verb)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		c.logger.Debug("dropping command while not connected",
			"command", verb,
			"channel", channel,
			"state", c.state,
		)
		return nil
	}

	if c.track {
		subscribed := c.active[channel]
		if verb == "subscribe" && subscribed {
			return nil
		}
		if verb == "unsubscribe" && !subscribed {
			return nil
		}
	}

	frame, err := json.Marshal(command{Command: verb, Identifier: channel})
	if err != nil {
		return fmt.Errorf("gateway: encoding %s command: %w", verb, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("gateway: sending %s for %q: %w", verb, channel, err)
	}

	if c.track {
		c.active[channel] = verb == "subscribe"
	}
	return nil
}

// Close shuts the connection down and transitions to Disconnected.
// Safe to call in any state.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Best-effort close handshake; the read loop observes the socket
	// closing and finishes the state transition. WriteControl is the
	// one write method gorilla permits concurrently with other writers,
	// so this cannot race a Subscribe holding c.mu.
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

// readLoop consumes frames until the connection fails, then
// transitions the client to Disconnected. Runs on its own goroutine,
// one per successful Connect.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("gateway connection closed", "error", err)
			c.setDisconnected(conn)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Malformed frames and frames with
// no routable event are logged and dropped; they never terminate the
// connection.
func (c *Client) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("dropping malformed gateway frame", "error", err)
		return
	}

	// Protocol-level frames: the gateway heartbeats with ping and
	// acknowledges the connection with welcome. Neither reaches
	// handlers.
	switch frame.Type {
	case "ping", "welcome":
		return
	}

	if frame.Event == "" {
		c.logger.Debug("dropping gateway frame without event field")
		return
	}

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[frame.Event]...)
	handlers = append(handlers, c.handlers["*"]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for gateway event", "event", frame.Event)
		return
	}
	for _, handler := range handlers {
		handler(frame.Event, json.RawMessage(data))
	}
}

// setDisconnected clears connection state. When conn is non-nil the
// transition only applies if that connection is still current — a
// stale read loop from a previous connection must not tear down its
// successor.
func (c *Client) setDisconnected(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != nil && c.conn != conn {
		return
	}
	c.state = Disconnected
	c.conn = nil
	c.active = make(map[string]bool)
}
