// Package ws is the persistent live channel transport: a JSON-over-websocket
// client delivering chat and presence events pushed by the server.
// Reconnection policy belongs to the caller; the client only reports observed
// connect/disconnect transitions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var ErrNotConnected = errors.New("live channel not connected")

// TokenSource supplies the bearer token presented on dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Handler consumes the body of one received packet. Handlers run on the read
// loop goroutine, so packet order is preserved across dispatches.
type Handler func(body json.RawMessage)

type Client struct {
	url    string
	tokens TokenSource
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan *Packet
	closing   chan struct{}
	done      chan struct{}
	handlers  map[string]Handler
	connected atomic.Bool

	onConnect    func()
	onDisconnect func()
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// NewClient creates a disconnected client for the given websocket URL.
func NewClient(url string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		url:      url,
		tokens:   tokens,
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers the handler for an event type, replacing any previous one.
// Registering before Connect is safe; repeated registration cannot stack
// duplicate handlers.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// OnConnect registers a callback invoked after each successful dial.
func (c *Client) OnConnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = f
}

// OnDisconnect registers a callback invoked when the connection drops or is
// closed.
func (c *Client) OnDisconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = f
}

// Connected reports whether the channel is currently established.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect dials the server and starts the read and write loops. Calling it
// while already connected is a no-op, so overlapping connection attempts
// cannot stack handlers or loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("read token: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, res, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.mu.Unlock()
		if res != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, res.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.send = make(chan *Packet, 16)
	c.closing = make(chan struct{})
	c.done = make(chan struct{})
	c.connected.Store(true)
	onConnect := c.onConnect

	go c.readLoop(conn)
	go c.writeLoop(conn, c.send, c.closing)
	c.mu.Unlock()

	// Run the callback outside the lock; it is free to Emit.
	if onConnect != nil {
		onConnect()
	}
	c.logger.Info("live channel connected", slog.String("url", c.url))
	return nil
}

// Emit sends an event to the server. It fails fast when disconnected rather
// than queueing across connections.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	send := c.send
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		body = b
	}

	select {
	case send <- &Packet{Type: event, Body: body}:
		return nil
	default:
		return fmt.Errorf("emit %s: send buffer full", event)
	}
}

// Close tears the connection down. The client may be reconnected afterwards
// with Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	closing := c.closing
	done := c.done
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	select {
	case <-closing:
	default:
		close(closing)
	}

	// The write loop sends the close frame and closes the socket; the read
	// loop then runs teardown. Wait so Close returns with the disconnect
	// callback already delivered.
	<-done
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.teardown(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, r, err := conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		packet, err := decodePacket(r)
		if err != nil {
			c.logger.Error(fmt.Sprintf("DecodePacket: %v", err))
			continue
		}

		c.mu.Lock()
		handler := c.handlers[packet.Type]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("dropping unhandled packet", slog.String("type", packet.Type))
			continue
		}
		handler(packet.Body)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send <-chan *Packet, closing <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case packet := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Error(fmt.Sprintf("NextWriter: %v", err))
				return
			}
			if err := encodePacket(w, packet); err != nil {
				c.logger.Error(fmt.Sprintf("EncodePacket: %v", err))
			}
			w.Close()
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("WritePing: %v", err))
				return
			}
		}
	}
}

// teardown runs once when the read loop exits for any reason.
func (c *Client) teardown(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	done := c.done
	c.done = nil
	closing := c.closing
	c.closing = nil
	c.connected.Store(false)
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	// Stop the write loop for connections dropped by the peer.
	select {
	case <-closing:
	default:
		close(closing)
	}
	close(done)
	if onDisconnect != nil {
		onDisconnect()
	}
	c.logger.Info("live channel disconnected")
}
