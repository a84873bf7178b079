// ABOUTME: WebSocket transport for the backend channel with optional exponential-backoff reconnect.
// ABOUTME: Emits synthesized connect/disconnect events in order with pushed frames on one Events channel.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("channel closed")

	// ErrNotConnected is returned by Emit while no socket is open.
	ErrNotConnected = errors.New("channel not connected")
)

const (
	defaultEventBuffer   = 256
	defaultWriteTimeout  = 10 * time.Second
	defaultInitialDelay  = 250 * time.Millisecond
	defaultMaxDelay      = 30 * time.Second
	defaultHandshakeWait = 10 * time.Second
	maxMessageBytes      = 8 << 20
)

// Options configures a Client.
type Options struct {
	URL    string
	Header http.Header

	// Reconnect redials with exponential backoff after a drop or a failed
	// dial. Without it the client dials once and stays down after a drop.
	Reconnect       bool
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Dialer      *websocket.Dialer
	EventBuffer int
	Logger      *slog.Logger
}

// Client owns one logical channel to the backend. It is safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger
	events chan Event

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a client. Call Start to begin dialing.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeWait,
		}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialDelay
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:   opts,
		logger: logger.With("component", "channel"),
		events: make(chan Event, opts.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop. It is a no-op after the first call.
// Dial failures are reported as connect_error events, never returned.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.loop()
	})
}

// Events returns the ordered stream of transport and pushed events. It is
// closed after Close once the connection loop has exited.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Emit sends a command frame to the backend.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	frame, err := NewFrame(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close shuts the socket, stops reconnecting, and waits for the loop to exit.
// It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		c.startOnce.Do(func() {
			// Never started: nothing will close the events channel otherwise.
			close(c.done)
			close(c.events)
		})
	})
	<-c.done
	return nil
}

func (c *Client) loop() {
	defer close(c.done)
	defer close(c.events)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.Reset()

	for {
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("channel dial failed", "url", c.opts.URL, "error", err)
			c.emit(Event{Name: EventError, Err: err})
			if !c.opts.Reconnect || !c.sleep(b.NextBackOff()) {
				return
			}
			continue
		}
		b.Reset()

		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("channel connected", "url", c.opts.URL)
		c.emit(Event{Name: EventConnect})

		readErr := c.read(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("channel disconnected", "error", readErr)
		c.emit(Event{Name: EventDisconnect, Err: readErr})
		if !c.opts.Reconnect || !c.sleep(b.NextBackOff()) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, defaultHandshakeWait)
	defer cancel()
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return conn, nil
}

// read pumps frames until the socket fails. Malformed frames are logged and skipped.
func (c *Client) read(conn *websocket.Conn) error {
	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if typ != websocket.TextMessage {
			continue
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("channel frame malformed", "error", err)
			continue
		}
		if f.Event == "" {
			c.logger.Debug("channel frame without event name")
			continue
		}
		if !(Event{Name: f.Event}).Pushed() {
			c.logger.Debug("channel frame uses reserved event name", "event", f.Event)
			continue
		}
		if !c.emit(Event{Name: f.Event, Data: f.Data}) {
			return ErrClosed
		}
	}
}

// emit delivers ev in order, blocking until the consumer takes it or the
// client closes. Returns false when closed.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// sleep waits d or until Close. Returns false when closed.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}
