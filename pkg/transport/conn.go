// Package transport owns the single websocket connection to the chat server: dialing,
// the read and write pumps, and reconnection after an unexpected close.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/randchat/pkg/logging"
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
	// ErrClosedByClient is the close reason of a connection closed locally.
	ErrClosedByClient = errors.New("transport: closed by client")
)

// ConnectionError reports that the endpoint could not be opened.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options tune a connection. Zero values select the defaults.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	ReadLimit        int64
	UserAgent        string
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Conn is one open websocket. Frames are written by a single writer goroutine; Send
// never blocks on network I/O.
type Conn struct {
	id       string
	endpoint string
	ws       *websocket.Conn
	opts     Options
	log      *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	reason error
}

// Dial opens a connection to endpoint. Failures are returned as *ConnectionError.
func Dial(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	header := http.Header{}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}

	id := uuid.NewString()
	c := &Conn{
		id:       id,
		endpoint: endpoint,
		ws:       ws,
		opts:     opts,
		log:      logging.For("transport").With("conn", id),
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
	}
	c.log.Info("connected", "endpoint", endpoint)
	return c, nil
}

// ID returns the connection's log correlation id.
func (c *Conn) ID() string { return c.id }

// Start runs the pumps. onMessage receives every text frame in arrival order; onClose is
// called exactly once with the close reason.
func (c *Conn) Start(onMessage func(raw []byte), onClose func(reason error)) {
	go c.writePump()
	go c.readPump(onMessage, onClose)
}

// Send queues raw for writing.
func (c *Conn) Send(raw []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the connection with a normal close frame. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(ErrClosedByClient, true)
	return nil
}

// Reason returns why the connection closed, or nil while it is open.
func (c *Conn) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conn) shutdown(reason error, graceful bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)

		if graceful {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(onMessage func([]byte), onClose func(error)) {
	var reason error
	defer func() {
		c.shutdown(reason, false)
		if onClose != nil {
			onClose(c.Reason())
		}
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally; keep the recorded reason.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("connection lost", "err", err)
				} else {
					c.log.Info("connection closed", "err", err)
				}
			}
			reason = err
			return
		}
		if kind != websocket.TextMessage {
			c.log.Debug("non-text frame ignored", "kind", kind)
			continue
		}
		c.log.Debug("frame in", "bytes", len(data))
		if onMessage != nil {
			onMessage(data)
		}
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Warn("write failed", "err", err)
				c.shutdown(err, false)
				return
			}
			c.log.Debug("frame out", "bytes", len(raw))
		}
	}
}
