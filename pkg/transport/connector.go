package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NicolasHaas/randchat/pkg/logging"
)

var (
	errIntentionalClose = errors.New("transport: intentional close")
	// errSuperseded means another dial already installed a connection.
	errSuperseded = errors.New("transport: connection already open")
)

// ReconnectPolicy bounds the reconnection that follows an unexpected close.
type ReconnectPolicy struct {
	// MaxAttempts is the number of dials after a drop. Zero disables reconnection.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt. Zero retries immediately.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultReconnectPolicy makes a single immediate attempt.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 1}
}

// backOff builds the retry schedule. The first attempt is always immediate.
func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialBackoff > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialBackoff
		if p.MaxBackoff > 0 {
			eb.MaxInterval = p.MaxBackoff
		}
		if p.Multiplier >= 1 {
			eb.Multiplier = p.Multiplier
		}
		eb.MaxElapsedTime = 0
		b = eb
	}
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Handler receives connector events. Callbacks run on transport goroutines and must not
// block; the client engine hands them to its event loop.
type Handler struct {
	// OnOpen fires after every successful dial; reconnected is false for the first one.
	OnOpen    func(connID string, reconnected bool)
	OnMessage func(raw []byte)
	// OnClose fires for every closed connection, intentional or not.
	OnClose func(connID string, reason error, intentional bool)
	// OnReconnecting fires before each reconnection dial.
	OnReconnecting func(attempt int)
	// OnReconnectFailed fires when the policy is exhausted.
	OnReconnectFailed func(err error)
}

// Connector keeps one connection to an endpoint and reopens it after an unexpected close.
// Close is terminal until the next Connect.
type Connector struct {
	endpoint string
	opts     Options
	policy   ReconnectPolicy
	h        Handler
	log      *slog.Logger

	mu          sync.Mutex
	conn        *Conn
	intentional bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewConnector creates a connector. Nothing is dialed until Connect.
func NewConnector(endpoint string, policy ReconnectPolicy, opts Options, h Handler) *Connector {
	return &Connector{
		endpoint: endpoint,
		opts:     opts,
		policy:   policy,
		h:        h,
		log:      logging.For("transport").With("endpoint", endpoint),
	}
}

// Endpoint returns the configured endpoint.
func (c *Connector) Endpoint() string { return c.endpoint }

// Connect dials the endpoint. A failed first dial is not retried; it returns a
// *ConnectionError.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	conn, err := Dial(ctx, c.endpoint, c.opts)
	if err != nil {
		c.log.Warn("connect failed", "err", err)
		return err
	}
	if err := c.adopt(conn, false); errors.Is(err, errIntentionalClose) {
		return &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	return nil
}

// Send writes raw on the open connection.
func (c *Connector) Send(raw []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(raw)
}

// Connected reports whether a connection is open.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the connection and cancels any reconnection. Safe to call more than once.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Wait blocks until background reconnection has finished.
func (c *Connector) Wait() { c.wg.Wait() }

// adopt installs conn and starts its pumps. It refuses (and closes) conn when Close won
// the race with the dial, or when another dial already installed a connection.
func (c *Connector) adopt(conn *Conn, reconnected bool) error {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		_ = conn.Close()
		return errIntentionalClose
	}
	if c.conn != nil {
		current := c.conn.ID()
		c.mu.Unlock()
		_ = conn.Close()
		c.log.Debug("dial superseded", "conn", conn.ID(), "open", current)
		return errSuperseded
	}
	c.conn = conn
	c.mu.Unlock()

	// OnOpen precedes every frame and the close of this connection.
	if c.h.OnOpen != nil {
		c.h.OnOpen(conn.ID(), reconnected)
	}
	conn.Start(c.h.OnMessage, func(reason error) { c.closed(conn, reason) })
	return nil
}

func (c *Connector) closed(conn *Conn, reason error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	intentional := c.intentional || errors.Is(reason, ErrClosedByClient)
	ctx := c.ctx
	c.mu.Unlock()

	if c.h.OnClose != nil {
		c.h.OnClose(conn.ID(), reason, intentional)
	}
	if intentional || !current || c.policy.MaxAttempts <= 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect(ctx)
	}()
}

// reconnect runs to completion unless Close cancels it.
func (c *Connector) reconnect(ctx context.Context) {
	attempt := 0
	op := func() error {
		c.mu.Lock()
		stop := c.intentional
		c.mu.Unlock()
		if stop {
			return backoff.Permanent(errIntentionalClose)
		}

		attempt++
		c.log.Info("reconnecting", "attempt", attempt, "max", c.policy.MaxAttempts)
		if c.h.OnReconnecting != nil {
			c.h.OnReconnecting(attempt)
		}
		conn, err := Dial(ctx, c.endpoint, c.opts)
		if err != nil {
			return err
		}
		if err := c.adopt(conn, true); errors.Is(err, errIntentionalClose) {
			return backoff.Permanent(err)
		}
		// A superseded dial still means a connection is open.
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("reconnect attempt failed", "attempt", attempt, "retry_in", wait, "err", err)
	}

	err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify)
	if err == nil || errors.Is(err, errIntentionalClose) || errors.Is(err, context.Canceled) {
		return
	}
	c.log.Error("reconnect failed", "attempts", attempt, "err", err)
	if c.h.OnReconnectFailed != nil {
		c.h.OnReconnectFailed(err)
	}
}
