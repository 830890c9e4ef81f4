// Package client wires the transport, the session state machine and the sinks into the
// engine that both front ends drive.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/randchat/pkg/logging"
	"github.com/NicolasHaas/randchat/pkg/model"
	"github.com/NicolasHaas/randchat/pkg/protocol"
	"github.com/NicolasHaas/randchat/pkg/session"
	"github.com/NicolasHaas/randchat/pkg/sink"
	"github.com/NicolasHaas/randchat/pkg/store"
	"github.com/NicolasHaas/randchat/pkg/transport"
	"github.com/NicolasHaas/randchat/pkg/version"
)

// ErrEngineClosed is returned by actions issued after Close.
var ErrEngineClosed = errors.New("client: engine closed")

// ConnState is the connection status shown next to the session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateClosed follows a logout or Close; nothing reconnects until Connect.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Notification texts for connection events.
const (
	textConnectFailed     = "Could not connect to the chat server."
	textConnectionLost    = "Connection lost. Reconnecting..."
	textConnectionDropped = "Connection lost. Please reconnect and register again."
	textReconnected       = "Reconnected. Please register again."
	textReconnectFailed   = "Unable to reach the chat server. Please register again once it is back."
)

// Transport is the connection the engine drives. *transport.Connector implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(raw []byte) error
	Close() error
}

// Config assembles an engine. Policy and Reconnect are used as given; start from
// session.DefaultPolicy and transport.DefaultReconnectPolicy. Other zero values select
// defaults.
type Config struct {
	Endpoint            string
	Policy              session.Policy
	Reconnect           transport.ReconnectPolicy
	NotificationTimeout time.Duration
	Store               store.ProfileStore
	Metrics             *Metrics
	UserAgent           string
}

// Snapshot is everything a front end renders.
type Snapshot struct {
	Conn         ConnState
	Session      session.Snapshot
	Messages     []model.Message
	Notification *sink.Notification
}

// Engine serializes transport frames, user actions and timer expiries onto one event
// loop goroutine, so the session machine never sees two events at once. Front ends read
// Snapshot or subscribe to OnChange.
type Engine struct {
	log      *slog.Logger
	endpoint string
	machine  *session.Machine
	msgs     *sink.Log
	banner   *sink.Banner
	conn     Transport
	store    store.ProfileStore
	metrics  *Metrics
	retries  bool

	inbox    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the loop.
	state  ConnState
	connID string

	mu   sync.RWMutex
	snap Snapshot

	// Callbacks run on the loop goroutine and must not call back into the engine
	// synchronously.
	OnChange     func(snap Snapshot)
	OnError      func(err error)
	OnRegistered func(id model.Identity)
}

// NewEngine creates an engine connected to cfg.Endpoint through a reconnecting websocket
// connector. The loop starts immediately; nothing is dialed until Connect.
func NewEngine(cfg Config) *Engine {
	return newEngine(cfg, func(h transport.Handler) Transport {
		ua := cfg.UserAgent
		if ua == "" {
			ua = version.UserAgent()
		}
		opts := transport.Options{ReadLimit: protocol.MaxFrameSize, UserAgent: ua}
		return transport.NewConnector(cfg.Endpoint, cfg.Reconnect, opts, h)
	})
}

func newEngine(cfg Config, dial func(transport.Handler) Transport) *Engine {
	e := &Engine{
		log:      logging.For("client"),
		endpoint: cfg.Endpoint,
		msgs:     sink.NewLog(),
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		retries:  cfg.Reconnect.MaxAttempts > 0,
		inbox:    make(chan func(), 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if e.store == nil {
		e.store = store.NewMemory()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	e.banner = sink.NewBanner(cfg.NotificationTimeout, loopScheduler{e})
	e.machine = session.New(cfg.Policy, e.msgs, e.banner)
	e.conn = dial(transport.Handler{
		OnOpen:            func(id string, re bool) { e.post(func() { e.opened(id, re) }) },
		OnMessage:         func(raw []byte) { e.post(func() { e.received(raw) }) },
		OnClose:           func(id string, err error, intent bool) { e.post(func() { e.closed(id, err, intent) }) },
		OnReconnecting:    func(n int) { e.post(func() { e.reconnecting(n) }) },
		OnReconnectFailed: func(err error) { e.post(func() { e.reconnectFailed(err) }) },
	})
	e.snap = e.buildSnapshot()

	go e.loop()
	return e
}

// loopScheduler runs banner expiries on the event loop.
type loopScheduler struct{ e *Engine }

func (s loopScheduler) AfterFunc(d time.Duration, f func()) sink.Timer {
	return time.AfterFunc(d, func() { s.e.post(f) })
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case fn := <-e.inbox:
			fn()
			e.refresh()
		}
	}
}

// post queues fn on the loop. Dropped after Close.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.quit:
	}
}

// do runs fn on the loop and waits for its result.
func (e *Engine) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case e.inbox <- func() { res <- fn() }:
	case <-e.quit:
		return ErrEngineClosed
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		return ErrEngineClosed
	}
}

func (e *Engine) refresh() {
	snap := e.buildSnapshot()
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
	if e.OnChange != nil {
		e.OnChange(snap)
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	s := Snapshot{
		Conn:     e.state,
		Session:  e.machine.Snapshot(),
		Messages: e.msgs.Snapshot(),
	}
	if n, ok := e.banner.Current(); ok {
		s.Notification = &n
	}
	return s
}

// Snapshot returns the state as of the last processed event.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// ConnState returns the connection status.
func (e *Engine) ConnState() ConnState {
	return e.Snapshot().Conn
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// SavedProfile returns the last registered identity, if any, for pre-filling a form.
func (e *Engine) SavedProfile() *store.Profile {
	p, err := e.store.LoadProfile()
	if err != nil {
		e.log.Warn("load profile", "err", err)
		return nil
	}
	return p
}

// Connect opens the connection. It blocks until the first dial finishes.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.do(func() error {
		if e.state == StateConnected || e.state == StateConnecting {
			return nil
		}
		e.state = StateConnecting
		return nil
	}); err != nil {
		return err
	}

	err := e.conn.Connect(ctx)
	if err != nil {
		e.post(func() {
			if e.state == StateConnecting {
				e.state = StateDisconnected
			}
			e.banner.Publish(textConnectFailed, "connection")
		})
	}
	return err
}

// Register sends the registration. Validation failures are returned before anything is
// sent; the server's answer arrives later through OnRegistered or OnError.
func (e *Engine) Register(username string, interest model.Interest) error {
	username = strings.TrimSpace(username)
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	if interest != "" && !interest.Valid() {
		return &model.ValidationError{Field: "interest", Value: string(interest), Reason: model.ErrUnknownInterest}
	}
	return e.do(func() error {
		if e.state != StateConnected {
			return transport.ErrNotConnected
		}
		cmd, err := e.machine.Register(username, interest)
		if err != nil {
			return err
		}
		if err := e.send(cmd); err != nil {
			e.machine.AbortRegistration()
			return err
		}
		return nil
	})
}

// FindNewUser asks for a partner.
func (e *Engine) FindNewUser() error {
	return e.do(func() error {
		cmds, err := e.machine.FindNewUser()
		if err != nil {
			return err
		}
		return e.send(cmds...)
	})
}

// SendMessage sends text to the partner. Without a partner or with a blank body nothing
// is sent and no error is returned.
func (e *Engine) SendMessage(text string) error {
	return e.do(func() error {
		cmds, err := e.machine.SendMessage(text, "")
		if err != nil {
			return err
		}
		if len(cmds) > 0 {
			e.metrics.MessagesSent.Inc()
		}
		return e.send(cmds...)
	})
}

// SendImage sends an image attachment with an optional caption.
func (e *Engine) SendImage(caption string, data []byte) error {
	url, err := protocol.EncodeImage(data)
	if err != nil {
		return &model.ValidationError{Field: "image", Reason: err}
	}
	return e.do(func() error {
		cmds, err := e.machine.SendMessage(caption, url)
		if err != nil {
			return err
		}
		if len(cmds) > 0 {
			e.metrics.MessagesSent.Inc()
		}
		return e.send(cmds...)
	})
}

// Skip ends the current pairing.
func (e *Engine) Skip() error {
	return e.do(func() error {
		cmds, err := e.machine.Skip()
		if err != nil {
			return err
		}
		return e.send(cmds...)
	})
}

// ChangeInterest updates the pairing filter, skipping the current partner first.
func (e *Engine) ChangeInterest(interest model.Interest) error {
	return e.do(func() error {
		cmds, err := e.machine.ChangeInterest(interest)
		if err != nil {
			return err
		}
		return e.send(cmds...)
	})
}

// Dismiss clears the notification banner.
func (e *Engine) Dismiss() {
	_ = e.do(func() error {
		e.banner.Dismiss()
		return nil
	})
}

// Logout ends the session, forgets the saved profile and closes the connection.
func (e *Engine) Logout() error {
	return e.do(e.logout)
}

func (e *Engine) logout() error {
	if err := e.send(e.machine.Logout()...); err != nil {
		e.log.Debug("logout not delivered", "err", err)
	}
	if err := e.store.Clear(); err != nil {
		e.log.Warn("clear profile", "err", err)
	}
	e.state = StateClosed
	e.connID = ""
	e.metrics.Connected.Set(0)
	return e.conn.Close()
}

// Close logs out if needed and stops the engine. Safe to call more than once.
func (e *Engine) Close() error {
	err := e.do(func() error {
		if e.machine.Phase() != session.PhaseUnregistered {
			return e.logout()
		}
		e.state = StateClosed
		e.metrics.Connected.Set(0)
		return e.conn.Close()
	})
	if errors.Is(err, ErrEngineClosed) {
		err = nil
	}
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.done
	return err
}

// send encodes and writes cmds in order, stopping at the first failure.
func (e *Engine) send(cmds ...protocol.Command) error {
	for _, cmd := range cmds {
		raw, err := protocol.Encode(cmd)
		if err != nil {
			return err
		}
		if err := e.conn.Send(raw); err != nil {
			return fmt.Errorf("client: send %s: %w", cmd.CommandType(), err)
		}
		e.metrics.FramesOut.WithLabelValues(string(cmd.CommandType())).Inc()
	}
	return nil
}

func (e *Engine) reportError(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e *Engine) opened(connID string, reconnected bool) {
	if e.state == StateClosed {
		// A dial that finished after a logout; its close event is ignored too.
		e.log.Debug("open after close ignored", "conn", connID)
		return
	}
	e.connID = connID
	e.state = StateConnected
	e.metrics.Connected.Set(1)
	if reconnected {
		e.banner.Publish(textReconnected, "connection")
	}
	e.log.Info("connection open", "conn", connID, "reconnected", reconnected)
}

func (e *Engine) received(raw []byte) {
	e.metrics.FramesIn.Inc()
	ev, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		e.metrics.FramesDropped.WithLabelValues(reason).Inc()
		e.log.Warn("frame dropped", "err", err)
		return
	}

	res := e.machine.Handle(ev)
	switch ev.(type) {
	case protocol.MatchEvent:
		if res.Changed {
			e.metrics.Matches.Inc()
		}
	case protocol.MessageEvent:
		if res.Changed {
			e.metrics.MessagesReceived.Inc()
		}
	}

	if err := e.send(res.Commands...); err != nil {
		e.log.Warn("follow-up command failed", "err", err)
	}
	if res.Registered != nil {
		if err := e.store.SaveProfile(*res.Registered); err != nil {
			e.log.Warn("save profile", "err", err)
		}
		if e.OnRegistered != nil {
			e.OnRegistered(*res.Registered)
		}
	}
	if res.RegistrationErr != nil {
		e.reportError(res.RegistrationErr)
	}
	if res.ProtocolErr != nil {
		e.reportError(res.ProtocolErr)
	}
}

func (e *Engine) closed(connID string, reason error, intentional bool) {
	if connID != e.connID {
		return
	}
	e.connID = ""
	e.metrics.Connected.Set(0)
	e.machine.ConnectionLost()
	if intentional || e.state == StateClosed {
		e.state = StateClosed
		return
	}
	e.log.Warn("connection lost", "err", reason)
	if !e.retries {
		e.state = StateDisconnected
		e.banner.Publish(textConnectionDropped, "connection")
		e.reportError(&transport.ConnectionError{Endpoint: e.endpoint, Err: reason})
		return
	}
	e.state = StateReconnecting
	e.banner.Publish(textConnectionLost, "connection")
}

func (e *Engine) reconnecting(attempt int) {
	e.metrics.Reconnects.Inc()
	if e.state != StateClosed {
		e.state = StateReconnecting
	}
	e.log.Info("reconnect attempt", "attempt", attempt)
}

func (e *Engine) reconnectFailed(err error) {
	if e.state == StateClosed {
		return
	}
	e.state = StateDisconnected
	e.banner.Publish(textReconnectFailed, "connection")
	e.reportError(err)
}
