// Package session implements the client-side session state machine: registration,
// matchmaking phase, the current partner, and the message log of the pairing.
//
// The Machine performs no I/O. Inbound events and user actions go in; the outbound
// commands to send come out. It is not safe for concurrent use; the client engine
// drives it from a single event loop.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NicolasHaas/randchat/pkg/logging"
	"github.com/NicolasHaas/randchat/pkg/model"
	"github.com/NicolasHaas/randchat/pkg/protocol"
	"github.com/NicolasHaas/randchat/pkg/sink"
)

var (
	ErrNotRegistered       = errors.New("session: not registered")
	ErrAlreadyRegistered   = errors.New("session: already registered")
	ErrRegistrationPending = errors.New("session: registration already in flight")
)

// ProtocolError is a failure reported by the server outside of registration.
// The session stays usable.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "server error: " + e.Message }

// Notification source tags.
const (
	SourceMatch           = "match"
	SourceDisconnect      = "disconnect"
	SourceSkip            = "skip"
	SourceRegister        = "register"
	SourceError           = "error"
	SourceInterestChanged = "interest_changed"
)

// Phase is the matchmaking phase of the session.
type Phase int

const (
	PhaseUnregistered Phase = iota
	PhaseAwaitingMatch
	PhaseMatched
)

func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhaseAwaitingMatch:
		return "awaitingMatch"
	case PhaseMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only projection of the session for the presentation layer.
type Snapshot struct {
	Phase     Phase
	Username  string
	Interest  model.Interest
	Partner   string // empty when unmatched
	Searching bool
	Pending   bool // a registration is awaiting the server's answer
	Roster    []string
}

// Result describes what handling one inbound event produced.
type Result struct {
	Commands        []protocol.Command
	Registered      *model.Identity // set when the event completed registration
	RegistrationErr error           // remote *model.ValidationError
	ProtocolErr     error           // *ProtocolError
	Changed         bool            // observable session state changed
}

// Machine owns the Session, Partner and message log triple.
type Machine struct {
	policy Policy
	now    func() time.Time
	log    *slog.Logger

	msgs   *sink.Log
	banner *sink.Banner

	phase     Phase
	username  string
	interest  model.Interest
	partner   *model.Partner
	searching bool
	pending   *model.Identity
}

// New creates an unregistered machine writing to msgs and banner.
func New(policy Policy, msgs *sink.Log, banner *sink.Banner) *Machine {
	return NewWithClock(policy, msgs, banner, time.Now)
}

// NewWithClock creates a machine that stamps received messages with now().
func NewWithClock(policy Policy, msgs *sink.Log, banner *sink.Banner, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	if msgs == nil {
		msgs = sink.NewLog()
	}
	if banner == nil {
		banner = sink.NewBanner(0, nil)
	}
	return &Machine{
		policy:   policy.normalize(),
		now:      now,
		log:      logging.For("session"),
		msgs:     msgs,
		banner:   banner,
		interest: model.InterestAny,
	}
}

// Policy returns the effective policy.
func (m *Machine) Policy() Policy { return m.policy }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Partner returns the current partner or nil.
func (m *Machine) Partner() *model.Partner {
	if m.partner == nil {
		return nil
	}
	p := *m.partner
	return &p
}

// Snapshot returns the current projection.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Phase:     m.phase,
		Username:  m.username,
		Interest:  m.interest,
		Searching: m.searching,
		Pending:   m.pending != nil,
		Roster:    m.Roster(),
	}
	if m.partner != nil {
		s.Partner = m.partner.DisplayName
	}
	return s
}

// Roster returns the participants of the current pairing: the local user, plus the
// partner when matched. It is empty before registration.
func (m *Machine) Roster() []string {
	if m.phase == PhaseUnregistered {
		return nil
	}
	if m.partner == nil {
		return []string{m.username}
	}
	return []string{m.username, m.partner.DisplayName}
}

// Register validates the username locally and returns the register command. Nothing is
// sent for a malformed username; the caller may correct it and retry.
func (m *Machine) Register(username string, interest model.Interest) (protocol.Command, error) {
	if m.phase != PhaseUnregistered {
		return nil, ErrAlreadyRegistered
	}
	if m.pending != nil {
		return nil, ErrRegistrationPending
	}
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	if interest == "" {
		interest = model.InterestAny
	}
	if !interest.Valid() {
		return nil, &model.ValidationError{Field: "interest", Value: string(interest), Reason: model.ErrUnknownInterest}
	}

	m.pending = &model.Identity{Username: username, Interest: interest}
	m.log.Debug("registration pending", "username", username, "interest", interest)
	return protocol.Register{Username: username, Interest: interest}, nil
}

// AbortRegistration drops a pending registration whose command could not be sent.
func (m *Machine) AbortRegistration() {
	m.pending = nil
}

// FindNewUser asks the server for a partner. It is always available while registered and
// unmatched, whatever the searching hint says. While matched it is a no-op.
func (m *Machine) FindNewUser() ([]protocol.Command, error) {
	switch m.phase {
	case PhaseUnregistered:
		return nil, ErrNotRegistered
	case PhaseMatched:
		return nil, nil
	}
	m.searching = true
	return []protocol.Command{protocol.Search{As: m.policy.SearchCommand}}, nil
}

// SendMessage relays text (and an optional image data URL) to the partner. Without a
// partner, or with an empty body, it silently produces nothing.
func (m *Machine) SendMessage(text, image string) ([]protocol.Command, error) {
	if m.partner == nil {
		return nil, nil
	}
	if strings.TrimSpace(text) == "" && image == "" {
		return nil, nil
	}
	cmd, err := protocol.NewSendMessage(m.partner, text, image)
	if err != nil {
		return nil, err
	}
	if m.policy.LocalEcho {
		m.msgs.Append(model.Message{Author: m.username, Text: text, Image: image, ReceivedAt: m.now()})
	}
	return []protocol.Command{cmd}, nil
}

// Skip ends the current pairing. Without a partner it is a no-op.
func (m *Machine) Skip() ([]protocol.Command, error) {
	if m.partner == nil {
		return nil, nil
	}
	target := m.username
	if m.policy.SkipTarget == SkipPartner {
		target = m.partner.DisplayName
	}
	m.log.Info("skipping partner", "partner", m.partner.DisplayName)
	m.dropPartner()
	m.searching = false
	return []protocol.Command{protocol.Skip{Username: target}}, nil
}

// ChangeInterest updates the pairing filter. While matched the pairing is skipped first.
func (m *Machine) ChangeInterest(interest model.Interest) ([]protocol.Command, error) {
	if !interest.Valid() {
		return nil, &model.ValidationError{Field: "interest", Value: string(interest), Reason: model.ErrUnknownInterest}
	}
	if m.phase == PhaseUnregistered {
		return nil, ErrNotRegistered
	}

	var cmds []protocol.Command
	if m.partner != nil {
		skip, err := m.Skip()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, skip...)
	}
	m.interest = interest
	cmds = append(cmds, protocol.ChangeInterest{NewInterest: interest})
	return cmds, nil
}

// Logout clears all state. The logout command is returned when there is a session (or a
// pending registration) for the server to forget; sending it is best-effort.
func (m *Machine) Logout() []protocol.Command {
	var cmds []protocol.Command
	if m.phase != PhaseUnregistered || m.pending != nil {
		cmds = append(cmds, protocol.Logout{})
	}
	m.reset()
	m.banner.Dismiss()
	return cmds
}

// ConnectionLost discards the session. The server keeps no identity across connections,
// so the user has to register again once a connection is back.
func (m *Machine) ConnectionLost() bool {
	changed := m.phase != PhaseUnregistered || m.pending != nil
	m.reset()
	return changed
}

// Handle applies one inbound event.
func (m *Machine) Handle(ev protocol.Event) Result {
	switch ev := ev.(type) {
	case protocol.MatchEvent:
		return m.onMatch(ev)
	case protocol.MessageEvent:
		return m.onMessage(ev)
	case protocol.DisconnectEvent:
		return m.onPartnerGone(ev.Message, SourceDisconnect, m.policy.AutoSearchOnDisconnect)
	case protocol.SkipEvent:
		return m.onPartnerGone(ev.Message, SourceSkip, false)
	case protocol.SearchEvent:
		if m.phase == PhaseAwaitingMatch && !m.searching {
			m.searching = true
			return Result{Changed: true}
		}
		return Result{}
	case protocol.SuccessEvent:
		return m.onSuccess(ev)
	case protocol.ErrorEvent:
		return m.onError(ev)
	case protocol.InterestChangedEvent:
		if ev.Message != "" {
			m.banner.Publish(ev.Message, SourceInterestChanged)
		}
		return Result{}
	default:
		m.log.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
		return Result{}
	}
}

func (m *Machine) onMatch(ev protocol.MatchEvent) Result {
	if m.phase == PhaseUnregistered {
		m.log.Warn("match before registration ignored", "matched_user", ev.MatchedUser)
		return Result{}
	}
	if m.partner != nil {
		m.log.Info("rematched", "previous", m.partner.DisplayName, "partner", ev.MatchedUser)
	}
	m.dropPartner()
	m.partner = &model.Partner{DisplayName: ev.MatchedUser}
	m.phase = PhaseMatched
	m.searching = false
	m.banner.Publish("Matched with "+ev.MatchedUser, SourceMatch)
	return Result{Changed: true}
}

func (m *Machine) onMessage(ev protocol.MessageEvent) Result {
	if m.phase != PhaseMatched {
		m.log.Debug("message without partner dropped", "from", ev.Username)
		return Result{}
	}
	if m.policy.LocalEcho && ev.Username == m.username {
		return Result{}
	}
	msg := model.Message{
		Author:     ev.Username,
		Text:       ev.Message,
		Image:      ev.Image,
		ReceivedAt: m.now(),
	}
	if msg.Empty() {
		m.log.Debug("empty message dropped", "from", ev.Username)
		return Result{}
	}
	m.msgs.Append(msg)
	return Result{Changed: true}
}

// onPartnerGone handles disconnect and server-side skip. Both are idempotent: without a
// partner nothing changes beyond staying in awaitingMatch.
func (m *Machine) onPartnerGone(text, source string, autoSearch bool) Result {
	if m.phase == PhaseUnregistered {
		return Result{}
	}
	if m.partner == nil {
		m.phase = PhaseAwaitingMatch
		return Result{}
	}

	name := m.partner.DisplayName
	m.log.Info("partner gone", "partner", name, "source", source)
	m.dropPartner()
	if text == "" {
		text = name + " has left the chat."
	}
	m.banner.Publish(text, source)

	res := Result{Changed: true}
	m.searching = autoSearch
	if autoSearch {
		res.Commands = []protocol.Command{protocol.Search{As: m.policy.SearchCommand}}
	}
	return res
}

func (m *Machine) onSuccess(ev protocol.SuccessEvent) Result {
	if m.pending == nil {
		m.log.Debug("ack", "message", ev.Message)
		return Result{}
	}
	id := *m.pending
	m.pending = nil
	m.username = id.Username
	m.interest = id.Interest
	m.phase = PhaseAwaitingMatch
	m.searching = false
	m.log.Info("registered", "username", id.Username, "interest", id.Interest)
	return Result{Registered: &id, Changed: true}
}

func (m *Machine) onError(ev protocol.ErrorEvent) Result {
	text := ev.Message
	if text == "" {
		text = "Unknown server error"
	}
	if m.pending != nil {
		verr := &model.ValidationError{
			Field:  "username",
			Value:  m.pending.Username,
			Reason: errors.New(text),
			Remote: true,
		}
		m.pending = nil
		m.banner.Publish(text, SourceRegister)
		m.log.Info("registration rejected", "reason", text)
		return Result{RegistrationErr: verr, Changed: true}
	}
	m.banner.Publish(text, SourceError)
	m.log.Warn("server error", "message", text)
	return Result{ProtocolErr: &ProtocolError{Message: text}}
}

// dropPartner destroys the partner and the history scoped to it. Safe without a partner.
func (m *Machine) dropPartner() {
	m.partner = nil
	m.msgs.Clear()
	if m.phase == PhaseMatched {
		m.phase = PhaseAwaitingMatch
	}
}

func (m *Machine) reset() {
	m.partner = nil
	m.msgs.Clear()
	m.phase = PhaseUnregistered
	m.username = ""
	m.interest = model.InterestAny
	m.searching = false
	m.pending = nil
}
