// Package protocol defines the JSON wire schema spoken with the matchmaking server:
// typed inbound events decoded once at the boundary, and the enumerated outbound commands.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MaxFrameSize bounds an inbound frame. Frames carry inline images, hence the headroom.
const MaxFrameSize = 4 << 20

// EventType is the "type" tag of an inbound (server to client) frame.
type EventType string

const (
	EventMatch           EventType = "match"
	EventMessage         EventType = "message"
	EventDisconnect      EventType = "disconnect"
	EventSkip            EventType = "skip"
	EventSearch          EventType = "search"
	EventSuccess         EventType = "success"
	EventError           EventType = "error"
	EventInterestChanged EventType = "interest_changed"
)

// Event is an inbound frame after validation. The concrete type is one of the *Event
// structs in this package.
type Event interface {
	Type() EventType
	event()
}

// MatchEvent assigns a partner.
type MatchEvent struct {
	MatchedUser string `json:"matched_user"`
}

// MessageEvent carries chat content from the pairing.
type MessageEvent struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Image    string `json:"image,omitempty"`
}

// DisconnectEvent reports that the partner left.
type DisconnectEvent struct {
	Message string `json:"message"`
}

// SkipEvent acknowledges a skip or reports one triggered by the counterpart.
type SkipEvent struct {
	Message string `json:"message"`
}

// SearchEvent acknowledges that the server is searching.
type SearchEvent struct {
	Message string `json:"message"`
}

// SuccessEvent is a generic acknowledgment. Username is set by servers that echo the
// registered name.
type SuccessEvent struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// ErrorEvent is a generic server-reported failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

// InterestChangedEvent acknowledges an interest update.
type InterestChangedEvent struct {
	Message string `json:"message"`
}

func (MatchEvent) Type() EventType           { return EventMatch }
func (MessageEvent) Type() EventType         { return EventMessage }
func (DisconnectEvent) Type() EventType      { return EventDisconnect }
func (SkipEvent) Type() EventType            { return EventSkip }
func (SearchEvent) Type() EventType          { return EventSearch }
func (SuccessEvent) Type() EventType         { return EventSuccess }
func (ErrorEvent) Type() EventType           { return EventError }
func (InterestChangedEvent) Type() EventType { return EventInterestChanged }

func (MatchEvent) event()           {}
func (MessageEvent) event()         {}
func (DisconnectEvent) event()      {}
func (SkipEvent) event()            {}
func (SearchEvent) event()          {}
func (SuccessEvent) event()         {}
func (ErrorEvent) event()           {}
func (InterestChangedEvent) event() {}

// envelope holds every field any inbound frame may carry. Pointers distinguish
// absent keys from empty values.
type envelope struct {
	Type        *string `json:"type"`
	MatchedUser *string `json:"matched_user"`
	Username    *string `json:"username"`
	Message     *string `json:"message"`
	Image       *string `json:"image"`
	Error       *string `json:"error"`
}

// Decode validates a raw frame and returns the typed event. Every failure is a
// *DecodingError; an unrecognized type wraps ErrUnknownType.
//
// Frames without a "type" key are accepted for older servers that answer register and
// lone searches untyped: {"error": ...} decodes to ErrorEvent, {"message": ...} to SuccessEvent.
func Decode(raw []byte) (Event, error) {
	if len(raw) > MaxFrameSize {
		return nil, &DecodingError{Err: ErrFrameTooBig}
	}
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return nil, &DecodingError{Err: ErrMalformed}
	}

	if env.Type == nil {
		return decodeUntyped(env)
	}

	t := EventType(*env.Type)
	switch t {
	case EventMatch:
		name := deref(env.MatchedUser)
		if strings.TrimSpace(name) == "" {
			return nil, missing(t, "matched_user")
		}
		return MatchEvent{MatchedUser: name}, nil
	case EventMessage:
		if env.Username == nil || *env.Username == "" {
			return nil, missing(t, "username")
		}
		if env.Message == nil && env.Image == nil {
			return nil, missing(t, "message")
		}
		ev := MessageEvent{Username: *env.Username, Message: deref(env.Message)}
		if img := deref(env.Image); img != "" {
			if _, _, err := DecodeImage(img); err == nil {
				ev.Image = img
			}
		}
		// An invalid image is dropped; what is left must still say something.
		if ev.Image == "" && strings.TrimSpace(ev.Message) == "" {
			return nil, missing(t, "message")
		}
		return ev, nil
	case EventDisconnect:
		return DisconnectEvent{Message: deref(env.Message)}, nil
	case EventSkip:
		return SkipEvent{Message: deref(env.Message)}, nil
	case EventSearch:
		return SearchEvent{Message: deref(env.Message)}, nil
	case EventSuccess:
		return SuccessEvent{Message: deref(env.Message), Username: deref(env.Username)}, nil
	case EventError:
		msg := deref(env.Message)
		if msg == "" {
			msg = deref(env.Error)
		}
		return ErrorEvent{Message: msg}, nil
	case EventInterestChanged:
		return InterestChangedEvent{Message: deref(env.Message)}, nil
	default:
		return nil, &DecodingError{Type: string(t), Err: ErrUnknownType}
	}
}

func decodeUntyped(env envelope) (Event, error) {
	switch {
	case env.Error != nil:
		return ErrorEvent{Message: *env.Error}, nil
	case env.Message != nil:
		return SuccessEvent{Message: *env.Message, Username: deref(env.Username)}, nil
	default:
		return nil, &DecodingError{Err: ErrMissingField}
	}
}

func missing(t EventType, field string) error {
	return &DecodingError{Type: string(t), Err: &fieldError{field: field}}
}

type fieldError struct{ field string }

func (e *fieldError) Error() string { return ErrMissingField.Error() + ": " + e.field }
func (e *fieldError) Unwrap() error { return ErrMissingField }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
