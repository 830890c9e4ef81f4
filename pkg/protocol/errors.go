package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType  = errors.New("unknown frame type")
	ErrMalformed    = errors.New("malformed frame")
	ErrMissingField = errors.New("missing required field")
	ErrFrameTooBig  = errors.New("frame too large")
	ErrNoPartner    = errors.New("no partner to send to")
	ErrEmptyBody    = errors.New("message body is empty")
	ErrNotAnImage   = errors.New("payload is not an image")
)

// DecodingError is returned for inbound frames that fail schema validation.
// Such frames are dropped at the boundary and never reach the session.
type DecodingError struct {
	Type string // raw type tag, empty when the frame had none
	Err  error
}

func (e *DecodingError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode %q: %v", e.Type, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// EncodingError is returned when an outbound command cannot be constructed or serialized.
type EncodingError struct {
	Type   CommandType
	Reason error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("protocol: encode %q: %v", e.Type, e.Reason)
}

func (e *EncodingError) Unwrap() error { return e.Reason }
