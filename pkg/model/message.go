package model

import (
	"strings"
	"time"
)

// Partner is the single counterpart currently paired with the local session.
type Partner struct {
	DisplayName string
}

// Message is an immutable chat record. Ordering is receipt order.
type Message struct {
	Author     string
	Text       string
	Image      string // data: URL, empty when the message carries no image
	ReceivedAt time.Time
}

// HasImage reports whether the message carries an inline image.
func (m Message) HasImage() bool { return m.Image != "" }

// Empty reports whether the message has neither text (after trimming) nor image.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && m.Image == ""
}

// IsFrom reports whether the message was authored by username.
func (m Message) IsFrom(username string) bool { return m.Author == username }
