package protocol

import (
	"encoding/json"
	"strings"

	"github.com/NicolasHaas/randchat/pkg/model"
)

// CommandType is the "type" tag of an outbound (client to server) frame.
type CommandType string

const (
	CommandRegister       CommandType = "register"
	CommandMessage        CommandType = "message"
	CommandSkip           CommandType = "skip"
	CommandSearch         CommandType = "search"
	CommandFindNewUser    CommandType = "find_new_user"
	CommandChangeInterest CommandType = "change_interest"
	CommandLogout         CommandType = "logout"
)

// Command is an outbound frame. Only the types in this package implement it.
type Command interface {
	CommandType() CommandType
	validate() error
}

// Register turns an anonymous connection into an identified session.
type Register struct {
	Username string         `json:"username"`
	Interest model.Interest `json:"interest"`
}

// SendMessage relays chat content to the partner. Build it with NewSendMessage.
type SendMessage struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`

	partner string
}

// Skip ends the current pairing. Username is the local or the partner's name,
// depending on the configured skip target.
type Skip struct {
	Username string `json:"username"`
}

// Search asks the server to look for a partner. Servers accept either the
// "search" or the "find_new_user" tag; the zero value sends "search".
type Search struct {
	As CommandType `json:"-"`
}

// ChangeInterest updates the pairing filter.
type ChangeInterest struct {
	NewInterest model.Interest `json:"new_interest"`
}

// Logout ends the session.
type Logout struct{}

func (Register) CommandType() CommandType       { return CommandRegister }
func (SendMessage) CommandType() CommandType    { return CommandMessage }
func (Skip) CommandType() CommandType           { return CommandSkip }
func (ChangeInterest) CommandType() CommandType { return CommandChangeInterest }
func (Logout) CommandType() CommandType         { return CommandLogout }

func (s Search) CommandType() CommandType {
	if s.As == CommandFindNewUser {
		return CommandFindNewUser
	}
	return CommandSearch
}

// NewSendMessage builds a message command. It fails with an *EncodingError when there is
// no partner or when both text and image are empty.
func NewSendMessage(partner *model.Partner, text, image string) (SendMessage, error) {
	if partner == nil || partner.DisplayName == "" {
		return SendMessage{}, &EncodingError{Type: CommandMessage, Reason: ErrNoPartner}
	}
	cmd := SendMessage{Message: text, Image: image, partner: partner.DisplayName}
	if err := cmd.validate(); err != nil {
		return SendMessage{}, &EncodingError{Type: CommandMessage, Reason: err}
	}
	return cmd, nil
}

// Partner returns the display name the message was addressed to.
func (m SendMessage) Partner() string { return m.partner }

func (r Register) validate() error {
	if err := model.ValidateUsername(r.Username); err != nil {
		return err
	}
	if !r.Interest.Valid() {
		return model.ErrUnknownInterest
	}
	return nil
}

func (m SendMessage) validate() error {
	if m.partner == "" {
		return ErrNoPartner
	}
	if strings.TrimSpace(m.Message) == "" && m.Image == "" {
		return ErrEmptyBody
	}
	return nil
}

func (s Skip) validate() error {
	if s.Username == "" {
		return ErrMissingField
	}
	return nil
}

func (c ChangeInterest) validate() error {
	if !c.NewInterest.Valid() {
		return model.ErrUnknownInterest
	}
	return nil
}

func (Search) validate() error { return nil }
func (Logout) validate() error { return nil }

// Encode validates cmd and serializes it as a single JSON object with its "type" tag.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, &EncodingError{Reason: ErrMalformed}
	}
	t := cmd.CommandType()
	if err := cmd.validate(); err != nil {
		return nil, &EncodingError{Type: t, Reason: err}
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, &EncodingError{Type: t, Reason: err}
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &EncodingError{Type: t, Reason: err}
	}
	tag, err := json.Marshal(t)
	if err != nil {
		return nil, &EncodingError{Type: t, Reason: err}
	}
	fields["type"] = tag

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &EncodingError{Type: t, Reason: err}
	}
	return data, nil
}
