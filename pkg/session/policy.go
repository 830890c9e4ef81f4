package session

import (
	"fmt"

	"github.com/NicolasHaas/randchat/pkg/protocol"
)

// SkipTarget selects whose username a skip command carries. Protocol revisions disagree,
// so it is fixed by configuration.
type SkipTarget string

const (
	SkipSelf    SkipTarget = "self"
	SkipPartner SkipTarget = "partner"
)

// Policy holds the behaviours that differ between protocol revisions.
type Policy struct {
	// AutoSearchOnDisconnect re-issues a search when the partner disconnects.
	// Off by default: the user asks for a new partner explicitly.
	AutoSearchOnDisconnect bool
	SkipTarget             SkipTarget
	// SearchCommand is protocol.CommandSearch or protocol.CommandFindNewUser.
	SearchCommand protocol.CommandType
	// LocalEcho appends sent messages to the log immediately and drops the server's echo.
	LocalEcho bool
}

// DefaultPolicy returns the policy matching the reference server.
func DefaultPolicy() Policy {
	return Policy{
		SkipTarget:    SkipSelf,
		SearchCommand: protocol.CommandSearch,
		LocalEcho:     true,
	}
}

// Validate reports unknown enum values.
func (p Policy) Validate() error {
	switch p.SkipTarget {
	case "", SkipSelf, SkipPartner:
	default:
		return fmt.Errorf("session: unknown skip target %q (valid: self, partner)", p.SkipTarget)
	}
	switch p.SearchCommand {
	case "", protocol.CommandSearch, protocol.CommandFindNewUser:
	default:
		return fmt.Errorf("session: unknown search command %q (valid: search, find_new_user)", p.SearchCommand)
	}
	return nil
}

func (p Policy) normalize() Policy {
	if p.SkipTarget != SkipPartner {
		p.SkipTarget = SkipSelf
	}
	if p.SearchCommand != protocol.CommandFindNewUser {
		p.SearchCommand = protocol.CommandSearch
	}
	return p
}
