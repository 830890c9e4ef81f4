package store

import (
	"fmt"
	"time"

	"github.com/NicolasHaas/randchat/pkg/model"
)

// Profile is the identity remembered between registrations.
type Profile struct {
	Username string
	Interest model.Interest
	SavedAt  time.Time
}

// Identity returns the profile as a registration identity.
func (p Profile) Identity() model.Identity {
	return model.Identity{Username: p.Username, Interest: p.Interest}
}

// ProfileStore persists the last registered identity so the login form can be pre-filled.
// Implementations include the SQLite store and an in-memory store for tests and
// ephemeral sessions.
type ProfileStore interface {
	// Close closes the underlying storage connection.
	Close() error

	// SaveProfile stores id as the current profile, replacing any previous one.
	// Saving the same identity twice is harmless.
	SaveProfile(id model.Identity) error

	// LoadProfile returns the current profile. Returns (nil, nil) if none is stored.
	LoadProfile() (*Profile, error)

	// Clear forgets the current profile.
	Clear() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend. path is only used by the SQLite backend.
func Open(backend, path string) (ProfileStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("store: sqlite backend needs a path")
		}
		st, err := New(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q (valid: memory, sqlite)", backend)
	}
}

// Compile-time checks.
var (
	_ ProfileStore = (*Store)(nil)
	_ ProfileStore = (*MemoryStore)(nil)
)
