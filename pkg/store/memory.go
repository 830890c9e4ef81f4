package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/randchat/pkg/model"
)

// MemoryStore keeps the profile in process memory. It mirrors the SQLite store's
// validation so either can back the client.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	profile *Profile
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{now: now}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) SaveProfile(id model.Identity) error {
	if err := validateIdentity(id); err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &Profile{Username: id.Username, Interest: id.Interest, SavedAt: s.now()}
	return nil
}

func (s *MemoryStore) LoadProfile() (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, nil
	}
	p := *s.profile
	return &p, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
	return nil
}

func validateIdentity(id model.Identity) error {
	if err := model.ValidateUsername(id.Username); err != nil {
		return err
	}
	if !id.Interest.Valid() {
		return &model.ValidationError{Field: "interest", Value: string(id.Interest), Reason: model.ErrUnknownInterest}
	}
	return nil
}
