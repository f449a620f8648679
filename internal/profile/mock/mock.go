// Package mock provides an in-memory test double for the profile.Store
// interface with the same merge semantics as the postgres implementation.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/sona-app/sona/internal/profile"
)

// Store is an in-memory implementation of profile.Store.
// A single mutex serializes all merges, mirroring the row-lock semantics of
// the postgres store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile

	// GetErr, if non-nil, is returned by Get, Update, and AppendHistory before
	// touching any state. Used to exercise degradation paths.
	GetErr error

	// GetCalls counts Get invocations.
	GetCalls int
}

var _ profile.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{profiles: make(map[string]*profile.Profile)}
}

// Get implements profile.Store.
func (s *Store) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	return s.copyOf(s.ensure(userID)), nil
}

// Update implements profile.Store.
func (s *Store) Update(ctx context.Context, userID string, patch profile.Patch) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	p := s.ensure(userID)
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.TTSEnabled != nil {
		p.TTSEnabled = *patch.TTSEnabled
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
	p.UpdatedAt = time.Now().UTC()
	return s.copyOf(p), nil
}

// AppendHistory implements profile.Store.
func (s *Store) AppendHistory(ctx context.Context, userID string, entries ...string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	p := s.ensure(userID)
	p.ConversationHistory = append(p.ConversationHistory, entries...)
	if excess := len(p.ConversationHistory) - profile.MaxHistoryEntries; excess > 0 {
		p.ConversationHistory = p.ConversationHistory[excess:]
	}
	p.UpdatedAt = time.Now().UTC()
	return s.copyOf(p), nil
}

// ensure returns the stored profile for userID, creating defaults if absent.
// Caller must hold s.mu.
func (s *Store) ensure(userID string) *profile.Profile {
	if p, ok := s.profiles[userID]; ok {
		return p
	}
	p := profile.Default(userID)
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.profiles[userID] = p
	return p
}

// copyOf returns a defensive copy so callers cannot mutate stored state.
func (s *Store) copyOf(p *profile.Profile) *profile.Profile {
	cp := *p
	cp.ConversationHistory = append([]string(nil), p.ConversationHistory...)
	return &cp
}

// Reset drops all stored profiles and call counts.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]*profile.Profile)
	s.GetCalls = 0
}
