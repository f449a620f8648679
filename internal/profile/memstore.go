package profile

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] used when no postgres DSN is configured.
// Profiles do not survive a restart. Safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory profile store.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]*Profile)}
}

// Get returns the user's profile, creating defaults on first access.
func (s *MemStore) Get(ctx context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProfile(s.ensure(userID)), nil
}

// Update applies the non-nil fields of patch and returns the merged profile.
func (s *MemStore) Update(ctx context.Context, userID string, patch Patch) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	p.UpdatedAt = time.Now()
	return copyProfile(p), nil
}

// AppendHistory appends entries, trimming the oldest beyond
// [MaxHistoryEntries], and returns the updated profile.
func (s *MemStore) AppendHistory(ctx context.Context, userID string, entries ...string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.ensure(userID)
	p.ConversationHistory = append(p.ConversationHistory, entries...)
	if n := len(p.ConversationHistory); n > MaxHistoryEntries {
		p.ConversationHistory = append([]string(nil), p.ConversationHistory[n-MaxHistoryEntries:]...)
	}
	p.UpdatedAt = time.Now()
	return copyProfile(p), nil
}

func (s *MemStore) ensure(userID string) *Profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = Default(userID)
		now := time.Now()
		p.CreatedAt = now
		p.UpdatedAt = now
		s.profiles[userID] = p
	}
	return p
}

// copyProfile returns a defensive copy so callers cannot mutate stored state.
func copyProfile(p *Profile) *Profile {
	cp := *p
	cp.ConversationHistory = append([]string(nil), p.ConversationHistory...)
	return &cp
}
