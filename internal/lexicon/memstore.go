package lexicon

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxObservedTerms caps the per-user vocabulary so observed names cannot grow
// without bound. Seeded terms do not count against the cap.
const maxObservedTerms = 256

// Compile-time assertion that MemStore satisfies [Store].
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe in-memory [Store]. It backs local development and
// tests; observed terms are lost on restart.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]map[string]Term // userID → lowercased term → entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[string]map[string]Term),
	}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, userID string, term Term) error {
	spelling := strings.TrimSpace(term.Term)
	if spelling == "" {
		return nil
	}
	term.Term = spelling
	if term.AddedAt.IsZero() {
		term.AddedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.users[userID]
	if bucket == nil {
		bucket = make(map[string]Term)
		s.users[userID] = bucket
	}

	key := strings.ToLower(spelling)
	if _, exists := bucket[key]; exists {
		return nil
	}
	if term.Source == "observed" && len(bucket) >= maxObservedTerms {
		return ErrFull
	}

	bucket[key] = term
	return nil
}

// Terms implements [Store.Terms].
func (s *MemStore) Terms(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, bucket := range []map[string]Term{s.users[SharedUser], s.users[userID]} {
		for key, t := range bucket {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t.Term)
		}
	}
	sort.Strings(out)
	return out, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, userID string) ([]Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.users[userID]
	out := make([]Term, 0, len(bucket))
	for _, t := range bucket {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Term) < strings.ToLower(out[j].Term)
	})
	return out, nil
}

// Observe implements [Store.Observe].
func (s *MemStore) Observe(ctx context.Context, userID string, names []string) error {
	for _, name := range names {
		if !observable(name) {
			continue
		}
		err := s.Add(ctx, userID, Term{Term: name, Source: "observed"})
		if err != nil && !errors.Is(err, ErrFull) {
			return err
		}
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, userID, term string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(term))
	bucket := s.users[userID]
	if _, ok := bucket[key]; !ok {
		return ErrNotFound
	}
	delete(bucket, key)
	return nil
}
