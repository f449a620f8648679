// Package profile defines the per-user preference store consulted during
// enrichment and updated after every turn.
//
// A profile always exists from the caller's point of view: Get creates and
// persists defaults on first access, so downstream stages never handle a
// missing profile. Concurrent updates to the same user are serialized by the
// implementation (row lock in postgres, mutex in the mock).
package profile

import (
	"context"
	"time"
)

// MaxHistoryEntries caps the conversation history kept on a profile.
// AppendHistory drops the oldest entries beyond this bound.
const MaxHistoryEntries = 100

// Profile holds a user's durable preferences and a bounded record of their
// recent conversation lines.
type Profile struct {
	// UserID is the stable user key.
	UserID string

	// Name is what the companion calls the user. Empty until the user shares it.
	Name string

	// TTSEnabled gates reply audio synthesis for this user.
	TTSEnabled bool

	// Language is the user's preferred reply language as a BCP-47 tag.
	Language string

	// ConversationHistory is a bounded, append-only record of recent
	// conversation lines (both sides), oldest first.
	ConversationHistory []string

	// CreatedAt is when the profile row was first created.
	CreatedAt time.Time

	// UpdatedAt is when the profile was last modified.
	UpdatedAt time.Time
}

// Patch describes a partial profile update. Nil fields are left unchanged.
type Patch struct {
	Name       *string
	TTSEnabled *bool
	Language   *string
}

// Default returns the profile created on a user's first access.
func Default(userID string) *Profile {
	return &Profile{
		UserID:              userID,
		TTSEnabled:          true,
		Language:            "en-US",
		ConversationHistory: []string{},
	}
}

// Store is the abstraction over profile persistence.
//
// Implementations must make each Update and AppendHistory a per-user critical
// section: concurrent read-merge-write cycles for the same user must not lose
// fields. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the user's profile, creating and persisting defaults when the
	// user has none. Never returns a nil profile together with a nil error.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Update applies the non-nil fields of patch to the user's profile and
	// returns the merged result. Creates the profile first when absent.
	Update(ctx context.Context, userID string, patch Patch) (*Profile, error)

	// AppendHistory appends entries to the user's conversation history, trimming
	// the oldest lines beyond [MaxHistoryEntries], and returns the updated
	// profile. Creates the profile first when absent.
	AppendHistory(ctx context.Context, userID string, entries ...string) (*Profile, error)
}
