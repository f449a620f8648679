// Package lexicon manages each user's personal vocabulary: the names of
// people, places, pets, and practices that appear in their conversations.
//
// The vocabulary feeds the transcript corrector — personal proper nouns are
// exactly the words speech-to-text gets wrong. Terms come from two sources: a
// seed file shipped with the app configuration ([LoadSeedFile]) and names
// observed in the user's own messages, recorded via [Store.Observe].
//
// Seeded terms live under the shared user ID ("") and apply to everyone;
// observed terms are per-user. All store implementations are safe for
// concurrent use.
package lexicon

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// SharedUser is the user ID under which seeded terms are stored. Terms of the
// shared user are included in every user's vocabulary.
const SharedUser = ""

// ErrNotFound is returned by Remove when the term does not exist.
var ErrNotFound = errors.New("lexicon: term not found")

// ErrFull is returned by Add when the user's observed vocabulary has reached
// its size cap. Callers recording best-effort observations ignore it.
var ErrFull = errors.New("lexicon: vocabulary full")

// Kind classifies what a vocabulary term names.
type Kind string

const (
	KindPerson   Kind = "person"
	KindPlace    Kind = "place"
	KindPet      Kind = "pet"
	KindPractice Kind = "practice"
	KindOther    Kind = "other"
)

// IsValid reports whether k is a recognised kind. The empty kind is valid and
// treated as [KindOther].
func (k Kind) IsValid() bool {
	switch k {
	case "", KindPerson, KindPlace, KindPet, KindPractice, KindOther:
		return true
	}
	return false
}

// Term is one vocabulary entry.
type Term struct {
	// Term is the canonical spelling ("Serena", "Solace Garden").
	Term string `yaml:"term"`

	// Kind classifies the term. Optional.
	Kind Kind `yaml:"kind,omitempty"`

	// Source records how the term entered the vocabulary.
	// Well-known values: "seed", "observed".
	Source string `yaml:"-"`

	// AddedAt is when the term was recorded. Set by the store.
	AddedAt time.Time `yaml:"-"`
}

// Store holds vocabulary terms keyed by user.
type Store interface {
	// Add records a term for userID. Duplicate spellings (case-insensitive)
	// are ignored: the first recorded spelling is canonical.
	Add(ctx context.Context, userID string, term Term) error

	// Terms returns the canonical spellings for userID, shared terms
	// included, in stable order.
	Terms(ctx context.Context, userID string) ([]string, error)

	// List returns the full entries for userID only (no shared terms).
	List(ctx context.Context, userID string) ([]Term, error)

	// Observe records names noticed in the user's own messages. Entries that
	// do not look like vocabulary (too short, too long, no letters) are
	// skipped; a full vocabulary is not an error.
	Observe(ctx context.Context, userID string, names []string) error

	// Remove deletes a term (matched case-insensitively) for userID.
	// Returns [ErrNotFound] when the term does not exist.
	Remove(ctx context.Context, userID, term string) error
}

// observable filters Observe input: terms must be 2–40 characters and
// contain at least one letter.
func observable(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 40 {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
