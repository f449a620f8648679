// Package types defines the shared types used across all Sona packages.
//
// These types form the lingua franca between providers, stores, and the turn
// pipeline. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Polarity is the coarse sentiment classification of an utterance.
type Polarity string

const (
	// PolarityPositive marks an utterance with predominantly positive affect.
	PolarityPositive Polarity = "positive"

	// PolarityNegative marks an utterance with predominantly negative affect.
	PolarityNegative Polarity = "negative"

	// PolarityNeutral marks an utterance with no clear affect. It is also the
	// safe default substituted when sentiment analysis fails.
	PolarityNeutral Polarity = "neutral"
)

// IsValid reports whether p is a recognised polarity value.
func (p Polarity) IsValid() bool {
	switch p {
	case PolarityPositive, PolarityNegative, PolarityNeutral:
		return true
	}
	return false
}

// SessionKind distinguishes the two conversation domains the companion serves.
type SessionKind string

const (
	// SessionChat is a free-form conversation with a chat persona.
	SessionChat SessionKind = "chat"

	// SessionJournal is a guided journaling session.
	SessionJournal SessionKind = "journal"
)

// IsValid reports whether k is a recognised session kind.
func (k SessionKind) IsValid() bool {
	return k == SessionChat || k == SessionJournal
}

// Utterance is the canonical representation of one user turn after input
// normalization: the raw text plus detected language, intent, and entities.
// An Utterance is immutable once produced and is consumed by every downstream
// stage of the turn.
type Utterance struct {
	// RawText is the user's text, either typed directly or transcribed from audio.
	RawText string

	// LanguageCode is the detected BCP-47 language tag (e.g., "en-US", "de-DE").
	LanguageCode string

	// Intent is the detected conversational intent (e.g., "greeting", "journal",
	// "seek_support", "unknown").
	Intent string

	// Entities maps detected entity names to their surface values.
	// Never nil on a well-formed Utterance; empty when nothing was detected.
	Entities map[string]string

	// Confidence is the transcription confidence (0.0–1.0) when the utterance
	// originated from audio. Zero for typed input.
	Confidence float64

	// LowConfidence is set when the transcription confidence fell below the
	// configured threshold. The turn still proceeds; callers may use this to
	// offer a re-prompt.
	LowConfidence bool
}

// Sentiment is the per-turn affect classification of an utterance.
// It is ephemeral — produced during enrichment and discarded after the turn.
type Sentiment struct {
	// Polarity is the coarse classification.
	Polarity Polarity

	// Emotion is a free-form emotion label (e.g., "anxious", "hopeful", "calm").
	Emotion string
}

// ContextDocument is a supporting knowledge snippet retrieved to ground a
// single turn's response. Zero or more per turn, ephemeral.
type ContextDocument struct {
	// Content is the snippet text injected into the grounding prompt.
	Content string

	// Source identifies where the snippet came from (corpus name, URL, …).
	Source string
}

// Exchange is one completed turn: the user's prompt and the companion's
// response. Exchanges are append-only; one row per turn, never mutated.
type Exchange struct {
	// ID is the store-assigned auto-incrementing identity. Recent-window reads
	// tie-break on ID rather than CreatedAt to avoid clock-resolution collisions.
	ID int64

	// SessionID identifies the conversation session this exchange belongs to.
	SessionID int64

	// UserPrompt is the user's utterance text for this turn.
	UserPrompt string

	// BotResponse is the generated reply text for this turn.
	BotResponse string

	// CreatedAt is when the exchange was recorded.
	CreatedAt time.Time
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (e.g., the persona display name).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool
}

// VoiceProfile describes a TTS voice configuration for a persona.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}
