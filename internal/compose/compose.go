// Package compose turns an enriched utterance into the companion's reply.
//
// The composer assembles a section-wise grounding prompt — persona
// instructions, retrieved knowledge, the rolling summary, recent turns, and a
// sentiment hint — runs one generation call, and post-processes the completion
// through an [ActionDetector] that extracts app actions embedded as markers.
// On generation failure it returns [Apology] alongside the error so the turn
// always has something to say.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/sona-app/sona/internal/profile"
	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/types"
)

// apologyText is the fixed reply used when generation fails.
const apologyText = "I'm having trouble responding right now. Please try again later."

// Apology returns the fixed degraded reply.
func Apology() Reply {
	return Reply{Text: apologyText}
}

// Input carries everything a single reply is grounded on.
type Input struct {
	// Utterance is the normalized user turn.
	Utterance types.Utterance

	// Sentiment is the utterance's affect classification.
	Sentiment types.Sentiment

	// Documents are the retrieved knowledge snippets. May be empty.
	Documents []types.ContextDocument

	// Profile is the user's preference profile. May be nil; defaults apply.
	Profile *profile.Profile

	// Recent is the bounded window of prior exchanges, oldest first.
	Recent []types.Exchange

	// PersonaName is the companion persona's display name.
	PersonaName string

	// SystemInstructions is the persona's free-text description.
	SystemInstructions string

	// Summary is the rolling conversation summary. May be empty early on.
	Summary string
}

// Reply is a composed response.
type Reply struct {
	// Text is the reply shown (and optionally spoken) to the user.
	Text string

	// Action is the app action ID detected in the completion, if any
	// (e.g., "book_session"). Empty when the reply carries no action.
	Action string
}

// Option configures a [Composer].
type Option func(*Composer)

// WithDetector replaces the action detector. The default is
// [NewMarkerDetector] with the built-in marker table.
func WithDetector(d ActionDetector) Option {
	return func(c *Composer) {
		if d != nil {
			c.detector = d
		}
	}
}

// WithMaxTokens caps the generation. The default is 1024.
func WithMaxTokens(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// Composer generates grounded replies. Safe for concurrent use.
type Composer struct {
	llm       llm.Provider
	detector  ActionDetector
	maxTokens int
}

// New creates a Composer using provider for generation.
func New(provider llm.Provider, opts ...Option) *Composer {
	c := &Composer{
		llm:       provider,
		detector:  NewMarkerDetector(nil),
		maxTokens: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose generates the reply for in. On generation failure it returns
// [Apology] together with the error; the returned reply is always usable.
func (c *Composer) Compose(ctx context.Context, in Input) (Reply, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.buildSystemPrompt(in),
		Messages:     buildMessages(in),
		Temperature:  0.7,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return Apology(), fmt.Errorf("compose: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Apology(), fmt.Errorf("compose: empty completion")
	}

	action, clean := c.detector.Detect(text)
	return Reply{Text: clean, Action: action}, nil
}

// buildSystemPrompt renders the grounding prompt section-wise. Empty sections
// are omitted rather than rendering as empty headers.
func (c *Composer) buildSystemPrompt(in Input) string {
	var sb strings.Builder

	name := in.PersonaName
	if name == "" {
		name = "a supportive companion"
	}
	instructions := strings.TrimSpace(in.SystemInstructions)
	if instructions != "" {
		fmt.Fprintf(&sb, "You are %s. %s", name, instructions)
	} else {
		fmt.Fprintf(&sb, "You are %s.", name)
	}

	if in.Profile != nil {
		if in.Profile.Name != "" {
			fmt.Fprintf(&sb, "\nThe user's name is %s.", in.Profile.Name)
		}
		if in.Profile.Language != "" {
			fmt.Fprintf(&sb, "\nAlways reply in the user's preferred language: %s.", in.Profile.Language)
		}
	}

	if len(in.Documents) > 0 {
		sb.WriteString("\n\n## What you know\n")
		for _, doc := range in.Documents {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(doc.Content))
			sb.WriteString("\n")
		}
		sb.WriteString("Ground your reply in this knowledge when it is relevant; never invent facts beyond it.")
	}

	if s := strings.TrimSpace(in.Summary); s != "" {
		sb.WriteString("\n\n## Conversation summary\n")
		sb.WriteString(s)
	}

	if in.Sentiment.Polarity != "" && in.Sentiment.Polarity != types.PolarityNeutral {
		fmt.Fprintf(&sb, "\n\nThe user currently sounds %s", in.Sentiment.Polarity)
		if in.Sentiment.Emotion != "" && in.Sentiment.Emotion != "neutral" {
			fmt.Fprintf(&sb, " (%s)", in.Sentiment.Emotion)
		}
		sb.WriteString(". Acknowledge their state before anything else.")
	}

	sb.WriteString("\n\nIf, and only if, the user clearly asks to book a session with a human coach, include the marker [action:book_session] at the end of your reply.")

	return sb.String()
}

// buildMessages renders the recent exchanges as alternating user/assistant
// messages followed by the current utterance.
func buildMessages(in Input) []types.Message {
	msgs := make([]types.Message, 0, len(in.Recent)*2+1)
	for _, ex := range in.Recent {
		msgs = append(msgs,
			types.Message{Role: "user", Content: ex.UserPrompt},
			types.Message{Role: "assistant", Content: ex.BotResponse},
		)
	}
	msgs = append(msgs, types.Message{Role: "user", Content: in.Utterance.RawText})
	return msgs
}
