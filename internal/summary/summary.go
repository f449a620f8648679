// Package summary maintains the rolling conversation summary that keeps old
// context available after the recent-exchange window has scrolled past it.
//
// After each turn the orchestrator folds the new exchange into the previous
// summary with one LLM call. The fold is last-good-value resilient: on any
// failure the previous summary is returned unchanged alongside the error, so
// a flaky model can never erase accumulated context.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/types"
)

// defaultMaxTokens caps the summary completion.
const defaultMaxTokens = 300

// Option configures a [Summarizer].
type Option func(*Summarizer)

// WithMaxTokens overrides the summary completion cap. The default is 300.
func WithMaxTokens(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithStyle adds a domain-specific steering fragment to the merge prompt
// (e.g., "focus on mood patterns and coping strategies" for a journal
// persona). Distinct personas get distinct Summarizer values.
func WithStyle(style string) Option {
	return func(s *Summarizer) {
		s.style = strings.TrimSpace(style)
	}
}

// Summarizer folds completed exchanges into a rolling summary.
// Safe for concurrent use.
type Summarizer struct {
	llm       llm.Provider
	maxTokens int
	style     string
}

// New creates a Summarizer using provider for the merge call.
func New(provider llm.Provider, opts ...Option) *Summarizer {
	s := &Summarizer{
		llm:       provider,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fold merges the completed exchange into oldSummary and returns the new
// summary. On any failure it returns oldSummary unchanged together with the
// error — the caller keeps the last good value.
func (s *Summarizer) Fold(ctx context.Context, userText, botText, oldSummary string) (string, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.buildPrompt(),
		Messages: []types.Message{
			{Role: "user", Content: buildFoldInput(userText, botText, oldSummary)},
		},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return oldSummary, fmt.Errorf("summary: fold: %w", err)
	}

	merged := strings.TrimSpace(resp.Content)
	if merged == "" {
		return oldSummary, fmt.Errorf("summary: empty completion")
	}
	return merged, nil
}

func (s *Summarizer) buildPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You maintain the running summary of a conversation between a user and their wellness companion.
Merge the latest exchange into the existing summary and return ONLY the updated summary text.
Prioritize the user's goals, stated preferences, recurring themes, and open tasks. Drop greetings, filler, and trivia.
Write compact prose, third person, present tense.`)
	if s.style != "" {
		sb.WriteString("\n")
		sb.WriteString(s.style)
	}
	return sb.String()
}

func buildFoldInput(userText, botText, oldSummary string) string {
	var sb strings.Builder
	sb.WriteString("Existing summary:\n")
	if strings.TrimSpace(oldSummary) == "" {
		sb.WriteString("(none yet)")
	} else {
		sb.WriteString(oldSummary)
	}
	sb.WriteString("\n\nLatest exchange:\nUser: ")
	sb.WriteString(userText)
	sb.WriteString("\nCompanion: ")
	sb.WriteString(botText)
	return sb.String()
}
