// Package sentiment classifies the affect of a single utterance.
//
// The classification is one LLM call constrained to a small JSON answer. It
// runs as an enrichment branch, so a failure must never block the turn: every
// error path returns [Neutral] alongside the error and the orchestrator
// records the degradation.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/types"
)

// Neutral is the safe default substituted when analysis fails.
func Neutral() types.Sentiment {
	return types.Sentiment{Polarity: types.PolarityNeutral, Emotion: "neutral"}
}

// Analyzer classifies utterance sentiment with an LLM.
// Safe for concurrent use.
type Analyzer struct {
	llm llm.Provider
}

// New creates an Analyzer using provider for the classification call.
func New(provider llm.Provider) *Analyzer {
	return &Analyzer{llm: provider}
}

const analyzeSystemPrompt = `You classify the emotional tone of one user message from a wellness app.
Respond with ONLY a JSON object, no prose:
{"sentiment": "<positive|negative|neutral>", "emotion": "<one lowercase word, e.g. anxious, hopeful, calm, frustrated>"}`

// answer is the wire shape of the model's JSON reply.
type answer struct {
	Sentiment string `json:"sentiment"`
	Emotion   string `json:"emotion"`
}

// Analyze classifies text. On any failure it returns [Neutral] together with
// the error; the returned value is always usable.
func (a *Analyzer) Analyze(ctx context.Context, text string) (types.Sentiment, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analyzeSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
		MaxTokens: 64,
	})
	if err != nil {
		return Neutral(), fmt.Errorf("sentiment: analyze: %w", err)
	}

	parsed, err := parseAnswer(resp.Content)
	if err != nil {
		return Neutral(), fmt.Errorf("sentiment: %w", err)
	}

	s := types.Sentiment{
		Polarity: types.Polarity(strings.ToLower(strings.TrimSpace(parsed.Sentiment))),
		Emotion:  strings.ToLower(strings.TrimSpace(parsed.Emotion)),
	}
	// An unrecognised polarity is coerced rather than failed: the model said
	// something, we just cannot act on it.
	if !s.Polarity.IsValid() {
		s.Polarity = types.PolarityNeutral
	}
	if s.Emotion == "" {
		s.Emotion = "neutral"
	}
	return s, nil
}

// parseAnswer extracts the JSON object from a reply that may carry prose or a
// markdown fence around it.
func parseAnswer(content string) (*answer, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in sentiment answer")
	}
	var parsed answer
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse sentiment answer: %w", err)
	}
	return &parsed, nil
}
