// Package llmcorrect implements a language-model correction stage that fixes
// vocabulary misspellings the phonetic matcher could not resolve.
//
// The [Corrector] sends the transcript text to an [llm.Provider] along with
// the user's known vocabulary. A conservative system prompt instructs the
// model to fix only words that look like misheard vocabulary terms and to
// return a structured JSON answer with the corrected text and an itemised
// list of substitutions. Every reported substitution is then cross-checked
// against the actual token-level diff between input and output; changes the
// model made but did not declare are reverted.
//
// When the model's answer cannot be parsed, the corrector returns the input
// unchanged rather than surfacing an error.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/types"
)

const defaultTemperature = 0.1

// systemPromptTemplate is the base system prompt. The vocabulary list is
// appended at call time.
const systemPromptTemplate = `You are a transcript correction assistant for a personal journaling app.

Your task: fix misheard names in the provided voice-note transcript.

Rules:
- ONLY correct words that appear to be misheard versions of the known names listed below.
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- Be conservative: if you are not confident a word is a misheard name, leave it unchanged.
- Corrected names must match the canonical spelling from the list exactly.

Known names:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// Correction is a single substitution produced by the model and confirmed by
// the verification pass.
type Correction struct {
	// Original is the text as it appeared in the input transcript.
	Original string

	// Corrected is the replacement vocabulary term.
	Corrected string

	// Confidence is the model's reported confidence for this substitution.
	Confidence float64
}

// llmResponse is the expected JSON shape of the model's answer.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Lower values produce more
// deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector uses an [llm.Provider] to fix misheard vocabulary in transcript
// text. Safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a [Corrector] backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct asks the model to fix misheard vocabulary in text and returns the
// corrected text with the verified substitutions.
//
// An unparseable answer yields the input unchanged with a nil error. Network
// errors and context cancellation are returned as non-nil errors with the
// input text.
func (c *Corrector) Correct(ctx context.Context, text string, vocabulary []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	corrected, corrections, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		return text, nil, nil
	}

	// Revert any change the model made but did not declare.
	corrected, corrections = verifyCorrectedText(text, corrected, corrections)
	return corrected, corrections, nil
}

func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the model output into an [llmResponse], stripping
// markdown code fences first.
func parseResponse(content, originalText string) (string, []Correction, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llmcorrect: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes the ```json fences some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
