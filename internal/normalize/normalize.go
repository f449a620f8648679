// Package normalize turns raw user input — typed text or a voice note — into
// a canonical [types.Utterance] carrying the detected language, intent, and
// entities.
//
// Two paths exist: a zero-cost greeting fast-path for trivially recognisable
// inputs (fuzzy-matched to tolerate transcription slips), and an LLM
// understanding call for everything else. Normalization never leaves the
// caller without a usable value: on any failure it returns
// [FallbackUtterance] alongside the error, and the orchestrator decides how
// to account for the degradation.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/sona-app/sona/internal/transcript"
	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/provider/stt"
	"github.com/sona-app/sona/pkg/types"
)

// ErrNoSTT is returned when audio input arrives but no transcription provider
// is configured.
var ErrNoSTT = errors.New("normalize: audio input requires a transcription provider")

// ErrEmptyInput is returned when neither text nor audio is supplied.
var ErrEmptyInput = errors.New("normalize: empty input")

// Input is one raw user turn. Exactly one of Text or Audio should be set;
// when both are set, Audio wins and Text is ignored.
type Input struct {
	// Text is typed input.
	Text string

	// Audio is a voice-note payload to transcribe.
	Audio []byte

	// MIMEType describes the audio encoding (e.g., "audio/wav"). Optional.
	MIMEType string

	// Vocabulary is the user's personal vocabulary, used to correct misheard
	// names in the transcript when a corrector is configured. Ignored for
	// typed input.
	Vocabulary []string
}

// defaultConfidenceThreshold flags transcripts below this confidence.
const defaultConfidenceThreshold = 0.6

// greetingMaxRunes bounds the inputs eligible for the greeting fast-path.
// Longer inputs always carry more than a greeting and go to understanding.
const greetingMaxRunes = 12

// greetings is the fast-path pattern set, lowercase.
var greetings = []string{
	"hi", "hello", "hey", "good morning", "good evening", "good night",
	"morning", "evening", "yo", "hiya", "howdy",
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithSTT supplies the transcription provider for audio input.
func WithSTT(provider stt.Provider) Option {
	return func(n *Normalizer) {
		n.stt = provider
	}
}

// WithConfidenceThreshold overrides the transcription confidence below which
// utterances are flagged low-confidence. The default is 0.6.
func WithConfidenceThreshold(t float64) Option {
	return func(n *Normalizer) {
		if t > 0 {
			n.threshold = t
		}
	}
}

// TranscriptCorrector fixes misheard vocabulary in a transcript.
// [transcript.Corrector] is the production implementation.
type TranscriptCorrector interface {
	Correct(ctx context.Context, t stt.Transcript, vocabulary []string) (*transcript.Corrected, error)
}

// WithCorrector attaches a transcript corrector applied between transcription
// and understanding when the input carries a vocabulary.
func WithCorrector(c TranscriptCorrector) Option {
	return func(n *Normalizer) {
		n.corrector = c
	}
}

// Normalizer converts raw input into canonical utterances.
// Safe for concurrent use.
type Normalizer struct {
	llm       llm.Provider
	stt       stt.Provider
	corrector TranscriptCorrector
	threshold float64
}

// New creates a Normalizer using provider for the understanding call.
func New(provider llm.Provider, opts ...Option) *Normalizer {
	n := &Normalizer{
		llm:       provider,
		threshold: defaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FallbackUtterance is the always-usable value substituted when transcription
// succeeds but understanding fails: the raw text with unknown intent.
func FallbackUtterance(text string) types.Utterance {
	return types.Utterance{
		RawText:      text,
		LanguageCode: "en-US",
		Intent:       "unknown",
		Entities:     map[string]string{},
	}
}

// Normalize produces the canonical utterance for in.
//
// The returned utterance is usable even when err is non-nil — callers record
// the degradation and carry on. The only inputs that yield an unusable (zero
// RawText) utterance are an empty Input and audio without a configured
// transcription provider.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (types.Utterance, error) {
	text := in.Text
	var (
		confidence    float64
		lowConfidence bool
		fromAudio     bool
	)

	if len(in.Audio) > 0 {
		if n.stt == nil {
			return FallbackUtterance(""), ErrNoSTT
		}
		tr, err := n.stt.Transcribe(ctx, in.Audio, stt.Config{Format: formatFromMIME(in.MIMEType)})
		if err != nil {
			return FallbackUtterance(""), fmt.Errorf("normalize: transcribe: %w", err)
		}
		text = tr.Text
		confidence = tr.Confidence
		lowConfidence = confidence < n.threshold
		fromAudio = true

		if n.corrector != nil && len(in.Vocabulary) > 0 && tr.Text != "" {
			// Correction is best-effort: the corrector always returns a
			// usable result, so a failed LLM pass just means the phonetic
			// result (or the raw transcript) goes forward.
			if fixed, _ := n.corrector.Correct(ctx, *tr, in.Vocabulary); fixed != nil {
				text = fixed.Text
			}
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if fromAudio {
			// Empty transcript from real audio: usable fallback, flagged.
			u := FallbackUtterance("")
			u.Confidence = confidence
			u.LowConfidence = true
			return u, nil
		}
		return FallbackUtterance(""), ErrEmptyInput
	}

	if isGreeting(text) {
		return types.Utterance{
			RawText:       text,
			LanguageCode:  "en-US",
			Intent:        "greeting",
			Entities:      map[string]string{},
			Confidence:    confidence,
			LowConfidence: lowConfidence,
		}, nil
	}

	u, err := n.understand(ctx, text)
	u.Confidence = confidence
	u.LowConfidence = lowConfidence
	return u, err
}

// isGreeting reports whether text is recognisably a greeting: an exact
// lowercase match, or within Levenshtein distance 1 of a pattern (tolerates
// one transcription slip like "helo"). The fuzzy check only applies to
// patterns of four or more characters — one edit on "hi" or "yo" would match
// half the dictionary.
func isGreeting(text string) bool {
	if utf8.RuneCountInString(text) > greetingMaxRunes {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(text, ".!?, "))
	for _, g := range greetings {
		if lower == g {
			return true
		}
		if len(g) >= 4 && matchr.Levenshtein(lower, g) <= 1 {
			return true
		}
	}
	return false
}

const understandSystemPrompt = `You are an input analyzer for a wellness companion app.
Given one user message, respond with ONLY a JSON object, no prose, of the form:
{"languageCode": "<BCP-47 tag like en-US>", "intent": "<one of: greeting, journal, seek_support, question, smalltalk, unknown>", "entities": {"<name>": "<value>"}}
Entities are concrete things the user mentions (people, activities, feelings named explicitly). Use {} when there are none.`

// understanding is the wire shape of the model's JSON answer.
type understanding struct {
	LanguageCode string            `json:"languageCode"`
	Intent       string            `json:"intent"`
	Entities     map[string]string `json:"entities"`
}

// understand runs the LLM understanding call. On any error or unparseable
// answer it returns [FallbackUtterance] together with the error.
func (n *Normalizer) understand(ctx context.Context, text string) (types.Utterance, error) {
	resp, err := n.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: understandSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return FallbackUtterance(text), fmt.Errorf("normalize: understanding: %w", err)
	}

	parsed, err := parseUnderstanding(resp.Content)
	if err != nil {
		return FallbackUtterance(text), fmt.Errorf("normalize: %w", err)
	}

	u := types.Utterance{
		RawText:      text,
		LanguageCode: parsed.LanguageCode,
		Intent:       parsed.Intent,
		Entities:     parsed.Entities,
	}
	if u.LanguageCode == "" {
		u.LanguageCode = "en-US"
	}
	if u.Intent == "" {
		u.Intent = "unknown"
	}
	if u.Entities == nil {
		u.Entities = map[string]string{}
	}
	return u, nil
}

// parseUnderstanding extracts the JSON object from a model answer that may be
// wrapped in prose or a markdown fence.
func parseUnderstanding(content string) (*understanding, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in understanding answer %q", truncate(content, 80))
	}

	var parsed understanding
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse understanding answer: %w", err)
	}
	return &parsed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// formatFromMIME maps a MIME type to the short format name transcription
// providers expect. Unknown types default to wav.
func formatFromMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/webm":
		return "webm"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/flac":
		return "flac"
	default:
		return "wav"
	}
}
