package transcript

import (
	"context"
	"strings"

	"github.com/sona-app/sona/internal/transcript/llmcorrect"
	"github.com/sona-app/sona/pkg/provider/stt"
)

// defaultLLMThreshold is the transcript confidence below which the LLM stage
// runs (when one is configured). Transcripts the provider is already sure
// about skip the round-trip.
const defaultLLMThreshold = 0.85

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher attaches a [Matcher] as the first correction stage. When nil
// (the default), the phonetic stage is skipped entirely.
func WithMatcher(m Matcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithLLM attaches an [llmcorrect.Corrector] as the second correction stage.
// When nil (the default), the LLM stage is skipped entirely.
func WithLLM(lc *llmcorrect.Corrector) Option {
	return func(c *Corrector) {
		c.llm = lc
	}
}

// WithLLMThreshold sets the transcript confidence below which the LLM stage
// is invoked. Default: 0.85. Transcripts without a confidence signal
// (Confidence == 0) always qualify.
func WithLLMThreshold(t float64) Option {
	return func(c *Corrector) {
		c.llmThreshold = t
	}
}

// Corrector is the two-stage vocabulary correction implementation. Stages are
// optional and applied in order: phonetic first, then the LLM pass for
// low-confidence transcripts.
//
// Safe for concurrent use.
type Corrector struct {
	matcher      Matcher
	llm          *llmcorrect.Corrector
	llmThreshold float64
}

// New constructs a [Corrector] with the supplied options. By default both
// stages are disabled; use [WithMatcher] and [WithLLM] to activate them.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		llmThreshold: defaultLLMThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct applies the configured stages to t against vocabulary and returns
// the corrected transcript.
//
// The phonetic stage tests every token — and every n-gram window up to the
// longest vocabulary term — against the vocabulary, so multi-word names
// ("Wim Hof") are matched as a unit. The LLM stage then runs on the
// phonetic-corrected text when the transcript's confidence is below the
// threshold; an LLM failure degrades to the phonetic result rather than
// losing the transcript.
func (c *Corrector) Correct(ctx context.Context, t stt.Transcript, vocabulary []string) (*Corrected, error) {
	result := &Corrected{
		Original:    t,
		Text:        t.Text,
		Corrections: []Correction{},
	}
	if len(vocabulary) == 0 {
		return result, nil
	}

	working := t.Text

	if c.matcher != nil {
		corrected, corrections := c.applyPhonetic(t.Text, vocabulary)
		working = corrected
		result.Corrections = append(result.Corrections, corrections...)
	}

	if c.llm != nil && c.shouldRunLLM(t.Confidence) {
		corrected, llmCorrections, err := c.llm.Correct(ctx, working, vocabulary)
		if err != nil {
			// Keep the phonetic result; the caller records the degradation.
			result.Text = working
			return result, err
		}
		working = corrected
		for _, lc := range llmCorrections {
			result.Corrections = append(result.Corrections, Correction{
				Original:   lc.Original,
				Corrected:  lc.Corrected,
				Confidence: lc.Confidence,
				Method:     "llm",
			})
		}
	}

	result.Text = working
	return result, nil
}

// shouldRunLLM reports whether the LLM stage applies for the given transcript
// confidence. Zero means the provider reported nothing, which qualifies.
func (c *Corrector) shouldRunLLM(confidence float64) bool {
	return confidence == 0 || confidence < c.llmThreshold
}

// applyPhonetic runs the phonetic stage over text. At each token position it
// tries n-gram windows from the longest vocabulary term down to a single
// token, accepting the longest match so multi-word names take precedence
// over partial single-word matches. An n-token window is only tested against
// n-word terms: letting "sirena about" compete for "Serena" would swallow
// the following word.
func (c *Corrector) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	termsByLen := make(map[int][]string)
	maxTermWords := 1
	for _, v := range vocabulary {
		n := len(strings.Fields(v))
		if n == 0 {
			continue
		}
		termsByLen[n] = append(termsByLen[n], v)
		if n > maxTermWords {
			maxTermWords = n
		}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			terms := termsByLen[n]
			if len(terms) == 0 {
				continue
			}
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := c.matcher.Match(window, terms)
			if !ok {
				continue
			}
			if strings.EqualFold(term, window) {
				// Already the canonical term; take its spelling, record nothing.
				output = append(output, strings.Fields(term)...)
				i += n
				matched = true
				break
			}

			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
				Method:     "phonetic",
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}
