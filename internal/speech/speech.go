// Package speech turns a composed reply into spoken audio.
//
// Synthesis is strictly best-effort: the text reply has already been produced
// and persisted by the time synthesis runs, so a broken TTS backend must never
// fail the turn. Synthesize therefore returns a Result instead of an error —
// on any failure the Result carries Fallback=true and the caller renders the
// text without audio.
package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/sona-app/sona/pkg/provider/tts"
	"github.com/sona-app/sona/pkg/types"
)

// defaultTimeout bounds a single synthesis request.
const defaultTimeout = 10 * time.Second

// Result is the outcome of a synthesis attempt. When Fallback is true, Audio
// is nil and the caller should present the text reply only.
type Result struct {
	// Audio is the synthesised speech as raw PCM bytes. Nil when Fallback is set.
	Audio []byte

	// Fallback reports that synthesis was skipped or failed and the text reply
	// should be shown without audio.
	Fallback bool
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithTimeout overrides the per-request synthesis deadline. The default is 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithVoice sets the voice profile used for synthesis.
func WithVoice(voice types.VoiceProfile) Option {
	return func(s *Synthesizer) {
		s.voice = voice
	}
}

// Synthesizer converts reply text to audio via a TTS provider.
// Safe for concurrent use.
type Synthesizer struct {
	tts     tts.Provider
	voice   types.VoiceProfile
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Synthesizer. provider may be nil, in which case every call
// returns a fallback Result.
func New(provider tts.Provider, logger *slog.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{
		tts:     provider,
		timeout: defaultTimeout,
		logger:  logger.With("component", "speech"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renders text as speech. It never returns an error: any provider
// failure, timeout, or empty stream yields Result{Fallback: true}.
func (s *Synthesizer) Synthesize(ctx context.Context, text, languageCode string) Result {
	if s.tts == nil || text == "" {
		return Result{Fallback: true}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	// Copy the metadata map as well as the struct; writing the language into
	// the shared map would race between concurrent calls.
	voice := s.voice
	voice.Metadata = make(map[string]string, len(s.voice.Metadata)+1)
	for k, v := range s.voice.Metadata {
		voice.Metadata[k] = v
	}
	if languageCode != "" {
		voice.Metadata["language"] = languageCode
	}

	audioCh, err := s.tts.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		s.logger.Warn("synthesis failed to start, falling back to text", "error", err)
		return Result{Fallback: true}
	}

	var audio []byte
	for chunk := range audioCh {
		audio = append(audio, chunk...)
	}

	// A cancelled context or an early-closed channel both end up here with
	// whatever was collected so far. Partial audio is worse than no audio.
	if err := ctx.Err(); err != nil {
		s.logger.Warn("synthesis interrupted, falling back to text", "error", err)
		return Result{Fallback: true}
	}
	if len(audio) == 0 {
		s.logger.Warn("synthesis produced no audio, falling back to text")
		return Result{Fallback: true}
	}
	return Result{Audio: audio}
}
