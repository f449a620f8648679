// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API
// or a local Whisper server) and exposes a uniform batch interface: a complete
// audio clip goes in, a single authoritative Transcript comes out. Voice notes
// in a journaling app are short, self-contained recordings, so batch
// transcription is the natural shape; there is no live microphone stream to
// chase with partial results.
//
// Implementations must be safe for concurrent use. Multiple transcriptions may
// be in flight simultaneously (e.g., one per active session).
package stt

import (
	"context"
	"errors"
)

// ErrAudioTooLarge is returned when the audio clip exceeds the provider's
// upload limit.
var ErrAudioTooLarge = errors.New("stt: audio clip exceeds provider size limit")

// Config describes the audio clip and recognition hints for a transcription
// request.
type Config struct {
	// Format is the container/encoding of the audio bytes (e.g., "wav", "mp3",
	// "m4a", "ogg"). Providers use it to label the upload; an empty string
	// defaults to "wav".
	Format string

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Prompt is an optional text hint that biases recognition towards expected
	// vocabulary (e.g., persona names or app-specific terms).
	Prompt string
}

// Transcript is the authoritative result of transcribing one audio clip.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// Confidence is the provider's overall confidence in Text, in [0, 1].
	// Providers that expose no confidence signal report 1.
	Confidence float64

	// Language is the detected (or requested) language tag. May be empty when
	// the provider does not report it.
	Language string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts a complete audio clip into text. The audio slice
	// holds the raw file bytes in the format declared by cfg.Format.
	//
	// Returns an error if the provider cannot process the clip (authentication
	// failure, unsupported format, clip too large, or ctx cancelled). A
	// successful call always returns a non-nil Transcript, though Text may be
	// empty for silent clips.
	Transcribe(ctx context.Context, audio []byte, cfg Config) (*Transcript, error)
}
