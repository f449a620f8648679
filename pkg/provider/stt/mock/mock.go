// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller transcribes with the expected Config
// and to feed controlled Transcript values back.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcript: &stt.Transcript{Text: "hello", Confidence: 0.95},
//	}
//	tr, _ := p.Transcribe(ctx, audio, stt.Config{Format: "wav"})
package mock

import (
	"context"
	"sync"

	"github.com/sona-app/sona/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the audio bytes passed to Transcribe.
	Audio []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned from Transcribe on success. If nil, a default
	// empty Transcript with Confidence 1 is returned.
	Transcript *stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if non-nil, overrides the canned Transcript/TranscribeErr
	// behaviour entirely. Useful for per-call responses.
	TranscribeFunc func(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Transcript, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Transcript, error) {
	p.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: cp, Cfg: cfg})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if p.Transcript != nil {
		tr := *p.Transcript
		return &tr, nil
	}
	return &stt.Transcript{Confidence: 1}, nil
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) TranscribeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
