package resilience

import (
	"context"

	"github.com/sona-app/sona/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several
// transcription backends, so a voice note still becomes text when the primary
// speech service is down.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback appends a transcription backend to the chain.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the clip to the first healthy backend; later entries
// receive the same clip when earlier ones fail.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, audio, cfg)
	})
}
