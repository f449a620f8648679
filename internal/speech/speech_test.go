package speech_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sona-app/sona/internal/speech"
	ttsmock "github.com/sona-app/sona/pkg/provider/tts/mock"
	"github.com/sona-app/sona/pkg/types"
)

func TestSynthesize(t *testing.T) {
	t.Run("CollectsStreamedAudio", func(t *testing.T) {
		provider := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("chunk1"), []byte("chunk2")},
		}
		s := speech.New(provider, nil)

		res := s.Synthesize(context.Background(), "Take a slow breath.", "en-US")
		if res.Fallback {
			t.Fatal("expected audio, got fallback")
		}
		if !bytes.Equal(res.Audio, []byte("chunk1chunk2")) {
			t.Errorf("audio = %q, want concatenated chunks", res.Audio)
		}
	})

	t.Run("PassesVoiceAndLanguage", func(t *testing.T) {
		provider := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("a")},
		}
		s := speech.New(provider, nil, speech.WithVoice(types.VoiceProfile{ID: "v1", Name: "Nova"}))

		res := s.Synthesize(context.Background(), "Guten Abend.", "de-DE")
		if res.Fallback {
			t.Fatal("expected audio, got fallback")
		}
		if len(provider.SynthesizeStreamCalls) != 1 {
			t.Fatalf("expected 1 synthesis call, got %d", len(provider.SynthesizeStreamCalls))
		}
		voice := provider.SynthesizeStreamCalls[0].Voice
		if voice.ID != "v1" {
			t.Errorf("voice ID = %q, want v1", voice.ID)
		}
		if voice.Metadata["language"] != "de-DE" {
			t.Errorf("language metadata = %q, want de-DE", voice.Metadata["language"])
		}
	})

	t.Run("LanguageDoesNotLeakIntoConfiguredVoice", func(t *testing.T) {
		provider := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("a")},
		}
		configured := types.VoiceProfile{ID: "v1", Metadata: map[string]string{"style": "calm"}}
		s := speech.New(provider, nil, speech.WithVoice(configured))

		if res := s.Synthesize(context.Background(), "Guten Abend.", "de-DE"); res.Fallback {
			t.Fatal("expected audio, got fallback")
		}
		if got := configured.Metadata["language"]; got != "" {
			t.Errorf("configured voice metadata gained language %q; each call must use its own copy", got)
		}
		sent := provider.SynthesizeStreamCalls[0].Voice.Metadata
		if sent["language"] != "de-DE" || sent["style"] != "calm" {
			t.Errorf("sent metadata = %v, want language and configured style", sent)
		}
	})

	t.Run("StartFailureFallsBack", func(t *testing.T) {
		provider := &ttsmock.Provider{SynthesizeErr: errors.New("voice not found")}
		s := speech.New(provider, nil)

		res := s.Synthesize(context.Background(), "hello", "en-US")
		if !res.Fallback {
			t.Fatal("expected fallback on start failure")
		}
		if res.Audio != nil {
			t.Errorf("expected nil audio, got %d bytes", len(res.Audio))
		}
	})

	t.Run("EmptyStreamFallsBack", func(t *testing.T) {
		provider := &ttsmock.Provider{}
		s := speech.New(provider, nil)

		res := s.Synthesize(context.Background(), "hello", "en-US")
		if !res.Fallback {
			t.Fatal("expected fallback when no audio is produced")
		}
	})

	t.Run("NilProviderFallsBack", func(t *testing.T) {
		s := speech.New(nil, nil)

		res := s.Synthesize(context.Background(), "hello", "en-US")
		if !res.Fallback {
			t.Fatal("expected fallback with no TTS configured")
		}
	})

	t.Run("EmptyTextFallsBack", func(t *testing.T) {
		provider := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("a")},
		}
		s := speech.New(provider, nil)

		res := s.Synthesize(context.Background(), "", "en-US")
		if !res.Fallback {
			t.Fatal("expected fallback for empty text")
		}
		if len(provider.SynthesizeStreamCalls) != 0 {
			t.Errorf("expected no synthesis call for empty text, got %d", len(provider.SynthesizeStreamCalls))
		}
	})

	t.Run("CancelledContextFallsBack", func(t *testing.T) {
		provider := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("chunk1")},
		}
		s := speech.New(provider, nil, speech.WithTimeout(time.Nanosecond))

		// The deadline expires before the stream can be drained.
		res := s.Synthesize(context.Background(), "hello", "en-US")
		if !res.Fallback {
			t.Fatal("expected fallback when the deadline expires")
		}
	})
}
