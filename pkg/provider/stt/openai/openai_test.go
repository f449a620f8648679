package openai

import (
	"context"
	"errors"
	"math"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/sona-app/sona/pkg/provider/stt"
)

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyAPIKey checks that an empty API key returns an error.
func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("", "whisper-1")
	if err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

// TestNew_EmptyModel checks that an empty model returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Valid checks that a valid constructor call succeeds.
func TestNew_Valid(t *testing.T) {
	p, err := New("sk-test", "whisper-1", WithBaseURL("http://localhost:8000/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// ── Transcribe input validation ───────────────────────────────────────────────

// TestTranscribe_EmptyAudio checks that an empty clip is rejected before upload.
func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("sk-test", "whisper-1")
	_, err := p.Transcribe(context.Background(), nil, stt.Config{})
	if err == nil {
		t.Fatal("expected error for empty audio")
	}
}

// TestTranscribe_TooLarge checks the upload size limit.
func TestTranscribe_TooLarge(t *testing.T) {
	p, _ := New("sk-test", "whisper-1")
	big := make([]byte, maxUploadBytes+1)
	_, err := p.Transcribe(context.Background(), big, stt.Config{})
	if !errors.Is(err, stt.ErrAudioTooLarge) {
		t.Fatalf("expected ErrAudioTooLarge, got %v", err)
	}
}

// ── supportsLogprobs ──────────────────────────────────────────────────────────

// TestSupportsLogprobs distinguishes whisper-1 from the transcribe family.
func TestSupportsLogprobs(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"whisper-1", false},
		{"gpt-4o-transcribe", true},
		{"gpt-4o-mini-transcribe", true},
		{"GPT-4O-TRANSCRIBE", true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := supportsLogprobs(tt.model); got != tt.want {
				t.Errorf("supportsLogprobs(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

// ── confidenceFromLogprobs ────────────────────────────────────────────────────

// TestConfidence_NoLogprobs checks the fully-confident default.
func TestConfidence_NoLogprobs(t *testing.T) {
	if got := confidenceFromLogprobs(nil); got != 1 {
		t.Errorf("expected confidence 1 without logprobs, got %v", got)
	}
}

// TestConfidence_MeanLogprob checks the exp-of-mean conversion.
func TestConfidence_MeanLogprob(t *testing.T) {
	lps := []oai.TranscriptionLogprob{
		{Logprob: math.Log(0.9)},
		{Logprob: math.Log(0.9)},
	}
	got := confidenceFromLogprobs(lps)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("expected confidence ~0.9, got %v", got)
	}
}

// TestConfidence_LowLogprobs checks that uncertain tokens yield low confidence.
func TestConfidence_LowLogprobs(t *testing.T) {
	lps := []oai.TranscriptionLogprob{
		{Logprob: math.Log(0.3)},
	}
	got := confidenceFromLogprobs(lps)
	if got > 0.5 {
		t.Errorf("expected low confidence, got %v", got)
	}
}
