package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/sona-app/sona/pkg/provider/llm"
	llmmock "github.com/sona-app/sona/pkg/provider/llm/mock"
	"github.com/sona-app/sona/pkg/provider/stt"
	sttmock "github.com/sona-app/sona/pkg/provider/stt/mock"
)

func TestNormalize_GreetingFastPath(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
	}{
		{"ExactMatch", "hello"},
		{"CaseInsensitive", "Hello"},
		{"TrailingPunctuation", "hey!"},
		{"OneTypo", "helo"},
		{"TwoWords", "good morning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &llmmock.Provider{}
			n := New(provider)

			u, err := n.Normalize(ctx, Input{Text: tt.input})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Intent != "greeting" {
				t.Errorf("intent = %q, want greeting", u.Intent)
			}
			if u.LanguageCode != "en-US" {
				t.Errorf("language = %q, want en-US", u.LanguageCode)
			}
			if len(provider.CompleteCalls) != 0 {
				t.Errorf("understanding called %d times, want 0 on the fast path", len(provider.CompleteCalls))
			}
		})
	}

	t.Run("LongInputSkipsFastPath", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{"languageCode":"en-US","intent":"smalltalk","entities":{}}`},
		}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "hello, I wanted to talk about my week"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Intent == "greeting" {
			t.Error("long input must not take the greeting fast path")
		}
		if len(provider.CompleteCalls) != 1 {
			t.Errorf("understanding called %d times, want 1", len(provider.CompleteCalls))
		}
	})
}

func TestNormalize_Understanding(t *testing.T) {
	ctx := context.Background()

	t.Run("ParsesJSON", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: `{"languageCode":"de-DE","intent":"journal","entities":{"activity":"running"}}`,
			},
		}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "Ich war heute laufen und es ging mir gut"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.LanguageCode != "de-DE" || u.Intent != "journal" {
			t.Errorf("utterance = %+v", u)
		}
		if u.Entities["activity"] != "running" {
			t.Errorf("entities = %v, want activity=running", u.Entities)
		}
	})

	t.Run("ToleratesFencedJSON", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "```json\n{\"languageCode\":\"en-US\",\"intent\":\"question\",\"entities\":{}}\n```",
			},
		}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "what helps with falling asleep faster"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Intent != "question" {
			t.Errorf("intent = %q, want question", u.Intent)
		}
	})

	t.Run("FillsMissingFields", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: `{}`},
		}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "something ambiguous to say"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.LanguageCode != "en-US" || u.Intent != "unknown" || u.Entities == nil {
			t.Errorf("utterance = %+v, want defaults filled in", u)
		}
	})

	t.Run("ProviderErrorFallsBack", func(t *testing.T) {
		provider := &llmmock.Provider{CompleteErr: errors.New("model down")}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "tell me about my stress levels"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if u.RawText != "tell me about my stress levels" {
			t.Errorf("raw text = %q, want the original text preserved", u.RawText)
		}
		if u.Intent != "unknown" || u.Entities == nil {
			t.Errorf("utterance = %+v, want the fallback shape", u)
		}
	})

	t.Run("UnparseableAnswerFallsBack", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "Sure! The intent here is journaling."},
		}
		n := New(provider)

		u, err := n.Normalize(ctx, Input{Text: "today was a long day at work"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if u.RawText != "today was a long day at work" || u.Intent != "unknown" {
			t.Errorf("utterance = %+v, want the fallback shape", u)
		}
	})
}

func TestNormalize_Audio(t *testing.T) {
	ctx := context.Background()

	t.Run("TranscribesThenUnderstands", func(t *testing.T) {
		sttProvider := &sttmock.Provider{
			Transcript: &stt.Transcript{Text: "I feel anxious about tomorrow", Confidence: 0.92},
		}
		llmProvider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: `{"languageCode":"en-US","intent":"seek_support","entities":{}}`,
			},
		}
		n := New(llmProvider, WithSTT(sttProvider))

		u, err := n.Normalize(ctx, Input{Audio: []byte("fake-wav"), MIMEType: "audio/wav"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.RawText != "I feel anxious about tomorrow" {
			t.Errorf("raw text = %q", u.RawText)
		}
		if u.Intent != "seek_support" {
			t.Errorf("intent = %q, want seek_support", u.Intent)
		}
		if u.Confidence != 0.92 || u.LowConfidence {
			t.Errorf("confidence = %v low=%v, want 0.92 and not low", u.Confidence, u.LowConfidence)
		}
	})

	t.Run("LowConfidenceFlagged", func(t *testing.T) {
		sttProvider := &sttmock.Provider{
			Transcript: &stt.Transcript{Text: "mumbled words about sleeping", Confidence: 0.3},
		}
		llmProvider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: `{"languageCode":"en-US","intent":"unknown","entities":{}}`,
			},
		}
		n := New(llmProvider, WithSTT(sttProvider), WithConfidenceThreshold(0.5))

		u, err := n.Normalize(ctx, Input{Audio: []byte("fake-wav")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !u.LowConfidence {
			t.Error("expected low-confidence flag for 0.3 < 0.5")
		}
	})

	t.Run("GreetingFastPathFromAudio", func(t *testing.T) {
		sttProvider := &sttmock.Provider{
			Transcript: &stt.Transcript{Text: "helo", Confidence: 0.8},
		}
		llmProvider := &llmmock.Provider{}
		n := New(llmProvider, WithSTT(sttProvider))

		u, err := n.Normalize(ctx, Input{Audio: []byte("fake-wav")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Intent != "greeting" {
			t.Errorf("intent = %q, want greeting despite the transcription slip", u.Intent)
		}
		if len(llmProvider.CompleteCalls) != 0 {
			t.Error("fast path must not call the model")
		}
	})

	t.Run("NoSTTConfigured", func(t *testing.T) {
		n := New(&llmmock.Provider{})
		if _, err := n.Normalize(ctx, Input{Audio: []byte("x")}); !errors.Is(err, ErrNoSTT) {
			t.Errorf("err = %v, want ErrNoSTT", err)
		}
	})

	t.Run("TranscribeFailure", func(t *testing.T) {
		sttProvider := &sttmock.Provider{TranscribeErr: errors.New("stt down")}
		n := New(&llmmock.Provider{}, WithSTT(sttProvider))

		u, err := n.Normalize(ctx, Input{Audio: []byte("x")})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if u.RawText != "" || u.Intent != "unknown" {
			t.Errorf("utterance = %+v, want empty fallback", u)
		}
	})

	t.Run("EmptyTranscriptUsable", func(t *testing.T) {
		sttProvider := &sttmock.Provider{
			Transcript: &stt.Transcript{Text: "   ", Confidence: 0.2},
		}
		n := New(&llmmock.Provider{}, WithSTT(sttProvider))

		u, err := n.Normalize(ctx, Input{Audio: []byte("x")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !u.LowConfidence {
			t.Error("empty transcript should be flagged low-confidence")
		}
	})

	t.Run("MIMEMapsToFormat", func(t *testing.T) {
		sttProvider := &sttmock.Provider{
			Transcript: &stt.Transcript{Text: "hello", Confidence: 1},
		}
		n := New(&llmmock.Provider{}, WithSTT(sttProvider))

		if _, err := n.Normalize(ctx, Input{Audio: []byte("x"), MIMEType: "audio/mpeg"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := sttProvider.TranscribeCalls[0].Cfg.Format; got != "mp3" {
			t.Errorf("format = %q, want mp3", got)
		}
	})
}

func TestNormalize_EmptyInput(t *testing.T) {
	n := New(&llmmock.Provider{})
	if _, err := n.Normalize(context.Background(), Input{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}
