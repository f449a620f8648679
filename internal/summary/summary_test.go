package summary_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sona-app/sona/internal/summary"
	"github.com/sona-app/sona/pkg/provider/llm"
	llmmock "github.com/sona-app/sona/pkg/provider/llm/mock"
)

func TestFold(t *testing.T) {
	t.Run("MergesExchangeIntoSummary", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "User is training for a half marathon and struggles with evening anxiety.",
			},
		}
		s := summary.New(provider)

		got, err := s.Fold(context.Background(),
			"I signed up for a half marathon!",
			"That's a great goal. How is your training plan shaping up?",
			"User struggles with evening anxiety.")
		if err != nil {
			t.Fatalf("Fold returned error: %v", err)
		}
		if got != "User is training for a half marathon and struggles with evening anxiety." {
			t.Errorf("unexpected summary: %q", got)
		}
	})

	t.Run("SendsOldSummaryAndExchange", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "merged"},
		}
		s := summary.New(provider)

		_, err := s.Fold(context.Background(), "user line", "bot line", "prior summary")
		if err != nil {
			t.Fatalf("Fold returned error: %v", err)
		}
		if len(provider.CompleteCalls) != 1 {
			t.Fatalf("expected 1 completion call, got %d", len(provider.CompleteCalls))
		}
		input := provider.CompleteCalls[0].Req.Messages[0].Content
		for _, want := range []string{"prior summary", "User: user line", "Companion: bot line"} {
			if !strings.Contains(input, want) {
				t.Errorf("fold input missing %q:\n%s", want, input)
			}
		}
	})

	t.Run("EmptyOldSummaryMarkedAsNone", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "first summary"},
		}
		s := summary.New(provider)

		_, err := s.Fold(context.Background(), "hello", "hi there", "")
		if err != nil {
			t.Fatalf("Fold returned error: %v", err)
		}
		input := provider.CompleteCalls[0].Req.Messages[0].Content
		if !strings.Contains(input, "(none yet)") {
			t.Errorf("expected empty-summary marker in input:\n%s", input)
		}
	})

	t.Run("ProviderErrorKeepsOldSummary", func(t *testing.T) {
		provider := &llmmock.Provider{CompleteErr: errors.New("model unavailable")}
		s := summary.New(provider)

		got, err := s.Fold(context.Background(), "u", "b", "the old summary")
		if err == nil {
			t.Fatal("expected error")
		}
		if got != "the old summary" {
			t.Errorf("expected old summary preserved, got %q", got)
		}
	})

	t.Run("EmptyCompletionKeepsOldSummary", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "   "},
		}
		s := summary.New(provider)

		got, err := s.Fold(context.Background(), "u", "b", "the old summary")
		if err == nil {
			t.Fatal("expected error for blank completion")
		}
		if got != "the old summary" {
			t.Errorf("expected old summary preserved, got %q", got)
		}
	})

	t.Run("StyleAppearsInSystemPrompt", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "merged"},
		}
		s := summary.New(provider, summary.WithStyle("Focus on mood patterns and coping strategies."))

		_, err := s.Fold(context.Background(), "u", "b", "")
		if err != nil {
			t.Fatalf("Fold returned error: %v", err)
		}
		sys := provider.CompleteCalls[0].Req.SystemPrompt
		if !strings.Contains(sys, "Focus on mood patterns and coping strategies.") {
			t.Errorf("style fragment missing from system prompt:\n%s", sys)
		}
	})

	t.Run("MaxTokensOverride", func(t *testing.T) {
		provider := &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "merged"},
		}
		s := summary.New(provider, summary.WithMaxTokens(120))

		_, err := s.Fold(context.Background(), "u", "b", "")
		if err != nil {
			t.Fatalf("Fold returned error: %v", err)
		}
		if got := provider.CompleteCalls[0].Req.MaxTokens; got != 120 {
			t.Errorf("expected MaxTokens 120, got %d", got)
		}
	})
}
