package llmcorrect_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sona-app/sona/internal/transcript/llmcorrect"
	"github.com/sona-app/sona/pkg/provider/llm"
	llmmock "github.com/sona-app/sona/pkg/provider/llm/mock"
)

func TestCorrect_AppliesDeclaredCorrections(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "I had coffee with Serena today", "corrections": [{"original": "sirena", "corrected": "Serena", "confidence": 0.92}]}`,
		},
	}
	c := llmcorrect.New(provider)

	corrected, corrections, err := c.Correct(context.Background(),
		"I had coffee with sirena today", []string{"Serena", "Matteo"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if corrected != "I had coffee with Serena today" {
		t.Errorf("corrected=%q, want substitution applied", corrected)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections=%d, want 1", len(corrections))
	}
	if corrections[0].Corrected != "Serena" || corrections[0].Confidence != 0.92 {
		t.Errorf("correction=%+v, want Serena @ 0.92", corrections[0])
	}
}

func TestCorrect_SendsVocabularyInSystemPrompt(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "", "corrections": []}`,
		},
	}
	c := llmcorrect.New(provider)

	if _, _, err := c.Correct(context.Background(), "some text", []string{"Serena", "Solace Garden"}); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls=%d, want 1", len(provider.CompleteCalls))
	}
	sys := provider.CompleteCalls[0].Req.SystemPrompt
	for _, term := range []string{"- Serena", "- Solace Garden"} {
		if !strings.Contains(sys, term) {
			t.Errorf("system prompt missing %q", term)
		}
	}
}

func TestCorrect_StripsMarkdownFences(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"corrected_text\": \"met Matteo there\", \"corrections\": [{\"original\": \"matayo\", \"corrected\": \"Matteo\", \"confidence\": 0.8}]}\n```",
		},
	}
	c := llmcorrect.New(provider)

	corrected, corrections, err := c.Correct(context.Background(), "met matayo there", []string{"Matteo"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if corrected != "met Matteo there" {
		t.Errorf("corrected=%q", corrected)
	}
	if len(corrections) != 1 {
		t.Errorf("corrections=%d, want 1", len(corrections))
	}
}

func TestCorrect_UnparseableAnswerReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "Sure! I fixed the names for you.",
		},
	}
	c := llmcorrect.New(provider)

	corrected, corrections, err := c.Correct(context.Background(), "met matayo there", []string{"Matteo"})
	if err != nil {
		t.Fatalf("Correct: unparseable answer must not error, got %v", err)
	}
	if corrected != "met matayo there" {
		t.Errorf("corrected=%q, want input unchanged", corrected)
	}
	if corrections != nil {
		t.Errorf("corrections=%v, want nil", corrections)
	}
}

func TestCorrect_ProviderErrorReturnsInputWithError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	c := llmcorrect.New(provider)

	corrected, _, err := c.Correct(context.Background(), "met matayo there", []string{"Matteo"})
	if err == nil {
		t.Fatal("Correct: want error from provider")
	}
	if corrected != "met matayo there" {
		t.Errorf("corrected=%q, want input unchanged on error", corrected)
	}
}

func TestCorrect_EmptyVocabularySkipsProvider(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{}
	c := llmcorrect.New(provider)

	corrected, corrections, err := c.Correct(context.Background(), "met matayo there", nil)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if corrected != "met matayo there" || corrections != nil {
		t.Errorf("got (%q, %v), want input unchanged and nil corrections", corrected, corrections)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Errorf("CompleteCalls=%d, want 0", len(provider.CompleteCalls))
	}
}

func TestCorrect_RevertsUndeclaredChanges(t *testing.T) {
	t.Parallel()

	// The model rewrote "really tired" to "exhausted" without declaring it;
	// verification must revert that span while keeping the declared one.
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "I was exhausted after seeing Serena", "corrections": [{"original": "sirena", "corrected": "Serena", "confidence": 0.9}]}`,
		},
	}
	c := llmcorrect.New(provider)

	corrected, corrections, err := c.Correct(context.Background(),
		"I was really tired after seeing sirena", []string{"Serena"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if corrected != "I was really tired after seeing Serena" {
		t.Errorf("corrected=%q, want undeclared rewrite reverted", corrected)
	}
	if len(corrections) != 1 || corrections[0].Corrected != "Serena" {
		t.Errorf("corrections=%+v, want only the declared one", corrections)
	}
}
