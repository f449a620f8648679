package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/sona-app/sona/pkg/provider/stt"
	sttmock "github.com/sona-app/sona/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		Transcript: &stt.Transcript{Text: "from primary", Confidence: 0.9},
	}
	secondary := &sttmock.Provider{
		Transcript: &stt.Transcript{Text: "from secondary", Confidence: 0.8},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte("clip"), stt.Config{Format: "wav"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", tr.Text)
	}
	if primary.TranscribeCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.TranscribeCallCount())
	}
	if secondary.TranscribeCallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.TranscribeCallCount())
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{
		Transcript: &stt.Transcript{Text: "from secondary", Confidence: 0.8},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte("clip"), stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", tr.Text)
	}
	// The failed primary must still have received the clip.
	if primary.TranscribeCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.TranscribeCallCount())
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{TranscribeErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), []byte("clip"), stt.Config{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{
		Transcript: &stt.Transcript{Text: "ok", Confidence: 1},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	// First call trips the primary's breaker.
	if _, err := fb.Transcribe(context.Background(), []byte("a"), stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second call should skip the primary entirely.
	if _, err := fb.Transcribe(context.Background(), []byte("b"), stt.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.TranscribeCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (breaker open on second call)", primary.TranscribeCallCount())
	}
	if secondary.TranscribeCallCount() != 2 {
		t.Fatalf("secondary called %d times, want 2", secondary.TranscribeCallCount())
	}
}
