package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sona-app/sona/pkg/provider/embeddings/ollama"
)

// embedServer fakes the Ollama /api/embed endpoint. It checks method, path,
// and model, then answers with the first len(input) vectors.
func embedServer(t *testing.T, wantModel string, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model = %q, want %q", req.Model, wantModel)
		}

		out := vectors
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"model":      wantModel,
			"embeddings": out,
		}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestNew(t *testing.T) {
	t.Run("EmptyModelRejected", func(t *testing.T) {
		if _, err := ollama.New("", ""); err == nil {
			t.Fatal("New accepted an empty model name")
		}
	})

	t.Run("EmptyBaseURLUsesDefault", func(t *testing.T) {
		p, err := ollama.New("", "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.ModelID() != "nomic-embed-text" {
			t.Errorf("ModelID() = %q, want %q", p.ModelID(), "nomic-embed-text")
		}
	})
}

func TestEmbed(t *testing.T) {
	t.Run("ReturnsVector", func(t *testing.T) {
		want := []float32{0.1, 0.2, 0.3, 0.4}
		srv := embedServer(t, "nomic-embed-text", [][]float32{want})
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		got, err := p.Embed(context.Background(), "query: wind-down routine before sleep")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("vector length = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("ServerUnreachable", func(t *testing.T) {
		p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text",
			ollama.WithTimeout(500*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed against an unreachable server returned no error")
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed returned no error for a 500 response")
		}
	})

	t.Run("MalformedResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not-json"))
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed returned no error for a malformed body")
		}
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		stop := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-stop:
			}
		}))
		// LIFO: close(stop) unblocks the handler so srv.Close can drain.
		defer srv.Close()
		defer close(stop)

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		if _, err := p.Embed(ctx, "hello"); err == nil {
			t.Fatal("Embed ignored context cancellation")
		}
	})
}

func TestEmbedBatch(t *testing.T) {
	t.Run("OrderedVectors", func(t *testing.T) {
		vecs := [][]float32{
			{0.1, 0.2, 0.3},
			{0.4, 0.5, 0.6},
			{0.7, 0.8, 0.9},
		}
		srv := embedServer(t, "nomic-embed-text", vecs)
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		passages := []string{
			"passage: box breathing calms the nervous system",
			"passage: a short walk after meals aids digestion",
			"passage: journaling before bed clears the mind",
		}
		got, err := p.EmbedBatch(context.Background(), passages)
		if err != nil {
			t.Fatalf("EmbedBatch: %v", err)
		}
		if len(got) != len(passages) {
			t.Fatalf("batch length = %d, want %d", len(got), len(passages))
		}
		for i, want := range vecs {
			for j := range want {
				if got[i][j] != want[j] {
					t.Errorf("vec[%d][%d] = %v, want %v", i, j, got[i][j], want[j])
				}
			}
		}
	})

	t.Run("EmptyInputSkipsRequest", func(t *testing.T) {
		p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := p.EmbedBatch(context.Background(), nil)
		if err != nil {
			t.Fatalf("EmbedBatch(nil): %v", err)
		}
		if got != nil {
			t.Errorf("EmbedBatch(nil) = %v, want nil", got)
		}
	})
}

func TestDimensions(t *testing.T) {
	t.Run("KnownModels", func(t *testing.T) {
		cases := []struct {
			model string
			want  int
		}{
			{"nomic-embed-text", 768},
			{"nomic-embed-text:latest", 768},
			{"mxbai-embed-large", 1024},
			{"all-minilm", 384},
		}
		for _, tc := range cases {
			// Unreachable server: known models must not hit the network.
			p, err := ollama.New("http://127.0.0.1:19999", tc.model)
			if err != nil {
				t.Fatalf("New(%s): %v", tc.model, err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions(%s) = %d, want %d", tc.model, got, tc.want)
			}
		}
	})

	t.Run("UnknownModelDetectedOnce", func(t *testing.T) {
		const dim = 512
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(i) / float32(dim)
		}

		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":      "custom-embed",
				"embeddings": [][]float32{vec},
			})
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "custom-embed")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		for range 3 {
			if got := p.Dimensions(); got != dim {
				t.Errorf("Dimensions() = %d, want %d", got, dim)
			}
		}
		if calls != 1 {
			t.Errorf("detection issued %d requests, want 1", calls)
		}
	})

	t.Run("ExplicitOptionWins", func(t *testing.T) {
		p, err := ollama.New("http://127.0.0.1:19999", "custom-embed", ollama.WithDimensions(256))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if got := p.Dimensions(); got != 256 {
			t.Errorf("Dimensions() = %d, want 256", got)
		}
	})
}
