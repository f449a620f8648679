// Package embeddings defines the Provider interface over text-embedding
// backends.
//
// Sona uses embeddings for the grounding corpus: wellness reference passages
// are embedded once when they are indexed, and each user utterance is embedded
// per turn to find the closest passages for the composer. Two backends are
// supported out of the box, the OpenAI embeddings API and a local Ollama
// server.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector a single Provider returns has the same length, reported by
// Dimensions. Vectors from different providers (or different models on the
// same provider) live in different spaces and must not be compared.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for one text. Text is passed to the
	// backend verbatim; any model-specific prefix ("query: ", "passage: ") is
	// the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call, which is how corpus
	// passages should be indexed. The result is ordered like texts; on any
	// error the whole result is nil, partial batches are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length this provider produces. The value
	// is fixed for the lifetime of the Provider and sizes the corpus table's
	// embedding column.
	Dimensions() int

	// ModelID returns the backend's model identifier, for logging and for
	// checking that a corpus was indexed with the model now configured.
	ModelID() string
}
