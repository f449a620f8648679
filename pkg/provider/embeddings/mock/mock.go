// Package mock is a test double for [embeddings.Provider]. It hands back
// canned vectors so corpus and retrieval tests run without a live embedding
// backend, and records what was submitted for embedding.
package mock

import (
	"context"
	"sync"

	"github.com/sona-app/sona/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with configurable results.
// The zero value is usable; all methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by every Embed call.
	EmbedResult []float32

	// EmbedErr, when non-nil, is returned by Embed instead of EmbedResult.
	EmbedErr error

	// EmbedBatchResult is returned by every EmbedBatch call.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, when non-nil, is returned by EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedTexts records, in order, every text passed to Embed.
	EmbedTexts []string

	// EmbedBatchTexts records, in order, every slice passed to EmbedBatch.
	EmbedBatchTexts [][]string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedTexts = append(p.EmbedTexts, text)
	p.mu.Unlock()

	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)

	p.mu.Lock()
	p.EmbedBatchTexts = append(p.EmbedBatchTexts, cp)
	p.mu.Unlock()

	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	return p.EmbedBatchResult, nil
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }
