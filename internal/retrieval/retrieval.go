// Package retrieval provides the grounding-context lookup for a turn: given
// the user's utterance, it returns a small set of supporting knowledge
// snippets that the composer injects into the prompt.
//
// Two implementations exist: [pgvector.Store] performs similarity search over
// an embedded corpus in PostgreSQL, and [Static] serves a fixed wellness
// snippet set for deployments without a database. A retrieval failure is never
// fatal to a turn — the orchestrator degrades to an empty document list.
package retrieval

import (
	"context"

	"github.com/sona-app/sona/pkg/types"
)

// Retriever finds supporting context documents for a query.
//
// userID scopes the search for stores that keep per-user corpora; shared-corpus
// implementations ignore it. limit caps the number of returned documents.
// Implementations must be safe for concurrent use.
type Retriever interface {
	Retrieve(ctx context.Context, query, userID string, limit int) ([]types.ContextDocument, error)
}
