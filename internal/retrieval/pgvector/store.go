// Package pgvector implements [retrieval.Retriever] over a PostgreSQL corpus
// table with pgvector similarity search.
//
// Corpus documents are embedded once at ingest time; at retrieval time the
// query is embedded and the closest documents by cosine distance are returned.
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/sona-app/sona/internal/retrieval"
	"github.com/sona-app/sona/pkg/provider/embeddings"
	"github.com/sona-app/sona/pkg/types"
)

var _ retrieval.Retriever = (*Store)(nil)

// Store searches an embedded document corpus in PostgreSQL.
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// New connects to the PostgreSQL database at dsn, registers pgvector types on
// every connection, and runs [Migrate] with the embedder's vector dimension.
//
// The embedder's dimension is baked into the corpus column type at first
// migration; switching to a model with a different dimension afterwards
// requires a manual schema change.
func New(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// ddl returns the corpus DDL with the embedding dimension substituted.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corpus_documents (
    id         TEXT         PRIMARY KEY,
    content    TEXT         NOT NULL,
    source     TEXT         NOT NULL DEFAULT '',
    embedding  vector(%d),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_corpus_documents_embedding
    ON corpus_documents USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the corpus table and pgvector extension exist.
// Idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return nil
}

// IndexDocument embeds content and upserts it into the corpus under id.
// An existing document with the same id is completely replaced.
func (s *Store) IndexDocument(ctx context.Context, id, content, source string) error {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("pgvector store: embed document %q: %w", id, err)
	}

	const q = `
		INSERT INTO corpus_documents (id, content, source, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    source    = EXCLUDED.source,
		    embedding = EXCLUDED.embedding`

	if _, err := s.pool.Exec(ctx, q, id, content, source, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("pgvector store: index document %q: %w", id, err)
	}
	return nil
}

// Document is one corpus entry for batch indexing.
type Document struct {
	ID      string
	Content string
	Source  string
}

// IndexDocuments embeds all docs in one provider call and upserts them in a
// single database batch. Indexing is all-or-nothing: when embedding or any
// upsert fails, no document from the batch is kept.
func (s *Store) IndexDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("pgvector store: embed batch of %d documents: %w", len(docs), err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("pgvector store: embed batch returned %d vectors for %d documents", len(vectors), len(docs))
	}

	const q = `
		INSERT INTO corpus_documents (id, content, source, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    source    = EXCLUDED.source,
		    embedding = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for i, d := range docs {
		batch.Queue(q, d.ID, d.Content, d.Source, pgvector.NewVector(vectors[i]))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector store: begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector store: index batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector store: commit batch: %w", err)
	}
	return nil
}

// Retrieve implements [retrieval.Retriever]. It embeds the query and returns
// the limit closest corpus documents by cosine distance, most similar first.
// The corpus is shared across users, so userID is ignored.
func (s *Store) Retrieve(ctx context.Context, query, _ string, limit int) ([]types.ContextDocument, error) {
	if limit <= 0 {
		return []types.ContextDocument{}, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: embed query: %w", err)
	}

	const q = `
		SELECT content, source
		FROM   corpus_documents
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: search: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ContextDocument, error) {
		var doc types.ContextDocument
		err := row.Scan(&doc.Content, &doc.Source)
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector store: scan rows: %w", err)
	}
	if docs == nil {
		docs = []types.ContextDocument{}
	}
	return docs, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
