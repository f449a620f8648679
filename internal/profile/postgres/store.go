// Package postgres provides the PostgreSQL-backed [profile.Store].
//
// Each Update and AppendHistory runs inside a transaction that takes a
// SELECT ... FOR UPDATE row lock, so concurrent merges for the same user
// serialize at the database rather than racing read-merge-write cycles.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sona-app/sona/internal/profile"
)

var _ profile.Store = (*Store)(nil)

// Store persists profiles in PostgreSQL. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the profiles table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id              TEXT         PRIMARY KEY,
    name                 TEXT         NOT NULL DEFAULT '',
    tts_enabled          BOOLEAN      NOT NULL DEFAULT true,
    language             TEXT         NOT NULL DEFAULT 'en-US',
    conversation_history JSONB        NOT NULL DEFAULT '[]',
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates or ensures the profiles table exists. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlProfiles); err != nil {
		return fmt.Errorf("profile migrate: %w", err)
	}
	return nil
}

// Get implements [profile.Store]. First access inserts the default row; the
// ON CONFLICT DO NOTHING makes concurrent first accesses converge on one row.
func (s *Store) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	def := profile.Default(userID)

	const insert = `
		INSERT INTO profiles (user_id, tts_enabled, language)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, insert, userID, def.TTSEnabled, def.Language); err != nil {
		return nil, fmt.Errorf("profile store: ensure profile %q: %w", userID, err)
	}

	const q = `
		SELECT user_id, name, tts_enabled, language, conversation_history, created_at, updated_at
		FROM profiles WHERE user_id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("profile store: get %q: %w", userID, err)
	}
	return p, nil
}

// Update implements [profile.Store]. The merge runs under a row lock.
func (s *Store) Update(ctx context.Context, userID string, patch profile.Patch) (*profile.Profile, error) {
	return s.merge(ctx, userID, func(p *profile.Profile) {
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.TTSEnabled != nil {
			p.TTSEnabled = *patch.TTSEnabled
		}
		if patch.Language != nil {
			p.Language = *patch.Language
		}
	})
}

// AppendHistory implements [profile.Store]. The append runs under a row lock
// and trims the history to [profile.MaxHistoryEntries].
func (s *Store) AppendHistory(ctx context.Context, userID string, entries ...string) (*profile.Profile, error) {
	return s.merge(ctx, userID, func(p *profile.Profile) {
		p.ConversationHistory = append(p.ConversationHistory, entries...)
		if excess := len(p.ConversationHistory) - profile.MaxHistoryEntries; excess > 0 {
			p.ConversationHistory = p.ConversationHistory[excess:]
		}
	})
}

// merge ensures the row exists, locks it, applies apply to the loaded profile,
// and writes the result back, all in one transaction.
func (s *Store) merge(ctx context.Context, userID string, apply func(*profile.Profile)) (*profile.Profile, error) {
	// Ensure the row exists before locking it.
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("profile store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const lock = `
		SELECT user_id, name, tts_enabled, language, conversation_history, created_at, updated_at
		FROM profiles WHERE user_id = $1
		FOR UPDATE`

	p, err := scanProfile(tx.QueryRow(ctx, lock, userID))
	if err != nil {
		return nil, fmt.Errorf("profile store: lock %q: %w", userID, err)
	}

	apply(p)

	historyJSON, err := json.Marshal(p.ConversationHistory)
	if err != nil {
		return nil, fmt.Errorf("profile store: marshal history %q: %w", userID, err)
	}

	const update = `
		UPDATE profiles
		SET name = $2, tts_enabled = $3, language = $4, conversation_history = $5, updated_at = now()
		WHERE user_id = $1
		RETURNING updated_at`

	if err := tx.QueryRow(ctx, update,
		p.UserID, p.Name, p.TTSEnabled, p.Language, historyJSON,
	).Scan(&p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("profile store: update %q: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("profile store: commit %q: %w", userID, err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var (
		p           profile.Profile
		historyJSON []byte
	)
	if err := row.Scan(&p.UserID, &p.Name, &p.TTSEnabled, &p.Language,
		&historyJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(historyJSON, &p.ConversationHistory); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if p.ConversationHistory == nil {
		p.ConversationHistory = []string{}
	}
	return &p, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
