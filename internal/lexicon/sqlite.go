package lexicon

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time assertion that SQLiteStore satisfies [Store].
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the durable [Store] implementation. Vocabulary survives
// restarts, which matters most for observed terms the user never typed into
// any configuration.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the lexicon database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("lexicon: set pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("lexicon: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS terms (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		term       TEXT NOT NULL,
		term_lower TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT '',
		added_at   TIMESTAMP NOT NULL,
		UNIQUE (user_id, term_lower)
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema statement: %w", err)
	}
	return nil
}

// Add implements [Store.Add]. The UNIQUE constraint makes duplicate spellings
// a no-op, so concurrent observers of the same name converge on one row.
func (s *SQLiteStore) Add(ctx context.Context, userID string, term Term) error {
	spelling := strings.TrimSpace(term.Term)
	if spelling == "" {
		return nil
	}
	addedAt := term.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	const q = `INSERT INTO terms (user_id, term, term_lower, kind, source, added_at)
	           VALUES (?, ?, lower(?), ?, ?, ?)
	           ON CONFLICT(user_id, term_lower) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, userID, spelling, spelling, string(term.Kind), term.Source, addedAt); err != nil {
		return fmt.Errorf("lexicon: add term: %w", err)
	}
	return nil
}

// Terms implements [Store.Terms].
func (s *SQLiteStore) Terms(ctx context.Context, userID string) ([]string, error) {
	const q = `SELECT term FROM terms WHERE user_id IN (?, ?)
	           GROUP BY term_lower ORDER BY term_lower`

	rows, err := s.db.QueryContext(ctx, q, SharedUser, userID)
	if err != nil {
		return nil, fmt.Errorf("lexicon: terms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("lexicon: scan term: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: terms: %w", err)
	}
	return out, nil
}

// List implements [Store.List].
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Term, error) {
	const q = `SELECT term, kind, source, added_at FROM terms
	           WHERE user_id = ? ORDER BY term_lower`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("lexicon: list: %w", err)
	}
	defer rows.Close()

	var out []Term
	for rows.Next() {
		var (
			t    Term
			kind string
		)
		if err := rows.Scan(&t.Term, &kind, &t.Source, &t.AddedAt); err != nil {
			return nil, fmt.Errorf("lexicon: scan term: %w", err)
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: list: %w", err)
	}
	return out, nil
}

// Observe implements [Store.Observe].
func (s *SQLiteStore) Observe(ctx context.Context, userID string, names []string) error {
	for _, name := range names {
		if !observable(name) {
			continue
		}
		if err := s.Add(ctx, userID, Term{Term: name, Source: "observed"}); err != nil {
			return err
		}
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *SQLiteStore) Remove(ctx context.Context, userID, term string) error {
	const q = `DELETE FROM terms WHERE user_id = ? AND term_lower = lower(?)`

	res, err := s.db.ExecContext(ctx, q, userID, strings.TrimSpace(term))
	if err != nil {
		return fmt.Errorf("lexicon: remove term: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lexicon: remove term: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
