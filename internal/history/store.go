// Package history provides the durable on-device conversation store.
//
// Sessions and exchanges live in a local SQLite database (modernc.org/sqlite,
// no cgo) so history survives restarts and works offline. One session exists
// per persona; exchanges are append-only, one row per completed turn.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sona-app/sona/pkg/types"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("history: session not found")

// Session is one persistent conversation thread, keyed by persona.
type Session struct {
	// ID is the store-assigned auto-incrementing identity.
	ID int64

	// PersonaID is the stable persona key. Unique; CreateSession is idempotent
	// per persona.
	PersonaID string

	// Kind is the conversation domain (chat or journal).
	Kind types.SessionKind

	// SystemInstructions captures the persona instructions active when the
	// session was created.
	SystemInstructions string

	// Title is a short human-readable label derived from the first utterance.
	Title string

	// Summary is the rolling conversation summary, replaced after each turn.
	Summary string

	// IsPinned marks the session as user-pinned; pinned sessions list first.
	IsPinned bool

	// CreatedAt is when the session was created.
	CreatedAt time.Time
}

// Store persists sessions and exchanges in a local SQLite database.
// All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store in development and tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id          TEXT NOT NULL UNIQUE,
			kind                TEXT NOT NULL,
			system_instructions TEXT NOT NULL DEFAULT '',
			title               TEXT NOT NULL DEFAULT '',
			summary             TEXT NOT NULL DEFAULT '',
			is_pinned           INTEGER NOT NULL DEFAULT 0,
			created_at          TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   INTEGER NOT NULL,
			user_prompt  TEXT NOT NULL,
			bot_response TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_kind ON sessions(kind)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateSession creates a session for sess.PersonaID, or returns the existing
// one unchanged if that persona already has a session. Idempotent: two
// concurrent creates for the same persona converge on the same row.
func (s *Store) CreateSession(ctx context.Context, sess Session) (*Session, error) {
	const q = `INSERT INTO sessions (persona_id, kind, system_instructions, title, summary, is_pinned, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)
	           ON CONFLICT(persona_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, q,
		sess.PersonaID, string(sess.Kind), sess.SystemInstructions,
		sess.Title, sess.Summary, boolToInt(sess.IsPinned), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("history: create session: %w", err)
	}

	return s.GetSessionByPersona(ctx, sess.PersonaID)
}

// GetSessionByID returns the session with the given ID, or [ErrNotFound].
func (s *Store) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	const q = selectSession + ` WHERE id = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, q, id))
}

// GetSessionByPersona returns the session for the given persona, or [ErrNotFound].
func (s *Store) GetSessionByPersona(ctx context.Context, personaID string) (*Session, error) {
	const q = selectSession + ` WHERE persona_id = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, q, personaID))
}

const selectSession = `SELECT id, persona_id, kind, system_instructions, title, summary, is_pinned, created_at FROM sessions`

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var (
		sess   Session
		kind   string
		pinned int
	)
	err := row.Scan(&sess.ID, &sess.PersonaID, &kind, &sess.SystemInstructions,
		&sess.Title, &sess.Summary, &pinned, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: scan session: %w", err)
	}
	sess.Kind = types.SessionKind(kind)
	sess.IsPinned = pinned != 0
	return &sess, nil
}

// AppendExchange records one completed turn for the session and returns the
// stored row including its assigned ID.
func (s *Store) AppendExchange(ctx context.Context, sessionID int64, userPrompt, botResponse string) (*types.Exchange, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO exchanges (session_id, user_prompt, bot_response, created_at) VALUES (?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q, sessionID, userPrompt, botResponse, now)
	if err != nil {
		return nil, fmt.Errorf("history: append exchange: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("history: append exchange id: %w", err)
	}

	return &types.Exchange{
		ID:          id,
		SessionID:   sessionID,
		UserPrompt:  userPrompt,
		BotResponse: botResponse,
		CreatedAt:   now,
	}, nil
}

// GetRecentExchanges returns the last n exchanges of the session in
// chronological order. The window is selected newest-first by row ID — not by
// timestamp — so same-millisecond turns keep their insertion order, then
// reversed before returning.
func (s *Store) GetRecentExchanges(ctx context.Context, sessionID int64, n int) ([]types.Exchange, error) {
	if n <= 0 {
		return []types.Exchange{}, nil
	}

	const q = `SELECT id, session_id, user_prompt, bot_response, created_at
	           FROM exchanges WHERE session_id = ?
	           ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent exchanges: %w", err)
	}
	defer rows.Close()

	var out []types.Exchange
	for rows.Next() {
		var ex types.Exchange
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.UserPrompt, &ex.BotResponse, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent exchanges: %w", err)
	}

	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []types.Exchange{}
	}
	return out, nil
}

// UpdateSummary replaces the session's rolling summary.
func (s *Store) UpdateSummary(ctx context.Context, sessionID int64, summary string) error {
	return s.updateSession(ctx, sessionID, `UPDATE sessions SET summary = ? WHERE id = ?`, summary)
}

// UpdateTitle sets the session's display title.
func (s *Store) UpdateTitle(ctx context.Context, sessionID int64, title string) error {
	return s.updateSession(ctx, sessionID, `UPDATE sessions SET title = ? WHERE id = ?`, title)
}

// SetPinned marks or unmarks the session as pinned.
func (s *Store) SetPinned(ctx context.Context, sessionID int64, pinned bool) error {
	return s.updateSession(ctx, sessionID, `UPDATE sessions SET is_pinned = ? WHERE id = ?`, boolToInt(pinned))
}

func (s *Store) updateSession(ctx context.Context, sessionID int64, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, sessionID)
	if err != nil {
		return fmt.Errorf("history: update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: update session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session and all its exchanges.
// Returns [ErrNotFound] when no such session exists.
func (s *Store) DeleteSession(ctx context.Context, sessionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("history: delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: delete session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSessionsOfKind removes every session of the given kind, with their
// exchanges, and returns how many sessions were deleted. Used by the "clear
// journal" and "clear chats" user actions.
func (s *Store) DeleteSessionsOfKind(ctx context.Context, kind types.SessionKind) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("history: delete sessions of kind %q: %w", kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: delete sessions of kind %q: %w", kind, err)
	}
	return affected, nil
}

// ListSessions returns all sessions, pinned first, newest first within each group.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	const q = selectSession + ` ORDER BY is_pinned DESC, created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess   Session
			kind   string
			pinned int
		)
		if err := rows.Scan(&sess.ID, &sess.PersonaID, &kind, &sess.SystemInstructions,
			&sess.Title, &sess.Summary, &pinned, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		sess.Kind = types.SessionKind(kind)
		sess.IsPinned = pinned != 0
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	if out == nil {
		out = []Session{}
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
