// Package transcript records protocol traffic to an embedded libSQL database
// so a simulator session can be inspected after the fact. It deliberately
// stores raw envelopes, not interpreted registry state.
package transcript

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/strayfield/gamewire/pkg/protocol"
)

//go:embed migrations/001_transcript.sql
var migration001 string

// Entry directions.
const (
	DirectionInbound  = "inbound"  // game -> simulator
	DirectionOutbound = "outbound" // simulator -> game
)

// Entry is one recorded envelope.
type Entry struct {
	ID        int64
	SessionID string
	Direction string
	Command   string
	Raw       string
	At        time.Time
}

// Store persists transcript sessions in a libSQL database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path and applies the
// schema. The path should be a file URI, e.g. "file:/path/to/transcript.db".
func Open(path string) (*Store, error) {
	db, err := sql.Open("libsql", path)
	if err != nil {
		return nil, protocol.NewErrorf(protocol.ErrCodeStore, "open %s", path).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(migration001) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return protocol.NewError(protocol.ErrCodeStore, "apply transcript schema").WithCause(err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeginSession records the start of a simulator session.
func (s *Store) BeginSession(ctx context.Context, id, game string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, game) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET game=excluded.game`,
		id, game,
	)
	if err != nil {
		return protocol.NewError(protocol.ErrCodeStore, "begin session").WithCause(err)
	}
	return nil
}

// Append records one envelope.
func (s *Store) Append(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (session_id, direction, command, raw, at) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Direction, e.Command, e.Raw, at,
	)
	if err != nil {
		return protocol.NewError(protocol.ErrCodeStore, "append entry").WithCause(err)
	}
	return nil
}

// List returns a session's entries in recorded order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, direction, command, raw, at FROM entries WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrCodeStore, "list entries").WithCause(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Direction, &e.Command, &e.Raw, &e.At); err != nil {
			return nil, protocol.NewError(protocol.ErrCodeStore, "scan entry").WithCause(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeStore, "iterate entries").WithCause(err)
	}
	return entries, nil
}

// splitStatements breaks a migration file into individual statements.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s;", stmt))
	}
	return out
}
