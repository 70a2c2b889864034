// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/opsline/infrachat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole is returned when a message role is not user or assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// =============================================================================
// SCHEMA
// =============================================================================

// schema creates the two tables and their indexes. The role CHECK mirrors
// model.Role.Valid; inserting a message for a missing session trips the
// foreign key.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	last_message_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	content    TEXT NOT NULL,
	role       TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	timestamp  TIMESTAMP NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_sessions_last_message ON sessions(last_message_at DESC);
`

// =============================================================================
// STORE
// =============================================================================

// Store persists sessions and messages in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and initializes
// the schema. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// VerifySchema checks that both tables and all three indexes exist.
func (s *Store) VerifySchema(ctx context.Context) error {
	objects := []struct{ kind, name string }{
		{"table", "sessions"},
		{"table", "messages"},
		{"index", "idx_messages_session_id"},
		{"index", "idx_messages_timestamp"},
		{"index", "idx_sessions_last_message"},
	}
	for _, obj := range objects {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = ? AND name = ?`,
			obj.kind, obj.name).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schema verification: missing %s %s", obj.kind, obj.name)
		}
		if err != nil {
			return fmt.Errorf("schema verification: %w", err)
		}
	}
	return nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession inserts a new session. An empty id gets a generated UUID;
// an empty title gets the default. Both timestamps start equal.
func (s *Store) CreateSession(ctx context.Context, id, title string) (*model.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = model.DefaultSessionTitle
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, last_message_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &model.Session{
		ID:            id,
		Title:         title,
		CreatedAt:     now,
		LastMessageAt: now,
	}, nil
}

// GetSession loads a single session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, last_message_at FROM sessions WHERE id = ?`,
		id).Scan(&session.ID, &session.Title, &session.CreatedAt, &session.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions ordered by last activity, most recent
// first.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, last_message_at FROM sessions ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var session model.Session
		if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt, &session.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionTitle renames a session.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// SaveMessage inserts a message and bumps the owning session's
// last_message_at in the same transaction, so the two never diverge.
func (s *Store) SaveMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_message_at = ? WHERE id = ?`,
		msg.Timestamp, msg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if affected == 0 {
		return nil, ErrSessionNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, content, role, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Content, msg.Role.String(), msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return &msg, nil
}

// GetMessages returns all messages of a session ordered by timestamp
// ascending. Returns ErrSessionNotFound for unknown sessions.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, content, role, timestamp
		 FROM messages WHERE session_id = ? ORDER BY timestamp ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Content, &role, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns the last limit messages of a session in
// chronological order, for building model context windows.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}
