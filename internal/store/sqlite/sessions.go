// Package sqlite provides a pure-Go, CGo-free persistence adapter for the
// session/admission core's injected sessions.Store and sessions.MessageLog
// interfaces, for single-binary deployments that don't run a Postgres
// server. Grounded on the teacher's use of modernc.org/sqlite for its
// standalone-mode stores, with the table layout adapted from
// internal/store/pg's Postgres schema.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ag3nt-dev/gateway/internal/sessions"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	user_name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL,
	paired INTEGER NOT NULL DEFAULT 0,
	pairing_code TEXT NOT NULL DEFAULT '',
	pairing_code_expires_at TEXT,
	pending_interrupt_id TEXT NOT NULL DEFAULT '',
	directives TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS message_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_message_log_session ON message_log (session_id);
`

// Store implements sessions.Store and sessions.MessageLog against a local
// SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(sessionID string) (*sessions.Session, bool) {
	row := s.db.QueryRow(`
		SELECT session_id, channel_type, channel_id, chat_id, user_id, user_name,
		       created_at, last_activity_at, paired, pairing_code,
		       pairing_code_expires_at, pending_interrupt_id, directives
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, false
	}
	return sess, true
}

func (s *Store) Put(sess *sessions.Session) {
	directivesJSON, _ := json.Marshal(sess.Directives)
	var expiresAt *string
	if !sess.PairingCodeExpiresAt.IsZero() {
		v := sess.PairingCodeExpiresAt.UTC().Format(time.RFC3339Nano)
		expiresAt = &v
	}
	s.db.Exec(`
		INSERT INTO sessions (
			session_id, channel_type, channel_id, chat_id, user_id, user_name,
			created_at, last_activity_at, paired, pairing_code,
			pairing_code_expires_at, pending_interrupt_id, directives
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			user_name = excluded.user_name,
			last_activity_at = excluded.last_activity_at,
			paired = excluded.paired,
			pairing_code = excluded.pairing_code,
			pairing_code_expires_at = excluded.pairing_code_expires_at,
			pending_interrupt_id = excluded.pending_interrupt_id,
			directives = excluded.directives`,
		sess.SessionID, sess.ChannelType, sess.ChannelID, sess.ChatID, sess.UserID, sess.UserName,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano), sess.LastActivityAt.UTC().Format(time.RFC3339Nano),
		sess.Paired, sess.PairingCode, expiresAt, sess.PendingInterruptID, directivesJSON,
	)
}

func (s *Store) Delete(sessionID string) {
	s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
}

func (s *Store) All() []*sessions.Session {
	rows, err := s.db.Query(`
		SELECT session_id, channel_type, channel_id, chat_id, user_id, user_name,
		       created_at, last_activity_at, paired, pairing_code,
		       pairing_code_expires_at, pending_interrupt_id, directives
		FROM sessions ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*sessions.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out
}

func (s *Store) CountForSession(sessionID string) int {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM message_log WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return 0
	}
	return count
}

func (s *Store) DeleteForSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM message_log WHERE session_id = ?`, sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*sessions.Session, error) {
	var sess sessions.Session
	var createdAt, lastActivityAt string
	var expiresAt sql.NullString
	var directivesJSON string
	var paired int

	if err := row.Scan(
		&sess.SessionID, &sess.ChannelType, &sess.ChannelID, &sess.ChatID, &sess.UserID, &sess.UserName,
		&createdAt, &lastActivityAt, &paired, &sess.PairingCode,
		&expiresAt, &sess.PendingInterruptID, &directivesJSON,
	); err != nil {
		return nil, err
	}

	sess.Paired = paired != 0
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.LastActivityAt, _ = time.Parse(time.RFC3339Nano, lastActivityAt)
	if expiresAt.Valid && expiresAt.String != "" {
		sess.PairingCodeExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt.String)
	}
	if directivesJSON != "" {
		json.Unmarshal([]byte(directivesJSON), &sess.Directives)
	}
	return &sess, nil
}
