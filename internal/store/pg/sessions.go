// Package pg provides an optional Postgres-backed persistence adapter for
// the session/admission core's injected sessions.Store and
// sessions.MessageLog interfaces. Grounded on the teacher's
// internal/store/pg/sessions.go (database/sql over the jackc/pgx/v5/stdlib
// driver, one struct per table), re-pointed at this gateway's own Session
// shape instead of the teacher's conversation-history SessionData.
package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ag3nt-dev/gateway/internal/sessions"
)

// Store implements sessions.Store and sessions.MessageLog against Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open *sql.DB (opened via OpenDB).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(sessionID string) (*sessions.Session, bool) {
	row := s.db.QueryRow(`
		SELECT session_id, channel_type, channel_id, chat_id, user_id, user_name,
		       created_at, last_activity_at, paired, pairing_code,
		       pairing_code_expires_at, pending_interrupt_id, directives
		FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, false
	}
	return sess, true
}

func (s *Store) Put(sess *sessions.Session) {
	directivesJSON, _ := json.Marshal(sess.Directives)
	var expiresAt *time.Time
	if !sess.PairingCodeExpiresAt.IsZero() {
		t := sess.PairingCodeExpiresAt
		expiresAt = &t
	}
	s.db.Exec(`
		INSERT INTO sessions (
			session_id, channel_type, channel_id, chat_id, user_id, user_name,
			created_at, last_activity_at, paired, pairing_code,
			pairing_code_expires_at, pending_interrupt_id, directives
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			last_activity_at = EXCLUDED.last_activity_at,
			paired = EXCLUDED.paired,
			pairing_code = EXCLUDED.pairing_code,
			pairing_code_expires_at = EXCLUDED.pairing_code_expires_at,
			pending_interrupt_id = EXCLUDED.pending_interrupt_id,
			directives = EXCLUDED.directives`,
		sess.SessionID, sess.ChannelType, sess.ChannelID, sess.ChatID, sess.UserID, sess.UserName,
		sess.CreatedAt, sess.LastActivityAt, sess.Paired, sess.PairingCode,
		expiresAt, sess.PendingInterruptID, directivesJSON,
	)
}

func (s *Store) Delete(sessionID string) {
	s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID)
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

// CountForSession implements sessions.MessageLog.
func (s *Store) CountForSession(sessionID string) int {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM message_log WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return 0
	}
	return count
}

// DeleteForSession implements sessions.MessageLog; run ahead of the session
// record's own deletion per the destroy-cascade ordering in §4.5 (the
// foreign key's ON DELETE CASCADE makes this belt-and-braces, not load
// bearing, since LifecycleManager.Destroy always calls this first anyway).
func (s *Store) DeleteForSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM message_log WHERE session_id = $1`, sessionID)
	return err
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*sessions.Session, error) {
	var sess sessions.Session
	var expiresAt sql.NullTime
	var directivesJSON []byte

	if err := row.Scan(
		&sess.SessionID, &sess.ChannelType, &sess.ChannelID, &sess.ChatID, &sess.UserID, &sess.UserName,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.Paired, &sess.PairingCode,
		&expiresAt, &sess.PendingInterruptID, &directivesJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, err
	}
	if expiresAt.Valid {
		sess.PairingCodeExpiresAt = expiresAt.Time
	}
	if len(directivesJSON) > 0 {
		json.Unmarshal(directivesJSON, &sess.Directives)
	}
	return &sess, nil
}
