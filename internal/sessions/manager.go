package sessions

import (
	"crypto/rand"
	"fmt"
	"time"
)

const hexAlphabet = "0123456789ABCDEF"

// DMPolicy selects the admission policy for direct-message sessions.
type DMPolicy string

const (
	DMPolicyOpen    DMPolicy = "open"
	DMPolicyPairing DMPolicy = "pairing"
)

// ManagerConfig configures admission behavior, per §4.4.
type ManagerConfig struct {
	DMPolicy       DMPolicy
	PairingCodeTTL time.Duration
}

// Manager is the central admission store (SessionManager, §4.4). It owns no
// storage itself — sessions live in the injected Store — and delegates
// wildcard/exact matching to an Allowlist.
type Manager struct {
	cfg       ManagerConfig
	store     Store
	allowlist *Allowlist
}

// NewManager constructs a Manager. allowlist may be a freshly-created empty
// *Allowlist (the common case — populate it via LoadFile before use).
func NewManager(cfg ManagerConfig, store Store, allowlist *Allowlist) *Manager {
	if cfg.PairingCodeTTL <= 0 {
		cfg.PairingCodeTTL = 10 * time.Minute
	}
	if cfg.DMPolicy == "" {
		cfg.DMPolicy = DMPolicyPairing
	}
	return &Manager{cfg: cfg, store: store, allowlist: allowlist}
}

// GetOrCreate returns the existing session for (channelType, channelID,
// chatID) or creates one, per the session-identity-stability property in
// §8: the returned id and createdAt are a pure function of the triple.
func (m *Manager) GetOrCreate(channelType, channelID, chatID, userID, userName string) *Session {
	id := BuildID(channelType, channelID, chatID)
	now := time.Now()

	if s, ok := m.store.Get(id); ok {
		s.touch(now, userName)
		if userID != "" {
			s.UserID = userID
		}
		m.store.Put(s)
		return s
	}

	s := &Session{
		SessionID:      id,
		ChannelType:    channelType,
		ChannelID:      channelID,
		ChatID:         chatID,
		UserID:         userID,
		UserName:       userName,
		CreatedAt:      now,
		LastActivityAt: now,
		Paired:         m.isPreApproved(id, userID),
	}
	m.store.Put(s)
	return s
}

// GetSession returns the session for id, if present.
func (m *Manager) GetSession(id string) (*Session, bool) {
	return m.store.Get(id)
}

// GeneratePairingCode mints a fresh 6-hex-character, cryptographically
// random uppercase code for sessionID and stores it with a TTL deadline.
func (m *Manager) GeneratePairingCode(sessionID string) (string, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return "", sessionNotFoundErr(sessionID)
	}
	code, err := randomHexCode(6)
	if err != nil {
		return "", err
	}
	s.PairingCode = code
	s.PairingCodeExpiresAt = time.Now().Add(m.cfg.PairingCodeTTL)
	m.store.Put(s)
	return code, nil
}

// Approve validates code against sessionID's outstanding pairing code. On
// success the session is marked paired, the code fields are cleared, and
// the session id is added to the allowlist so future sessions on the same
// triple skip pairing. Per §8's one-shotness property, a second call with
// the same code always returns false.
func (m *Manager) Approve(sessionID, code string) bool {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return false
	}
	if s.PairingCode == "" || s.PairingCode != upper(code) {
		return false
	}
	if time.Now().After(s.PairingCodeExpiresAt) {
		return false
	}

	s.Paired = true
	s.PairingCode = ""
	s.PairingCodeExpiresAt = time.Time{}
	m.store.Put(s)
	m.allowlist.Add(sessionID)
	return true
}

// ManualApprove grants admission without a code check (operator override).
func (m *Manager) ManualApprove(sessionID string) bool {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return false
	}
	s.Paired = true
	s.PairingCode = ""
	s.PairingCodeExpiresAt = time.Time{}
	m.store.Put(s)
	m.allowlist.Add(sessionID)
	return true
}

// SetPendingInterrupt records interruptID against sessionID so a
// subsequent resume command can be correlated back to the paused turn.
func (m *Manager) SetPendingInterrupt(sessionID, interruptID string) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return
	}
	s.PendingInterruptID = interruptID
	m.store.Put(s)
}

// ClearPendingInterrupt removes any pending interrupt id from sessionID,
// once the worker has resolved it via sendResume.
func (m *Manager) ClearPendingInterrupt(sessionID string) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return
	}
	s.PendingInterruptID = ""
	m.store.Put(s)
}

// IsPaired reports whether sessionID may talk to the worker: true
// unconditionally in "open" mode, otherwise the stored Paired flag.
func (m *Manager) IsPaired(sessionID string) bool {
	if m.cfg.DMPolicy == DMPolicyOpen {
		return true
	}
	s, ok := m.store.Get(sessionID)
	if !ok {
		return false
	}
	return s.Paired
}

// isPreApproved decides the initial Paired value for a freshly created
// session: true in open mode, or if sessionID or userID exactly match, or
// a wildcard pattern matches, an allowlist entry.
func (m *Manager) isPreApproved(sessionID, userID string) bool {
	if m.cfg.DMPolicy == DMPolicyOpen {
		return true
	}
	if m.allowlist.Matches(sessionID) {
		return true
	}
	if userID != "" && m.allowlist.Matches(userID) {
		return true
	}
	return false
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

func randomHexCode(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = hexAlphabet[int(b)%len(hexAlphabet)]
	}
	return string(out), nil
}
