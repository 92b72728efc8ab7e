// Package sessions implements the session/admission core: channel-scoped
// session identity, the pairing-code handshake, allowlist matching, and
// timeout-based lifecycle reclamation. It is grounded on the teacher's
// internal/sessions (Manager, key builders) and internal/channels (policy
// checks, allowlist matching), generalized to the gateway's single
// "{channelType}:{channelId}:{chatId}" session-id format.
package sessions

import (
	"fmt"
	"strings"
	"time"
)

// BuildID constructs the bit-exact session id from the three channel-scoped
// components. Per §3/§6, components must not themselves contain ":".
func BuildID(channelType, channelID, chatID string) string {
	return channelType + ":" + channelID + ":" + chatID
}

// ParseID splits a session id back into its three components. ok is false
// if id does not have exactly three colon-separated parts.
func ParseID(id string) (channelType, channelID, chatID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Session is the authoritative value object for one (channel, conversation)
// pair, keyed by SessionID.
type Session struct {
	SessionID   string
	ChannelType string
	ChannelID   string
	ChatID      string
	UserID      string
	UserName    string

	CreatedAt      time.Time
	LastActivityAt time.Time

	Paired bool

	PairingCode          string
	PairingCodeExpiresAt time.Time

	// PendingInterruptID holds the worker-issued interrupt id awaiting a
	// resume decision, if any (§4.11 step 6); empty when no turn is
	// currently paused on an approval question.
	PendingInterruptID string

	Directives []Directive
}

// Directive is a per-session prompt-prefix fragment. Concatenation order
// for prompt assembly is stable ascending by Priority (lower = higher
// precedence).
type Directive struct {
	ID        string
	Type      string
	Content   string
	Priority  int
	Active    bool
	CreatedAt time.Time
}

// clone returns a deep-enough copy of s suitable for handing to a caller
// without exposing the store's internal pointer, matching the teacher's
// GetHistory "returns a copy" idiom in internal/sessions/manager.go.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Directives = append([]Directive(nil), s.Directives...)
	return &cp
}

// touch advances LastActivityAt to now (monotonically non-decreasing per
// the invariant in §3) and overrides UserName if a non-empty value is
// supplied.
func (s *Session) touch(now time.Time, userName string) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
	if userName != "" {
		s.UserName = userName
	}
}

// ResumeContext is the ownership tuple resume() validates against, the
// defense against session-id guessing across channels (§4.5).
type ResumeContext struct {
	ChannelType string
	ChannelID   string
	UserID      string
}

func (s *Session) matchesOwnership(ctx ResumeContext) bool {
	return s.ChannelType == ctx.ChannelType && s.ChannelID == ctx.ChannelID && s.UserID == ctx.UserID
}

// sessionNotFoundErr is a small helper for consistent messages across the
// package's public API; components translate this into errs.Registry
// codes at the Router boundary rather than embedding error codes here —
// the sessions package stays free of the errs import so it can be unit
// tested without the registry.
func sessionNotFoundErr(id string) error {
	return fmt.Errorf("session not found: %s", id)
}
