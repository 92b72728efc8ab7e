package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ag3nt-dev/gateway/internal/sessions"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	sess := &sessions.Session{
		SessionID:      "telegram:c1:chat1",
		ChannelType:    "telegram",
		ChannelID:      "c1",
		ChatID:         "chat1",
		UserID:         "u1",
		UserName:       "alice",
		CreatedAt:      now,
		LastActivityAt: now,
		Paired:         true,
		Directives: []sessions.Directive{
			{ID: "d1", Type: "system", Content: "be terse", Priority: 1, Active: true},
		},
	}
	s.Put(sess)

	got, ok := s.Get("telegram:c1:chat1")
	if !ok {
		t.Fatal("expected session to round-trip")
	}
	if got.UserName != "alice" || !got.Paired {
		t.Fatalf("got = %+v", got)
	}
	if len(got.Directives) != 1 || got.Directives[0].Content != "be terse" {
		t.Fatalf("Directives = %+v", got.Directives)
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	s := newTestStore(t)
	s.Put(&sessions.Session{SessionID: "a:b:c", CreatedAt: time.Now(), LastActivityAt: time.Now()})
	s.Delete("a:b:c")
	if _, ok := s.Get("a:b:c"); ok {
		t.Fatal("expected session to be gone after Delete")
	}
}

func TestMessageLogCountAndDelete(t *testing.T) {
	s := newTestStore(t)
	s.db.Exec(`INSERT INTO message_log (session_id) VALUES (?), (?)`, "s1", "s1")

	if got := s.CountForSession("s1"); got != 2 {
		t.Fatalf("CountForSession = %d, want 2", got)
	}
	if err := s.DeleteForSession("s1"); err != nil {
		t.Fatalf("DeleteForSession: %v", err)
	}
	if got := s.CountForSession("s1"); got != 0 {
		t.Fatalf("CountForSession after delete = %d, want 0", got)
	}
}

func TestAllOrdersByLastActivityDesc(t *testing.T) {
	s := newTestStore(t)
	older := time.Now().Add(-time.Hour).UTC()
	newer := time.Now().UTC()
	s.Put(&sessions.Session{SessionID: "old", CreatedAt: older, LastActivityAt: older})
	s.Put(&sessions.Session{SessionID: "new", CreatedAt: newer, LastActivityAt: newer})

	all := s.All()
	if len(all) != 2 || all[0].SessionID != "new" {
		t.Fatalf("All() = %+v, want newest first", all)
	}
}
