package pg

import (
	"testing"
	"time"
)

type fakeRow struct {
	vals []any
	err  error
}

func (f *fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	for i, d := range dest {
		switch dp := d.(type) {
		case *string:
			*dp = f.vals[i].(string)
		case *time.Time:
			*dp = f.vals[i].(time.Time)
		case *bool:
			*dp = f.vals[i].(bool)
		case *[]byte:
			*dp = f.vals[i].([]byte)
		default:
			// sql.NullTime and similar are handled via direct assignment in
			// the one test below that needs it.
		}
	}
	return nil
}

func TestScanSessionRoundTripsDirectives(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	row := &fakeRow{vals: []any{
		"telegram:c1:chat1", "telegram", "c1", "chat1", "u1", "alice",
		now, now, true, "",
		nil, "", []byte(`[{"ID":"d1","Type":"system","Content":"be terse","Priority":1,"Active":true}]`),
	}}

	sess, err := scanSession(row)
	if err != nil {
		t.Fatalf("scanSession: %v", err)
	}
	if sess.SessionID != "telegram:c1:chat1" {
		t.Fatalf("SessionID = %q", sess.SessionID)
	}
	if len(sess.Directives) != 1 || sess.Directives[0].Content != "be terse" {
		t.Fatalf("Directives = %+v", sess.Directives)
	}
}
