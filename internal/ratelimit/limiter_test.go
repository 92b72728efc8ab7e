package ratelimit

import (
	"testing"
	"time"
)

func TestCheckSequence(t *testing.T) {
	l := New(2, 60*time.Second)
	defer l.Stop()

	results := []Result{l.Check("k"), l.Check("k"), l.Check("k")}
	wantAllowed := []bool{true, true, false}
	wantRemaining := []int{1, 0, 0}

	for i, r := range results {
		if r.Allowed != wantAllowed[i] {
			t.Errorf("call %d: Allowed = %v, want %v", i, r.Allowed, wantAllowed[i])
		}
		if r.Remaining != wantRemaining[i] {
			t.Errorf("call %d: Remaining = %d, want %d", i, r.Remaining, wantRemaining[i])
		}
	}
}

func TestCheckResetsAfterWindow(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	defer l.Stop()

	if !l.Check("k").Allowed {
		t.Fatal("first call should be allowed")
	}
	if l.Check("k").Allowed {
		t.Fatal("second call within window should be denied")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Check("k").Allowed {
		t.Fatal("call after window reset should be allowed")
	}
}

func TestCheckIndependentKeys(t *testing.T) {
	l := New(1, 60*time.Second)
	defer l.Stop()

	if !l.Check("a").Allowed {
		t.Fatal("key a first call should be allowed")
	}
	if !l.Check("b").Allowed {
		t.Fatal("key b first call should be allowed, independent of key a")
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name          string
		xff, addr, want string
	}{
		{"xff first hop", "1.2.3.4, 5.6.7.8", "9.9.9.9:1234", "1.2.3.4"},
		{"xff no comma", "1.2.3.4", "9.9.9.9:1234", "1.2.3.4"},
		{"remote addr only", "", "9.9.9.9:1234", "9.9.9.9:1234"},
		{"neither", "", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientKey(tt.xff, tt.addr); got != tt.want {
				t.Errorf("ClientKey(%q, %q) = %q, want %q", tt.xff, tt.addr, got, tt.want)
			}
		})
	}
}
