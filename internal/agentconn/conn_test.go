package agentconn

import (
	"context"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.RequestTimeout != 60*time.Second {
		t.Fatalf("RequestTimeout default = %v, want 60s", cfg.RequestTimeout)
	}
	if cfg.MaxReconnects != 10 {
		t.Fatalf("MaxReconnects default = %d, want 10", cfg.MaxReconnects)
	}
	if cfg.ReconnectBase != 100*time.Millisecond {
		t.Fatalf("ReconnectBase default = %v, want 100ms", cfg.ReconnectBase)
	}
	if cfg.ReconnectMax != 30*time.Second {
		t.Fatalf("ReconnectMax default = %v, want 30s", cfg.ReconnectMax)
	}
}

func TestPow2(t *testing.T) {
	cases := map[int]float64{0: 1, 1: 2, 2: 4, 5: 32}
	for n, want := range cases {
		if got := pow2(n); got != want {
			t.Fatalf("pow2(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestSendRequestWithoutConnectionFails(t *testing.T) {
	a := New(Config{URL: "ws://unused"})
	_, err := a.SendRequest(context.Background(), "turn", nil)
	if err == nil {
		t.Fatal("expected SendRequest without a live connection to fail")
	}
}

func TestCloseRejectsPendingAndDisablesReconnect(t *testing.T) {
	a := New(Config{URL: "ws://unused"})

	pr := &pendingRequest{resolve: make(chan responseFrame, 1), startedAt: time.Now()}
	pr.timer = time.AfterFunc(time.Minute, func() {})
	a.pendingMu.Lock()
	a.pending["req-1"] = pr
	a.pendingMu.Unlock()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case resp := <-pr.resolve:
		if resp.Error != "Connection lost" {
			t.Fatalf("pending rejection = %q, want %q", resp.Error, "Connection lost")
		}
	default:
		t.Fatal("expected Close to reject the pending request immediately")
	}

	a.mu.Lock()
	reconnect := a.shouldReconnect
	a.mu.Unlock()
	if reconnect {
		t.Fatal("expected shouldReconnect to be false after Close")
	}
}

func TestMetricsSnapshotReflectsPendingCount(t *testing.T) {
	a := New(Config{URL: "ws://unused"})
	a.pendingMu.Lock()
	a.pending["req-1"] = &pendingRequest{resolve: make(chan responseFrame, 1)}
	a.pendingMu.Unlock()

	m := a.Metrics()
	if m.PendingCount != 1 {
		t.Fatalf("PendingCount = %d, want 1", m.PendingCount)
	}
	if m.Connected {
		t.Fatal("expected Connected = false with no live socket")
	}
}
