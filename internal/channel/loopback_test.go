package channel

import (
	"context"
	"testing"
)

func TestLoopbackSendRequiresConnection(t *testing.T) {
	l := NewLoopback("loopback", "test")
	if err := l.Send(context.Background(), "chat1", Reply{Text: "hi"}); err == nil {
		t.Fatal("expected Send before Connect to fail")
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	l := NewLoopback("loopback", "test")
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var received Message
	l.OnMessage(func(ctx context.Context, msg Message) {
		received = msg
		l.Send(ctx, msg.ChatID, Reply{Text: "echo: " + msg.Text})
	})

	l.Inject(context.Background(), Message{ChannelType: "loopback", ChatID: "chat1", UserID: "u1", Text: "hello"})

	if received.Text != "hello" {
		t.Fatalf("handler received text %q, want %q", received.Text, "hello")
	}
	out := l.Outbox()
	if len(out) != 1 || out[0].Text != "echo: hello" {
		t.Fatalf("outbox = %+v, want one echo reply", out)
	}
}
