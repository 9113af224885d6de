package chat

import (
	"context"
	"testing"
)

func TestInbox_DropsWhenFullOrClosed(t *testing.T) {
	in := NewInbox("test", 1)
	if !in.Deliver(InboundMessage{Text: "first"}) {
		t.Fatal("first delivery should be accepted")
	}
	if in.Deliver(InboundMessage{Text: "second"}) {
		t.Error("delivery into a full inbox should be dropped")
	}
	if got := <-in.C(); got.Text != "first" {
		t.Errorf("got %q, want first", got.Text)
	}

	in.Close()
	in.Close()
	if !in.Closed() {
		t.Error("Closed = false after Close")
	}
	if in.Deliver(InboundMessage{Text: "late"}) {
		t.Error("delivery after Close should be dropped")
	}
	if _, ok := <-in.C(); ok {
		t.Error("channel should be closed")
	}
}

func TestMockAdapter_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockAdapter()
	if _, err := m.Listen(ctx); err == nil {
		t.Error("Listen before Connect should fail")
	}
	if err := m.Send(ctx, OutboundMessage{Text: "x"}); err == nil {
		t.Error("Send before Connect should fail")
	}
	m.Connect(ctx)
	in, _ := m.Listen(ctx)
	m.Inject(InboundMessage{Text: "hi"})
	if got := <-in; got.Text != "hi" || got.Timestamp.IsZero() {
		t.Errorf("got %+v", got)
	}
	m.Send(ctx, OutboundMessage{Text: "reply"})
	if last, ok := m.Last(); !ok || last.Text != "reply" {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	m.Close()
	if err := m.Connect(ctx); err == nil {
		t.Error("Connect after Close should fail")
	}
}
