package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundFIFOOrder(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < 5; i++ {
		b.PublishInbound(InboundMessage{ChatID: string(rune('a' + i))})
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if msg.ChatID != string(rune('a'+i)) {
			t.Fatalf("FIFO violated: got %q want %q", msg.ChatID, string(rune('a'+i)))
		}
	}
}

func TestOutboundFIFOOrder(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < 3; i++ {
		b.PublishOutbound(OutboundMessage{Content: string(rune('x' + i))})
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg, ok := b.SubscribeOutbound(ctx)
		if !ok || msg.Content != string(rune('x'+i)) {
			t.Fatalf("FIFO violated at %d: %+v", i, msg)
		}
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatalf("expected ok=false on cancelled context")
	}
}

func TestCloseUnblocksConsumers(t *testing.T) {
	b := NewMessageBus()
	done := make(chan bool, 1)
	go func() {
		_, ok := b.ConsumeInbound(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("ConsumeInbound did not unblock after Close")
	}
}

func TestBroadcastSubscribe(t *testing.T) {
	b := NewMessageBus()
	received := make(chan Event, 1)
	b.Subscribe("sub1", func(e Event) { received <- e })
	b.Broadcast(Event{Name: "ping"})
	select {
	case e := <-received:
		if e.Name != "ping" {
			t.Fatalf("got %q", e.Name)
		}
	default:
		t.Fatal("handler not invoked")
	}
	b.Unsubscribe("sub1")
	b.Broadcast(Event{Name: "pong"})
	select {
	case e := <-received:
		t.Fatalf("unsubscribed handler still invoked: %+v", e)
	default:
	}
}
