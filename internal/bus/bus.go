// Package bus implements the two-queue FIFO decoupling layer between
// channel adapters and the agent loop: one inbound queue feeding the agent,
// one outbound queue feeding channel adapters back out.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueCapacity = 4096

// MessageBus is the concrete MessageRouter + EventPublisher. Both queues are
// strict FIFO with exactly one consumer: the agent loop drains inbound,
// channel adapters drain outbound. Enqueue never blocks the caller under
// normal load; the channel capacity only exists to absorb bursts, not to
// apply backpressure.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMessageBus creates a bus with unbounded-in-practice buffered queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, defaultQueueCapacity),
		outbound:    make(chan OutboundMessage, defaultQueueCapacity),
		subscribers: make(map[string]EventHandler),
		closed:      make(chan struct{}),
	}
}

// PublishInbound enqueues a message for the agent loop. Never blocks absent
// queue saturation; if the queue is saturated this logs and still enqueues
// (spec requires enqueue to never fail absent process termination), falling
// back to a blocking send.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue saturated, blocking", "channel", msg.Channel, "chat_id", msg.ChatID)
		select {
		case b.inbound <- msg:
		case <-b.closed:
		}
	}
}

// ConsumeInbound blocks until a message is available, the context is
// cancelled, or the bus is closed. ok=false on cancellation/close.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-b.closed:
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for channel adapters.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue saturated, blocking", "channel", msg.Channel, "chat_id", msg.ChatID)
		select {
		case b.outbound <- msg:
		case <-b.closed:
		}
	}
}

// SubscribeOutbound blocks until a message is available, the context is
// cancelled, or the bus is closed.
//
// Only one consumer reads a given channel's slice of outbound traffic in
// practice (each adapter filters by msg.Channel), but the queue itself has
// no fan-out: messages are not duplicated across callers.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-b.closed:
		return OutboundMessage{}, false
	}
}

// Subscribe registers a handler for broadcast Events under id, replacing any
// existing handler registered under the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers event to every current subscriber, synchronously, in
// registration-unordered fashion (map iteration order).
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Close signals blocked ConsumeInbound/SubscribeOutbound callers to return.
// Safe to call more than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
