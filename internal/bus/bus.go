// Package bus provides the topic-based message bus behind the broadcast
// hub. The in-process implementation serves single-instance deployments;
// the NATS adapter provides the same contract across instances.
//
// Delivery is at-most-once and best-effort: a subscriber whose buffer is
// full at publish time misses that message and it is never redelivered.
package bus

import (
	"context"
	"sync"
)

// Message is one published payload tagged with its topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the publish/subscribe contract shared by the in-process bus and
// the NATS adapter.
type Bus interface {
	// Publish delivers payload to every subscriber currently joined to
	// topic, in publish order per subscriber.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe joins a topic and returns a receive channel plus an
	// unsubscribe func. The channel closes on unsubscribe or bus close;
	// calling unsubscribe more than once is a no-op.
	Subscribe(topic string) (<-chan Message, func(), error)

	Close() error
}

// InProcess is a thread-safe, non-blocking in-memory Bus. Subscribers
// receive through bounded channels; a full channel drops the message for
// that subscriber only, so a slow consumer never blocks a publisher.
type InProcess struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan Message
	bufferSize  int
	nextID      int64
	closed      bool
}

// NewInProcess creates an in-process bus. bufferSize is the capacity of
// each subscriber channel.
func NewInProcess(bufferSize int) *InProcess {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &InProcess{
		subscribers: make(map[string]map[int64]chan Message),
		bufferSize:  bufferSize,
	}
}

// Publish sends under the read lock. Subscriber channels are closed only
// under the write lock, so a send can never race a close.
func (b *InProcess) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			// Buffer full: drop for this subscriber only.
		}
	}
	return nil
}

func (b *InProcess) Subscribe(topic string) (<-chan Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}, nil
	}

	id := b.nextID
	b.nextID++
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int64]chan Message)
	}
	b.subscribers[topic][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[topic][id]; !ok {
			return
		}
		delete(b.subscribers[topic], id)
		close(ch)
	}

	return ch, unsubscribe, nil
}

// Close shuts down the bus and closes every subscriber channel. The bus
// must not be published to afterwards.
func (b *InProcess) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, subs := range b.subscribers {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(b.subscribers, topic)
	}
	return nil
}
