package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS adapts core NATS subjects to the Bus contract so multiple process
// instances can fan broadcasts out to each other's subscribers. Topics
// map to subjects under a configured prefix.
type NATS struct {
	conn       *nats.Conn
	prefix     string
	bufferSize int

	mu   sync.Mutex
	subs []func()
}

// NewNATS connects to a NATS server. The returned bus owns the connection
// and drains it on Close.
func NewNATS(url, prefix string, bufferSize int) (*NATS, error) {
	if bufferSize < 1 {
		bufferSize = 16
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{conn: conn, prefix: prefix, bufferSize: bufferSize}, nil
}

func (n *NATS) subject(topic string) string {
	if n.prefix == "" {
		return topic
	}
	return n.prefix + "." + topic
}

func (n *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	if err := n.conn.Publish(n.subject(topic), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(topic string) (<-chan Message, func(), error) {
	out := make(chan Message, n.bufferSize)

	// An in-flight delivery callback may still be sending when the
	// subscriber leaves; close only under the same lock the callback
	// holds while sending.
	var sendMu sync.Mutex
	closed := false

	sub, err := n.conn.Subscribe(n.subject(topic), func(msg *nats.Msg) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed {
			return
		}
		select {
		case out <- Message{Topic: topic, Payload: msg.Data}:
		default:
			// Buffer full: drop for this subscriber only.
		}
	})
	if err != nil {
		close(out)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			sendMu.Lock()
			closed = true
			close(out)
			sendMu.Unlock()
		})
	}

	n.mu.Lock()
	n.subs = append(n.subs, unsubscribe)
	n.mu.Unlock()

	return out, unsubscribe, nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}

	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
