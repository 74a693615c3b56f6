// Package bus publishes and consumes medwatch platform events over NATS
// JetStream. Subjects follow the medwatch.<area>.<event> convention, for
// example medwatch.sync.completed.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is a thin JetStream wrapper. A nil *Bus is safe to call; every method
// reports an error instead of panicking, so services can run without a broker.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to the NATS endpoint and initialises a JetStream context.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close drains the connection so in-flight publishes are flushed first.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish marshals v as JSON and publishes it to the subject.
func (b *Bus) Publish(ctx context.Context, subject string, v any) error {
	if b == nil || b.js == nil {
		return errors.New("bus not connected")
	}
	if subject == "" {
		return errors.New("subject is required")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = b.js.Publish(subject, data, nats.Context(ctx))
	return err
}

type consumer struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (c *consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sub.Drain()
}

// Subscribe attaches a durable consumer to the subject and invokes handle for
// each message. Handler errors nak the message so JetStream redelivers it.
// The subscription closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, subject, durable string, handle func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil || b.js == nil {
		return nil, errors.New("bus not connected")
	}
	if handle == nil {
		return nil, errors.New("handler is required")
	}

	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handle(ctx, msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, err
	}

	c := &consumer{sub: sub}
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	return c, nil
}
