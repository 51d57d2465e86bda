package channel

import (
	"sync"

	"github.com/vinayprograms/mcpbridge/bus"
	bridgeerrors "github.com/vinayprograms/mcpbridge/errors"
)

// DefaultSubject is the shared broadcast subject.
const DefaultSubject = "window.message"

// Broadcast is a shared medium: one subject carries traffic in both
// directions, so a listener also hears its own transmissions.
type Broadcast struct {
	bus     bus.MessageBus
	subject string

	mu     sync.Mutex
	sub    bus.Subscription
	done   chan struct{}
	closed bool
}

// NewBroadcast creates a broadcast channel on subject.
// An empty subject uses DefaultSubject.
func NewBroadcast(b bus.MessageBus, subject string) *Broadcast {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Broadcast{
		bus:     b,
		subject: subject,
		done:    make(chan struct{}),
	}
}

// Subject returns the broadcast subject.
func (c *Broadcast) Subject() string {
	return c.subject
}

// Listen subscribes to the subject and delivers each message to handler.
func (c *Broadcast) Listen(handler func(data []byte)) error {
	if handler == nil {
		return ErrNilHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return bridgeerrors.Closed("broadcast channel")
	}
	if c.sub != nil {
		return ErrAlreadyListening
	}

	sub, err := c.bus.Subscribe(c.subject)
	if err != nil {
		return bridgeerrors.WrapWithCode(err, bridgeerrors.ErrCodeNetworkErr, "subscribe "+c.subject)
	}
	c.sub = sub

	go c.deliver(sub, handler)
	return nil
}

func (c *Broadcast) deliver(sub bus.Subscription, handler func([]byte)) {
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			handler(msg.Data)
		}
	}
}

// Transmit publishes data on the subject. Publishing never waits for a
// listener; failures of the bus itself go to onError.
func (c *Broadcast) Transmit(data []byte, onError func(error)) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err := c.bus.Publish(c.subject, data); err != nil {
		report(onError, busError(c.subject, err))
	}
}

// Close stops listening. Later transmissions are dropped.
func (c *Broadcast) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}
