package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements MessageBus using in-memory channels.
// One MemoryBus plays the role of a single shared document: every
// participant that subscribes to a subject sees every publish on it.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool

	// For request/reply
	replyMu   sync.Mutex
	replySubs map[string]chan *Message
	replySeq  atomic.Uint64
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus

	// sendMu keeps a publish from racing the close of ch.
	sendMu sync.Mutex
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config:    cfg,
		subs:      make(map[string][]*memorySub),
		replySubs: make(map[string]chan *Message),
	}
}

// Publish sends a message to all subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    data,
	}

	if b.deliverToReply(subject, msg) {
		return nil
	}
	b.deliverToSubscribers(subject, msg)
	return nil
}

// deliverToSubscribers sends to all regular subscribers and reports how
// many were registered on the subject.
func (b *MemoryBus) deliverToSubscribers(subject string, msg *Message) int {
	b.mu.RLock()
	subs := make([]*memorySub, len(b.subs[subject]))
	copy(subs, b.subs[subject])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return len(subs)
}

// deliverToReply hands a message to a waiting requester, if subject is one
// of the inboxes created by Request.
func (b *MemoryBus) deliverToReply(subject string, msg *Message) bool {
	b.replyMu.Lock()
	ch, ok := b.replySubs[subject]
	if ok {
		delete(b.replySubs, subject)
	}
	b.replyMu.Unlock()

	if ok {
		ch <- msg // buffered, one reply per inbox
	}
	return ok
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	return sub, nil
}

// Request sends a request and waits for reply.
func (b *MemoryBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	replySubject := b.createReplySubject()
	replyCh := make(chan *Message, 1)

	b.replyMu.Lock()
	b.replySubs[replySubject] = replyCh
	b.replyMu.Unlock()

	defer func() {
		b.replyMu.Lock()
		delete(b.replySubs, replySubject)
		b.replyMu.Unlock()
	}()

	msg := &Message{
		Subject: subject,
		Data:    data,
		Reply:   replySubject,
	}

	if b.deliverToSubscribers(subject, msg) == 0 {
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// createReplySubject generates a unique reply subject.
func (b *MemoryBus) createReplySubject() string {
	return fmt.Sprintf("_INBOX.%d", b.replySeq.Add(1))
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string][]*memorySub)
	b.mu.Unlock()

	for _, list := range subs {
		for _, sub := range list {
			sub.shut()
		}
	}

	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Load() {
		return nil
	}

	s.bus.mu.Lock()
	s.bus.removeSub(s.subject, s)
	s.bus.mu.Unlock()

	s.shut()
	return nil
}

// deliver enqueues msg, dropping it if the buffer is full.
func (s *memorySub) deliver(msg *Message) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Buffer full, drop message
	}
}

func (s *memorySub) shut() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed.Swap(true) {
		return
	}
	close(s.ch)
}

// removeSub removes a subscription. Caller holds b.mu.
func (b *MemoryBus) removeSub(subject string, target *memorySub) {
	subs := b.subs[subject]
	for i, sub := range subs {
		if sub == target {
			b.subs[subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[subject]) == 0 {
		delete(b.subs, subject)
	}
}
