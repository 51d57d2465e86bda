package transport

import (
	"sync"

	"github.com/vinayprograms/mcpbridge/errors"
)

// eventLoop runs callbacks one at a time, in the order they were posted, on
// a single goroutine. Posting never blocks, so a callback may post (send,
// close) without deadlocking.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake  chan struct{}
	done  chan struct{}
	panic func(*errors.Error)
}

func newEventLoop(onPanic func(*errors.Error)) *eventLoop {
	l := &eventLoop{
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		panic: onPanic,
	}
	go l.run()
	return l
}

// post queues fn. Posts after stop are dropped.
func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// stop lets the loop drain what is queued and exit.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.signal()
}

func (l *eventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *eventLoop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				stopped := l.stopped
				l.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.call(fn)
		}
	}
}

func (l *eventLoop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.panic != nil {
			l.panic(errors.RecoverPanic(r))
		}
	}()
	fn()
}
