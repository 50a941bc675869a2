package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// Link failures. A link returning either is detached by the router.
var (
	ErrSlowClient = fmt.Errorf("%w: client send queue full", wire.ErrInsufficientMemory)
	ErrLinkBroken = errors.New("client link broken")
)

// outbox is the send queue of a network link. A single goroutine writes
// queued frames, so a client that stops reading only stalls its own link.
type outbox struct {
	write func(*wire.MessageBuffer) error
	abort func()

	mu     sync.Mutex
	queue  chan *wire.MessageBuffer
	closed bool
	err    error
	done   chan struct{}
}

func newOutbox(size int, write func(*wire.MessageBuffer) error, abort func()) *outbox {
	o := &outbox{
		write: write,
		abort: abort,
		queue: make(chan *wire.MessageBuffer, size),
		done:  make(chan struct{}),
	}
	go o.run()
	return o
}

// push queues msg without waiting.
func (o *outbox) push(msg *wire.MessageBuffer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.err != nil:
		return o.err
	case o.closed:
		return ErrClosed
	}
	select {
	case o.queue <- msg:
		return nil
	default:
		return ErrSlowClient
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for msg := range o.queue {
		if err := o.write(msg); err != nil {
			o.mu.Lock()
			o.err = fmt.Errorf("%w: %w", ErrLinkBroken, err)
			o.mu.Unlock()
			// A failed write may have left part of a frame on the wire.
			o.abort()
			for range o.queue {
			}
			return
		}
	}
}

// close stops accepting frames and waits up to flush for the queued ones
// to be written.
func (o *outbox) close(flush time.Duration) {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	timer := time.NewTimer(flush)
	defer timer.Stop()
	select {
	case <-o.done:
	case <-timer.C:
	}
}
