package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// LogConfig carries the loggers a transport reports to.
type LogConfig struct {
	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger receives frame and connection events (optional).
	ProtocolLogger log.Logger
}

func (c LogConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// Inbox buffers received frames between a reader goroutine and
// ReadMessage. Frames queued before Close remain readable.
type Inbox struct {
	frames chan *wire.MessageBuffer
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// NewInbox creates an inbox holding up to size frames.
func NewInbox(size int) *Inbox {
	return &Inbox{
		frames: make(chan *wire.MessageBuffer, size),
		done:   make(chan struct{}),
	}
}

// Push queues a frame, waiting for room. It returns false once the inbox
// is closed.
func (q *Inbox) Push(msg *wire.MessageBuffer) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.frames <- msg:
		return true
	case <-q.done:
		return false
	}
}

// TryPush queues a frame without waiting. It returns false if the inbox
// is full or closed.
func (q *Inbox) TryPush(msg *wire.MessageBuffer) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.frames <- msg:
		return true
	default:
		return false
	}
}

// Close marks the end of the stream. The first cause wins.
func (q *Inbox) Close(cause error) {
	q.once.Do(func() {
		q.mu.Lock()
		q.err = cause
		q.mu.Unlock()
		close(q.done)
	})
}

// Closed reports whether Close has been called.
func (q *Inbox) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Err returns the cause passed to Close.
func (q *Inbox) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Read returns the next frame. See Transport.ReadMessage for timeout
// semantics.
func (q *Inbox) Read(timeout time.Duration) (*wire.MessageBuffer, error) {
	select {
	case msg := <-q.frames:
		return msg, nil
	default:
	}

	if timeout == 0 {
		if q.Closed() {
			return nil, wire.ErrEndOfStream
		}
		return nil, wire.ErrNotReady
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-q.frames:
		return msg, nil
	case <-q.done:
		select {
		case msg := <-q.frames:
			return msg, nil
		default:
			return nil, wire.ErrEndOfStream
		}
	case <-expired:
		return nil, wire.ErrNotReady
	}
}
