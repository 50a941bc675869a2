package router

import (
	"context"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/google/uuid"
)

// LocalTransport attaches a client to a router in the same process. Frames
// are handed over in memory; each direction still carries whole frames as
// the network transports do.
type LocalTransport struct {
	router *Router
	connID string

	mu    sync.Mutex
	conn  *conn
	inbox *transport.Inbox
}

// NewLocalTransport returns an unconnected in-process transport.
func (r *Router) NewLocalTransport() *LocalTransport {
	return &LocalTransport{router: r, connID: uuid.New().String()}
}

// ID returns the connection identifier.
func (t *LocalTransport) ID() string {
	return t.connID
}

// Connect attaches to the router.
func (t *LocalTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return transport.ErrAlreadyConnected
	}
	inbox := transport.NewInbox(t.router.cfg.QueueSize)
	c, err := t.router.attach(&localLink{id: t.connID, inbox: inbox})
	if err != nil {
		return err
	}
	t.conn = c
	t.inbox = inbox
	return nil
}

// Disconnect detaches from the router.
func (t *LocalTransport) Disconnect() error {
	t.mu.Lock()
	c, inbox := t.conn, t.inbox
	t.conn = nil
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	t.router.detach(c)
	inbox.Close(transport.ErrNotConnected)
	return nil
}

// ReadMessage returns the next frame from the router.
func (t *LocalTransport) ReadMessage(timeout time.Duration) (*wire.MessageBuffer, error) {
	t.mu.Lock()
	inbox := t.inbox
	t.mu.Unlock()
	if inbox == nil {
		return nil, wire.ErrEndOfStream
	}
	return inbox.Read(timeout)
}

// WriteMessage hands a frame to the router.
func (t *LocalTransport) WriteMessage(msg *wire.MessageBuffer) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return transport.ErrNotConnected
	}
	t.router.handle(c, msg.Clone())
	return nil
}

var _ transport.Transport = (*LocalTransport)(nil)

// localLink delivers into an in-process inbox. A full inbox fails the
// send and the router drops the link, so the client sees the bus go away
// instead of a hole in a session stream.
type localLink struct {
	id    string
	inbox *transport.Inbox
}

func (l *localLink) Send(msg *wire.MessageBuffer) error {
	if !l.inbox.TryPush(msg.Clone()) {
		if l.inbox.Closed() {
			return ErrClosed
		}
		return ErrSlowClient
	}
	return nil
}

func (l *localLink) Close() error {
	l.inbox.Close(ErrClosed)
	return nil
}

func (l *localLink) ID() string {
	return l.id
}

func (l *localLink) RemoteAddr() string {
	return ""
}
