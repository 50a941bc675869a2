package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/google/uuid"
)

// TCP is a stream transport to a router's TCP listener.
type TCP struct {
	address string
	opts    Options
	logs    LogConfig

	mu     sync.Mutex
	state  ConnectionState
	conn   net.Conn
	framer *Framer
	inbox  *Inbox
	connID string
	wg     sync.WaitGroup
}

// NewTCP creates a TCP transport for address (host:port).
func NewTCP(address string, opts Options, logs LogConfig) *TCP {
	return &TCP{
		address: address,
		opts:    opts.withDefaults(),
		logs:    logs,
		connID:  uuid.New().String(),
	}
}

// ID returns the connection identifier.
func (t *TCP) ID() string {
	return t.connID
}

// Connect dials the router and starts the reader goroutine.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.state = StateConnecting
	t.mu.Unlock()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("dial failed: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	framer := NewFramer(conn)
	if t.logs.ProtocolLogger != nil {
		framer.SetLogger(t.logs.ProtocolLogger, t.connID)
	}

	t.mu.Lock()
	t.conn = conn
	t.framer = framer
	t.inbox = NewInbox(t.opts.QueueSize)
	t.state = StateConnected
	inbox := t.inbox
	t.mu.Unlock()

	logStateChange(t.logs, t.connID, conn.RemoteAddr().String(), StateDisconnected, StateConnected, "")
	t.logs.logger().Debug("tcp transport connected", "addr", t.address, "conn_id", t.connID)

	t.wg.Add(1)
	go t.readLoop(framer, inbox)
	return nil
}

// readLoop moves frames from the socket into the inbox until the
// connection ends.
func (t *TCP) readLoop(framer *Framer, inbox *Inbox) {
	defer t.wg.Done()
	for {
		msg, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.logs.logger().Debug("tcp transport read failed", "conn_id", t.connID, "error", err)
			}
			inbox.Close(err)
			return
		}
		if !inbox.Push(msg) {
			return
		}
	}
}

// Disconnect closes the socket and waits for the reader to exit.
func (t *TCP) Disconnect() error {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	conn := t.conn
	inbox := t.inbox
	t.mu.Unlock()

	err := conn.Close()
	inbox.Close(net.ErrClosed)
	t.wg.Wait()

	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()

	logStateChange(t.logs, t.connID, conn.RemoteAddr().String(), StateConnected, StateDisconnected, "")
	return err
}

// ReadMessage returns the next received frame.
func (t *TCP) ReadMessage(timeout time.Duration) (*wire.MessageBuffer, error) {
	t.mu.Lock()
	inbox := t.inbox
	t.mu.Unlock()
	if inbox == nil {
		return nil, wire.ErrEndOfStream
	}
	return inbox.Read(timeout)
}

// WriteMessage writes one frame, bounded by the write timeout. A failed
// write closes the connection.
func (t *TCP) WriteMessage(msg *wire.MessageBuffer) error {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn, framer := t.conn, t.framer
	t.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := framer.WriteFrame(msg); err != nil {
		// Part of the frame may be on the wire; the stream is unusable.
		// The reader sees the close and ends the inbox.
		_ = conn.Close()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// State returns the connection state.
func (t *TCP) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func logStateChange(logs LogConfig, connID, remote string, from, to ConnectionState, reason string) {
	if logs.ProtocolLogger == nil {
		return
	}
	logs.ProtocolLogger.Log(log.Event{
		Time:   time.Now(),
		Conn:   connID,
		Layer:  log.LayerTransport,
		Kind:   log.KindState,
		Remote: remote,
		State: &log.Transition{
			Entity: log.EntityConnection,
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
		},
	})
}

var _ Transport = (*TCP)(nil)
