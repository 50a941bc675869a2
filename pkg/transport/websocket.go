package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket is a message transport to a router's WebSocket endpoint. Each
// binary WebSocket message carries exactly one frame.
type WebSocket struct {
	url  string
	opts Options
	logs LogConfig

	mu      sync.Mutex
	writeMu sync.Mutex
	state   ConnectionState
	conn    *websocket.Conn
	inbox   *Inbox
	connID  string
	wg      sync.WaitGroup
}

// NewWebSocket creates a WebSocket transport for url (ws://host:port/path).
func NewWebSocket(url string, opts Options, logs LogConfig) *WebSocket {
	return &WebSocket{
		url:    url,
		opts:   opts.withDefaults(),
		logs:   logs,
		connID: uuid.New().String(),
	}
}

// ID returns the connection identifier.
func (w *WebSocket) ID() string {
	return w.connID
}

// Connect performs the WebSocket handshake and starts the reader.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateDisconnected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.state = StateConnecting
	w.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: w.opts.WriteTimeout,
		ReadBufferSize:   wire.MaxMessageSize,
		WriteBufferSize:  wire.MaxMessageSize,
	}
	conn, resp, err := dialer.DialContext(ctx, w.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		w.mu.Lock()
		w.state = StateDisconnected
		w.mu.Unlock()
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(wire.MaxMessageSize)

	w.mu.Lock()
	w.conn = conn
	w.inbox = NewInbox(w.opts.QueueSize)
	w.state = StateConnected
	inbox := w.inbox
	w.mu.Unlock()

	logStateChange(w.logs, w.connID, conn.RemoteAddr().String(), StateDisconnected, StateConnected, "")
	w.logs.logger().Debug("websocket transport connected", "url", w.url, "conn_id", w.connID)

	w.wg.Add(1)
	go w.readLoop(conn, inbox)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, inbox *Inbox) {
	defer w.wg.Done()
	rec := newTap(w.logs.ProtocolLogger, w.connID)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			inbox.Close(err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg := &wire.MessageBuffer{}
		if err := msg.UnmarshalBinary(data); err != nil {
			w.logs.logger().Debug("websocket transport dropped malformed frame", "conn_id", w.connID, "error", err)
			inbox.Close(err)
			return
		}
		rec.record(log.In, data, msg)
		if !inbox.Push(msg) {
			return
		}
	}
}

// Disconnect sends a close message and tears down the connection.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	if w.state != StateConnected {
		w.mu.Unlock()
		return nil
	}
	w.state = StateClosing
	conn := w.conn
	inbox := w.inbox
	w.mu.Unlock()

	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(w.opts.WriteTimeout))
	w.writeMu.Unlock()

	err := conn.Close()
	inbox.Close(websocket.ErrCloseSent)
	w.wg.Wait()

	w.mu.Lock()
	w.state = StateDisconnected
	w.mu.Unlock()

	logStateChange(w.logs, w.connID, conn.RemoteAddr().String(), StateConnected, StateDisconnected, "")
	return err
}

// ReadMessage returns the next received frame.
func (w *WebSocket) ReadMessage(timeout time.Duration) (*wire.MessageBuffer, error) {
	w.mu.Lock()
	inbox := w.inbox
	w.mu.Unlock()
	if inbox == nil {
		return nil, wire.ErrEndOfStream
	}
	return inbox.Read(timeout)
}

// WriteMessage sends one frame as a binary message.
func (w *WebSocket) WriteMessage(msg *wire.MessageBuffer) error {
	w.mu.Lock()
	if w.state != StateConnected {
		w.mu.Unlock()
		return ErrNotConnected
	}
	conn := w.conn
	w.mu.Unlock()

	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: failed to write frame: %w", ErrNotConnected, err)
	}
	newTap(w.logs.ProtocolLogger, w.connID).record(log.Out, data, msg)
	return nil
}

var _ Transport = (*WebSocket)(nil)
