package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/google/uuid"
)

// ListenerConfig configures a TCP Listener.
type ListenerConfig struct {
	// Address to listen on (e.g., ":27300" or "127.0.0.1:27300").
	Address string

	// WriteTimeout bounds each frame written to a client (default: 2s). A
	// write that misses it drops the client.
	WriteTimeout time.Duration
}

// Listener accepts TCP clients and attaches them to a router.
type Listener struct {
	router   *Router
	config   ListenerConfig
	listener net.Listener

	conns   map[*tcpLink]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener creates a TCP listener for r.
func NewListener(r *Router, config ListenerConfig) *Listener {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 2 * time.Second
	}
	return &Listener{
		router: r,
		config: config,
		conns:  make(map[*tcpLink]struct{}),
	}
}

// Start begins accepting connections.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener already running")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(l.ctx, "tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.listener = listener
	l.running.Store(true)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener and every connection it accepted.
func (l *Listener) Stop() error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)
	l.cancel()
	l.listener.Close()

	l.connsMu.Lock()
	for c := range l.conns {
		c.Close()
	}
	l.connsMu.Unlock()

	l.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	return len(l.conns)
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for l.running.Load() {
		nc, err := l.listener.Accept()
		if err != nil {
			if l.running.Load() {
				l.router.logger.Warn("accept failed", "error", err)
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		l.wg.Add(1)
		go l.serve(nc)
	}
}

// serve runs one connection until it closes.
func (l *Listener) serve(nc net.Conn) {
	defer l.wg.Done()

	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	link := newTCPLink(nc, l.router.cfg.QueueSize, l.config.WriteTimeout)
	if l.router.cfg.ProtocolLogger != nil {
		link.framer.SetLogger(l.router.cfg.ProtocolLogger, link.connID)
	}

	c, err := l.router.attach(link)
	if err != nil {
		link.abort()
		link.Close()
		return
	}
	l.connsMu.Lock()
	l.conns[link] = struct{}{}
	l.connsMu.Unlock()
	l.logConnection(link, "", "CONNECTED")

	for {
		msg, err := link.framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && l.running.Load() {
				l.router.logger.Debug("client read failed", "conn_id", link.connID, "error", err)
			}
			break
		}
		l.router.handle(c, msg)
	}

	l.router.detach(c)
	link.Close()
	l.connsMu.Lock()
	delete(l.conns, link)
	l.connsMu.Unlock()
	l.logConnection(link, "CONNECTED", "DISCONNECTED")
}

func (l *Listener) logConnection(link *tcpLink, from, to string) {
	if l.router.cfg.ProtocolLogger == nil {
		return
	}
	l.router.cfg.ProtocolLogger.Log(log.Event{
		Time:   time.Now(),
		Conn:   link.connID,
		Layer:  log.LayerTransport,
		Kind:   log.KindState,
		Role:   log.RoleRouter,
		Remote: link.remote,
		State:  &log.Transition{Entity: log.EntityConnection, From: from, To: to},
	})
}

// tcpLink is the router side of a TCP client connection.
type tcpLink struct {
	conn         net.Conn
	framer       *transport.Framer
	connID       string
	remote       string
	writeTimeout time.Duration
	out          *outbox

	closeOnce sync.Once
}

func newTCPLink(nc net.Conn, queueSize int, writeTimeout time.Duration) *tcpLink {
	t := &tcpLink{
		conn:         nc,
		framer:       transport.NewFramer(nc),
		connID:       uuid.New().String(),
		remote:       nc.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
	t.out = newOutbox(queueSize, t.writeFrame, t.abort)
	return t
}

func (t *tcpLink) writeFrame(msg *wire.MessageBuffer) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.framer.WriteFrame(msg)
}

// Send queues msg for the writer goroutine.
func (t *tcpLink) Send(msg *wire.MessageBuffer) error {
	return t.out.push(msg)
}

// Close flushes queued frames for at most one write timeout.
func (t *tcpLink) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.out.close(t.writeTimeout)
		err = t.conn.Close()
	})
	return err
}

// abort drops the connection without flushing. The read loop then fails
// and detaches the client.
func (t *tcpLink) abort() {
	_ = t.conn.Close()
}

func (t *tcpLink) ID() string {
	return t.connID
}

func (t *tcpLink) RemoteAddr() string {
	return t.remote
}
