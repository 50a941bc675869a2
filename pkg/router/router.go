// Package router implements the bus host. A router hands out ClientIDs,
// answers client management requests and moves frames between the
// clients attached to it over in-process, TCP and WebSocket links.
package router

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// ErrClosed is returned by attachments of a router that has been closed.
var ErrClosed = errors.New("router closed")

// Config configures a Router.
type Config struct {
	// Prefix is the routing-domain prefix of every ClientID this router
	// assigns (0-7).
	Prefix uint8

	// MaxClients limits registered clients (default and maximum: 8191).
	MaxClients int

	// QueueSize is the number of frames buffered per client link
	// (default: 256). A client that falls this far behind is dropped.
	QueueSize int

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger receives routed frames and registration events (optional).
	ProtocolLogger log.Logger

	// Metrics enables prometheus instrumentation.
	Metrics bool
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		MaxClients: int(wire.MaxLocalID),
		QueueSize:  256,
	}
}

// Link delivers frames to one attached client.
type Link interface {
	// Send queues a frame for the client without blocking. A link that
	// cannot keep up returns ErrSlowClient and is dropped by the router.
	Send(msg *wire.MessageBuffer) error

	// Close flushes what it can and tears the link down.
	Close() error

	// ID returns the connection identifier used in logs.
	ID() string

	// RemoteAddr returns the peer address, empty for in-process links.
	RemoteAddr() string
}

// ClientInfo describes a registered client.
type ClientInfo struct {
	ID          wire.ClientID
	Metadata    wire.ClientMetadata
	Description string
	RemoteAddr  string
	Since       time.Time
}

// conn is one attachment. id is zero until the client registers.
type conn struct {
	link Link
	info ClientInfo
}

// Router is the bus host.
type Router struct {
	cfg    Config
	logger *slog.Logger
	plog   log.Logger

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	clients map[wire.ClientID]*conn
	closed  bool
}

// New creates a router.
func New(cfg Config) *Router {
	d := DefaultConfig()
	if cfg.MaxClients <= 0 || cfg.MaxClients > d.MaxClients {
		cfg.MaxClients = d.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	cfg.Prefix &= wire.MaxRouterPrefix
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics {
		RegisterMetrics()
	}
	return &Router{
		cfg:     cfg,
		logger:  cfg.Logger,
		plog:    log.OrNoop(cfg.ProtocolLogger),
		conns:   make(map[*conn]struct{}),
		clients: make(map[wire.ClientID]*conn),
	}
}

// Prefix returns the router's routing-domain prefix.
func (r *Router) Prefix() uint8 {
	return r.cfg.Prefix
}

// ClientCount returns the number of registered clients.
func (r *Router) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clients returns the registered clients ordered by id.
func (r *Router) Clients() []ClientInfo {
	r.mu.RLock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close tells every client the router is going away and closes all links.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[*conn]struct{})
	r.clients = make(map[wire.ClientID]*conn)
	r.mu.Unlock()

	bye, _ := wire.NewOutOfBand(wire.ClientMgmtDisconnectNotification, nil)
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.link.Send(bye)
			_ = c.link.Close()
		}()
	}
	wg.Wait()
	setConnectedClients(0)
	return nil
}

// attach adds a link. The returned conn is passed to handle and detach.
func (r *Router) attach(link Link) (*conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	c := &conn{link: link, info: ClientInfo{RemoteAddr: link.RemoteAddr()}}
	r.conns[c] = struct{}{}
	return c, nil
}

// detach removes a link and unregisters its client.
func (r *Router) detach(c *conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	r.unregister(c, "link closed")
}

// handle processes one frame received from c.
func (r *Router) handle(c *conn, msg *wire.MessageBuffer) {
	r.mu.RLock()
	_, attached := r.conns[c]
	r.mu.RUnlock()
	if !attached {
		r.drop(msg, "detached")
		return
	}

	h := &msg.Header
	if wire.IsOutOfBand(h) {
		if err := wire.ValidateOutOfBand(h); err != nil {
			r.drop(msg, "invalid_oob")
			r.logger.Debug("dropping out-of-band frame", "conn_id", c.link.ID(), "error", err)
			return
		}
		r.handleClientManagement(c, msg)
		return
	}

	r.mu.RLock()
	src := c.info.ID
	r.mu.RUnlock()
	switch {
	case src == wire.BroadcastClientID:
		r.drop(msg, "unregistered")
		return
	case h.Src != src:
		r.drop(msg, "spoofed_src")
		r.logger.Debug("dropping frame with foreign source", "conn_id", c.link.ID(), "src", h.Src, "owner", src)
		return
	}

	if h.Dst.IsBroadcast() {
		r.broadcast(msg, src)
		return
	}

	r.mu.RLock()
	dst := r.clients[h.Dst]
	r.mu.RUnlock()
	if dst == nil {
		r.drop(msg, "unknown_dst")
		if h.Protocol == wire.ProtocolSession && h.MessageCode == wire.SessionMsgSyn {
			r.refuseSyn(c, msg)
		}
		return
	}
	r.deliver(dst, msg)
}

func (r *Router) handleClientManagement(c *conn, msg *wire.MessageBuffer) {
	switch msg.Header.MessageCode {
	case wire.ClientMgmtConnectRequest:
		var req wire.ConnectRequest
		if err := req.UnmarshalBinary(msg.Payload); err != nil {
			r.reply(c, wire.ClientMgmtConnectResponse, wire.ConnectResponse{Result: wire.ResultError})
			return
		}
		id, result := r.register(c, req)
		r.reply(c, wire.ClientMgmtConnectResponse, wire.ConnectResponse{Result: result, ClientID: id})

	case wire.ClientMgmtDisconnectNotification:
		r.unregister(c, "client left")
		r.reply(c, wire.ClientMgmtDisconnectResponse, wire.ResultPayload{Result: wire.ResultSuccess})

	case wire.ClientMgmtQueryStatus:
		r.reply(c, wire.ClientMgmtQueryStatusResponse, wire.StatusResponse{
			Result:       wire.ResultSuccess,
			NumClients:   uint16(r.ClientCount()),
			RouterPrefix: r.cfg.Prefix,
		})

	case wire.ClientMgmtKeepAlive:
		r.reply(c, wire.ClientMgmtKeepAlive, wire.ResultPayload{Result: wire.ResultSuccess})

	default:
		r.drop(msg, "unknown_code")
	}
}

// register assigns the lowest free local id to c. A client that registers
// twice keeps its id.
func (r *Router) register(c *conn, req wire.ConnectRequest) (wire.ClientID, wire.Result) {
	r.mu.Lock()
	if c.info.ID != wire.BroadcastClientID {
		id := c.info.ID
		r.mu.Unlock()
		return id, wire.ResultSuccess
	}
	if len(r.clients) >= r.cfg.MaxClients {
		r.mu.Unlock()
		r.logger.Warn("client table full", "max", r.cfg.MaxClients)
		return wire.BroadcastClientID, wire.ResultInsufficientMemory
	}
	var id wire.ClientID
	for local := uint16(1); local <= wire.MaxLocalID; local++ {
		candidate := wire.MakeClientID(r.cfg.Prefix, local)
		if _, used := r.clients[candidate]; !used {
			id = candidate
			break
		}
	}
	if id == wire.BroadcastClientID {
		r.mu.Unlock()
		return id, wire.ResultInsufficientMemory
	}
	c.info.ID = id
	c.info.Metadata = req.Metadata
	c.info.Description = req.Description
	c.info.Since = time.Now()
	r.clients[id] = c
	n := len(r.clients)
	r.mu.Unlock()

	setConnectedClients(n)
	r.logger.Info("client registered", "client_id", id, "component", req.Metadata.Component,
		"description", req.Description, "remote", c.link.RemoteAddr())
	r.logRegistration(c, id, "UNREGISTERED", "REGISTERED", req.Description)
	return id, wire.ResultSuccess
}

// unregister releases c's id and tells the remaining clients.
func (r *Router) unregister(c *conn, reason string) {
	r.mu.Lock()
	id := c.info.ID
	if id == wire.BroadcastClientID || r.clients[id] != c {
		r.mu.Unlock()
		return
	}
	delete(r.clients, id)
	c.info.ID = wire.BroadcastClientID
	n := len(r.clients)
	r.mu.Unlock()

	setConnectedClients(n)
	r.logger.Info("client unregistered", "client_id", id, "reason", reason)
	r.logRegistration(c, id, "REGISTERED", "UNREGISTERED", reason)

	payload, _ := wire.ClientIDPayload{ClientID: id}.MarshalBinary()
	notice, _ := wire.NewMessage(wire.MessageHeader{
		Src:         wire.BroadcastClientID,
		Dst:         wire.BroadcastClientID,
		Protocol:    wire.ProtocolSystem,
		MessageCode: wire.SystemMsgClientDisconnected,
	}, payload)
	r.broadcast(notice, id)
}

// refuseSyn answers a session request for an absent client on its behalf.
func (r *Router) refuseSyn(c *conn, syn *wire.MessageBuffer) {
	payload, _ := wire.RstPayload{Result: wire.ResultUnavailable}.MarshalBinary()
	rst, _ := wire.NewMessage(wire.MessageHeader{
		Src:         syn.Header.Dst,
		Dst:         syn.Header.Src,
		Protocol:    wire.ProtocolSession,
		MessageCode: wire.SessionMsgRst,
		SessionID:   syn.Header.SessionID,
	}, payload)
	r.deliver(c, rst)
}

// broadcast sends msg to every registered client except the sender.
func (r *Router) broadcast(msg *wire.MessageBuffer, except wire.ClientID) {
	r.mu.RLock()
	targets := make([]*conn, 0, len(r.clients))
	for id, c := range r.clients {
		if id != except {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.deliver(c, msg)
	}
}

func (r *Router) deliver(c *conn, msg *wire.MessageBuffer) {
	if err := c.link.Send(msg); err != nil {
		r.drop(msg, "link_error")
		r.logger.Debug("delivery failed", "conn_id", c.link.ID(), "frame", msg, "error", err)
		r.kick(c, err)
		return
	}
	recordRouted(msg.Header.Protocol)
	if r.cfg.ProtocolLogger != nil {
		r.plog.Log(log.Event{
			Time:   time.Now(),
			Conn:   c.link.ID(),
			Dir:    log.Out,
			Layer:  log.LayerChannel,
			Kind:   log.KindTraffic,
			Role:   log.RoleRouter,
			Remote: c.link.RemoteAddr(),
			Header: log.HeaderOf(msg),
		})
	}
}

// reply sends an out-of-band client management response.
func (r *Router) reply(c *conn, code wire.MessageCode, body interface{ MarshalBinary() ([]byte, error) }) {
	payload, err := body.MarshalBinary()
	if err != nil {
		r.logger.Debug("encoding reply failed", "error", err)
		return
	}
	msg, err := wire.NewOutOfBand(code, payload)
	if err != nil {
		return
	}
	if err := c.link.Send(msg); err != nil {
		r.logger.Debug("reply failed", "conn_id", c.link.ID(), "error", err)
		r.kick(c, err)
	}
}

// kick drops a link that lost or could not take a frame. A client missing
// frames would otherwise see gaps in its session streams.
func (r *Router) kick(c *conn, cause error) {
	if errors.Is(cause, ErrClosed) {
		return
	}
	r.mu.Lock()
	_, attached := r.conns[c]
	delete(r.conns, c)
	r.mu.Unlock()
	if !attached {
		return
	}
	recordKicked()
	r.logger.Warn("dropping client link", "conn_id", c.link.ID(), "remote", c.link.RemoteAddr(), "error", cause)
	if a, ok := c.link.(interface{ abort() }); ok {
		a.abort()
	}
	_ = c.link.Close()
	r.unregister(c, cause.Error())
}

func (r *Router) drop(msg *wire.MessageBuffer, reason string) {
	recordDropped(reason)
	r.logger.Debug("frame dropped", "reason", reason, "frame", msg)
}

func (r *Router) logRegistration(c *conn, id wire.ClientID, from, to, reason string) {
	r.plog.Log(log.Event{
		Time:   time.Now(),
		Conn:   c.link.ID(),
		Layer:  log.LayerChannel,
		Kind:   log.KindState,
		Role:   log.RoleRouter,
		Remote: c.link.RemoteAddr(),
		Client: uint16(id),
		State:  &log.Transition{Entity: log.EntityRegistration, From: from, To: to, Reason: reason},
	})
}
