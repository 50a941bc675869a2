package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
)

// RegistrationState is the channel's standing on the bus.
type RegistrationState int

const (
	StateUnregistered RegistrationState = iota
	StateRegistering
	StateRegistered
)

// String returns the state name.
func (s RegistrationState) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistering:
		return "REGISTERING"
	case StateRegistered:
		return "REGISTERED"
	default:
		return "UNKNOWN"
	}
}

// Channel is a client's connection to the bus. It owns the transport,
// the registry of protocol servers and every open session.
//
// A channel is either cooperative, where the caller drives it with
// Update, or runs its own update goroutine (CreateInfo.BackgroundUpdate).
// Blocking calls on a cooperative channel pump Update themselves while
// they wait.
type Channel struct {
	cfg       Config
	transport transport.Transport
	logger    *slog.Logger
	plog      log.Logger

	// updateMu serializes update ticks and direct transport reads.
	updateMu sync.Mutex

	tickMu sync.Mutex
	tick   chan struct{}

	// mu guards registry and session state.
	mu            sync.Mutex
	state         RegistrationState
	clientID      wire.ClientID
	metadata      wire.ClientMetadata
	servers       map[wire.Protocol]ProtocolServer
	sessions      map[wire.SessionID]*Session
	nextSessionID wire.SessionID
	queries       []*discoveryQuery
	inbox         *transport.Inbox
	keepAlive     keepAliveState

	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

// New creates an unregistered channel over t.
func New(t transport.Transport, cfg Config) *Channel {
	cfg = cfg.withDefaults()
	return &Channel{
		cfg:       cfg,
		transport: t,
		logger:    cfg.Logger,
		plog:      log.OrNoop(cfg.ProtocolLogger),
		tick:      make(chan struct{}),
		metadata: wire.ClientMetadata{
			Component: cfg.Component,
			Status:    cfg.InitialStatus,
		},
		servers:  make(map[wire.Protocol]ProtocolServer),
		sessions: make(map[wire.SessionID]*Session),
	}
}

// Register connects the transport and obtains a ClientID from the router.
// On timeout the transport is disconnected, wire.ErrNotReady is returned
// and Register may be retried. Registering an already registered channel
// is a no-op.
func (c *Channel) Register(timeout time.Duration) error {
	if c.IsConnected() {
		return nil
	}
	// A background loop that saw the bus go away has exited; release it.
	c.stopBackground()

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateRegistered:
		c.mu.Unlock()
		return nil
	case StateRegistering:
		c.mu.Unlock()
		return wire.ErrNotReady
	}
	c.state = StateRegistering
	md := c.metadata
	c.mu.Unlock()

	clientID, err := c.connect(md, timeout)
	if err != nil {
		c.setState(StateUnregistered, err.Error())
		return err
	}

	c.mu.Lock()
	c.clientID = clientID
	c.inbox = transport.NewInbox(c.cfg.InboxSize)
	c.keepAlive.reset(time.Now())
	c.mu.Unlock()
	c.setState(StateRegistered, "")

	c.logger.Debug("channel registered", "client_id", clientID, "conn_id", c.transport.ID())

	if c.cfg.BackgroundUpdate {
		c.startBackground()
	}
	return nil
}

// connect performs the client management handshake. Caller holds updateMu.
func (c *Channel) connect(md wire.ClientMetadata, timeout time.Duration) (wire.ClientID, error) {
	deadline := deadlineFor(timeout)

	ctx := context.Background()
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := c.transport.Connect(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: connect: %w", wire.ErrNotReady, err)
		}
		return 0, fmt.Errorf("%w: connect: %w", wire.ErrUnavailable, err)
	}

	req := wire.ConnectRequest{Metadata: md, Description: c.cfg.Description}
	payload, _ := req.MarshalBinary()
	msg, err := wire.NewOutOfBand(wire.ClientMgmtConnectRequest, payload)
	if err != nil {
		_ = c.transport.Disconnect()
		return 0, err
	}
	if err := c.transport.WriteMessage(msg); err != nil {
		_ = c.transport.Disconnect()
		return 0, fmt.Errorf("%w: connect request: %w", wire.ErrUnavailable, err)
	}
	c.logControl(log.Out, log.OpConnect, nil)

	for {
		wait := remaining(deadline, timeout)
		if timeout >= 0 && wait == 0 {
			_ = c.transport.Disconnect()
			return 0, fmt.Errorf("%w: no connect response", wire.ErrNotReady)
		}
		in, err := c.transport.ReadMessage(wait)
		if errors.Is(err, wire.ErrNotReady) {
			continue
		}
		if err != nil {
			_ = c.transport.Disconnect()
			return 0, fmt.Errorf("%w: %w", wire.ErrUnavailable, err)
		}
		if wire.ValidateOutOfBand(&in.Header) != nil || in.Header.MessageCode != wire.ClientMgmtConnectResponse {
			c.logger.Debug("ignoring frame during registration", "frame", in)
			continue
		}

		var resp wire.ConnectResponse
		if err := resp.UnmarshalBinary(in.Payload); err != nil {
			_ = c.transport.Disconnect()
			return 0, err
		}
		c.logControl(log.In, log.OpConnect, &resp.Result)
		if resp.Result != wire.ResultSuccess {
			_ = c.transport.Disconnect()
			return 0, fmt.Errorf("router refused registration: %w", resp.Result.Err())
		}
		return resp.ClientID, nil
	}
}

// Unregister aborts every session, leaves the bus and disconnects the
// transport. Unregistering twice is a no-op.
func (c *Channel) Unregister() error {
	c.stopBackground()

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return nil
	}
	for _, s := range c.sessions {
		s.markAbort(wire.ResultAborted, true)
	}
	c.mu.Unlock()

	// Push the Rst frames out and fire the termination hooks.
	c.serviceSessions(time.Now())
	c.reap()

	payload, _ := wire.ClientIDPayload{ClientID: c.ClientID()}.MarshalBinary()
	if msg, err := wire.NewOutOfBand(wire.ClientMgmtDisconnectNotification, payload); err == nil {
		if err := c.transport.WriteMessage(msg); err != nil {
			c.logger.Debug("disconnect notification failed", "error", err)
		}
		c.logControl(log.Out, log.OpDisconnect, nil)
	}
	err := c.transport.Disconnect()

	c.mu.Lock()
	c.clientID = wire.BroadcastClientID
	c.queries = nil
	inbox := c.inbox
	c.mu.Unlock()
	inbox.Close(wire.ErrEndOfStream)

	c.setState(StateUnregistered, "unregistered")
	c.notifyTick()
	return err
}

// Send transmits an out-of-session message. It does not wait for the
// peer. System protocols are reserved for the bus itself.
func (c *Channel) Send(dst wire.ClientID, protocol wire.Protocol, code wire.MessageCode, md wire.ClientMetadata, payload []byte) error {
	if protocol.IsSystem() {
		return fmt.Errorf("%w: %w: %s", wire.ErrError, ErrReservedProtocol, protocol)
	}

	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return c.notConnected()
	}
	src := c.clientID
	c.mu.Unlock()

	h := wire.MessageHeader{
		Src:         src,
		Dst:         dst,
		Protocol:    protocol,
		MessageCode: code,
	}
	h.SetMetadata(md)
	msg, err := wire.NewMessage(h, payload)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Forward relays msg verbatim.
func (c *Channel) Forward(msg *wire.MessageBuffer) error {
	if !c.IsConnected() {
		return c.notConnected()
	}
	return c.write(msg)
}

// Receive returns the next out-of-session message addressed to this
// client. It returns wire.ErrNotReady when nothing arrives within timeout
// and wire.ErrEndOfStream once the bus is gone and the queue is drained.
func (c *Channel) Receive(timeout time.Duration) (*wire.MessageBuffer, error) {
	var msg *wire.MessageBuffer
	var recvErr error
	poll := func() bool {
		c.mu.Lock()
		inbox := c.inbox
		c.mu.Unlock()
		if inbox == nil {
			recvErr = c.notConnected()
			return true
		}
		msg, recvErr = inbox.Read(0)
		return !errors.Is(recvErr, wire.ErrNotReady)
	}
	if timeout == 0 {
		poll()
		return msg, recvErr
	}
	if err := c.wait(timeout, poll); err != nil {
		return nil, err
	}
	return msg, recvErr
}

// RegisterProtocolServer adds a server and advertises its protocol in the
// channel metadata.
func (c *Channel) RegisterProtocolServer(server ProtocolServer) error {
	p := server.Protocol()
	if p.IsSystem() {
		return fmt.Errorf("%w: %w: %s", wire.ErrError, ErrReservedProtocol, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[p]; ok {
		return fmt.Errorf("%w: %w: %s", wire.ErrError, ErrDuplicateProtocol, p)
	}
	c.servers[p] = server
	c.metadata.Protocols |= p.Flag()
	return nil
}

// UnregisterProtocolServer removes the server for protocol and aborts its
// sessions.
func (c *Channel) UnregisterProtocolServer(protocol wire.Protocol) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[protocol]; !ok {
		return fmt.Errorf("%w: %w: %s", wire.ErrError, ErrProtocolNotRegistered, protocol)
	}
	delete(c.servers, protocol)
	c.metadata.Protocols &^= protocol.Flag()
	for _, s := range c.sessions {
		if s.role == roleServer && s.protocol == protocol {
			s.markAbort(wire.ResultAborted, true)
		}
	}
	return nil
}

// GetProtocolServer returns the server registered for protocol.
func (c *Channel) GetProtocolServer(protocol wire.Protocol) (ProtocolServer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[protocol]
	return s, ok
}

// ClientID returns the id assigned at registration, or the broadcast id
// while unregistered.
func (c *Channel) ClientID() wire.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Metadata returns the metadata this client advertises.
func (c *Channel) Metadata() wire.ClientMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// SetStatusFlags sets bits in the advertised status.
func (c *Channel) SetStatusFlags(flags wire.StatusFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata.Status |= flags
}

// ClearStatusFlags clears bits in the advertised status.
func (c *Channel) ClearStatusFlags(flags wire.StatusFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata.Status &^= flags
}

// IsConnected reports whether the channel is registered.
func (c *Channel) IsConnected() bool {
	return c.State() == StateRegistered
}

// State returns the registration state.
func (c *Channel) State() RegistrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionCount returns the number of sessions not yet reaped.
func (c *Channel) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ConnectProtocolClient opens a session from client to the matching
// server on dst. It returns once the session is established or the
// handshake has failed; the wait is bounded by Config.ConnectTimeout.
func (c *Channel) ConnectProtocolClient(client ProtocolClient, dst wire.ClientID) error {
	p := client.Protocol()
	if p.IsSystem() {
		return fmt.Errorf("%w: %w: %s", wire.ErrError, ErrReservedProtocol, p)
	}
	minVersion, maxVersion := client.SupportedVersions()

	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return c.notConnected()
	}
	if len(c.sessions) >= c.cfg.MaxSessions {
		c.mu.Unlock()
		return wire.ErrInsufficientMemory
	}
	s := &Session{
		channel:      c,
		role:         roleClient,
		protocol:     p,
		localID:      c.allocSessionID(),
		remoteClient: dst,
		minVersion:   minVersion,
		maxVersion:   maxVersion,
		client:       client,
		state:        SessionSynSent,
		deadline:     time.Now().Add(c.cfg.ConnectTimeout),
	}
	c.sessions[s.localID] = s
	src := c.clientID
	c.mu.Unlock()
	c.logSessionState(s, SessionUnconnected, SessionSynSent, "")

	payload, _ := wire.SynPayload{
		MinVersion:     minVersion,
		Protocol:       p,
		SessionVersion: wire.SessionProtocolVersion,
		MaxVersion:     maxVersion,
	}.MarshalBinary()
	syn, _ := wire.NewMessage(wire.MessageHeader{
		Src:         src,
		Dst:         dst,
		Protocol:    wire.ProtocolSession,
		MessageCode: wire.SessionMsgSyn,
		WindowSize:  c.cfg.SessionWindow,
		SessionID:   s.localID,
	}, payload)
	if err := c.write(syn); err != nil {
		s.Abort(wire.ResultError)
		return err
	}

	settled := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return s.announced || s.terminated
	}
	// The session times itself out after ConnectTimeout; the extra
	// interval covers the tick that reaps it.
	if err := c.wait(c.cfg.ConnectTimeout+4*c.cfg.UpdateInterval, settled); err != nil {
		s.Abort(wire.ResultNotReady)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.announced && !s.state.terminal() {
		return nil
	}
	if s.result == wire.ResultSuccess {
		return ErrSessionClosed
	}
	return s.result.Err()
}

// Update runs one scheduling tick: it flushes outbound session data, reads
// and dispatches inbound frames for up to timeout, services every session
// and reaps the ones that ended. Cooperative channels must call Update
// regularly.
func (c *Channel) Update(timeout time.Duration) error {
	if c.cfg.BackgroundUpdate {
		return ErrBackgroundMode
	}
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	return c.update(timeout)
}

// wait polls cond until it reports true or timeout expires. A cooperative
// channel pumps update ticks while it waits unless another goroutine is
// already doing so, in which case it waits for that goroutine's tick.
func (c *Channel) wait(timeout time.Duration, cond func() bool) error {
	deadline := deadlineFor(timeout)
	for {
		if cond() {
			return nil
		}
		left := remaining(deadline, timeout)
		if timeout >= 0 && left == 0 {
			return wire.ErrNotReady
		}
		step := c.cfg.UpdateInterval
		if timeout >= 0 && left < step {
			step = left
		}

		if !c.cfg.BackgroundUpdate && c.updateMu.TryLock() {
			err := c.update(step)
			c.updateMu.Unlock()
			if err == nil {
				continue
			}
		}

		timer := time.NewTimer(step)
		select {
		case <-c.tickChan():
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (c *Channel) tickChan() <-chan struct{} {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	return c.tick
}

func (c *Channel) notifyTick() {
	c.tickMu.Lock()
	close(c.tick)
	c.tick = make(chan struct{})
	c.tickMu.Unlock()
}

func (c *Channel) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.bgCancel = cancel
	c.bgDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for ctx.Err() == nil {
			c.updateMu.Lock()
			err := c.update(c.cfg.UpdateInterval)
			c.updateMu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}

func (c *Channel) stopBackground() {
	c.mu.Lock()
	cancel, done := c.bgCancel, c.bgDone
	c.bgCancel, c.bgDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// allocSessionID returns an unused non-zero session id. Caller holds mu.
func (c *Channel) allocSessionID() wire.SessionID {
	for {
		c.nextSessionID++
		id := c.nextSessionID
		if id == wire.InvalidSessionID {
			continue
		}
		if _, used := c.sessions[id]; !used {
			return id
		}
	}
}

func (c *Channel) write(msg *wire.MessageBuffer) error {
	if err := c.transport.WriteMessage(msg); err != nil {
		c.logger.Debug("write failed", "frame", msg, "error", err)
		return fmt.Errorf("%w: %w", wire.ErrError, err)
	}
	return nil
}

func (c *Channel) notConnected() error {
	return fmt.Errorf("%w: %w", wire.ErrError, ErrNotConnected)
}

func (c *Channel) setState(to RegistrationState, reason string) {
	c.mu.Lock()
	from := c.state
	c.state = to
	id := c.clientID
	c.mu.Unlock()
	if from == to {
		return
	}
	c.trace(log.Event{
		Layer:  log.LayerChannel,
		Kind:   log.KindState,
		Client: uint16(id),
		State:  &log.Transition{Entity: log.EntityRegistration, From: from.String(), To: to.String(), Reason: reason},
	})
}

func (c *Channel) logSessionState(s *Session, from, to SessionState, reason string) {
	c.trace(log.Event{
		Layer: log.LayerSession,
		Kind:  log.KindState,
		State: &log.Transition{
			Entity:  log.EntitySession,
			From:    from.String(),
			To:      to.String(),
			Reason:  reason,
			Session: uint32(s.localID),
		},
	})
}

// logControl records a registration or discovery frame. result is set on
// answers from the router.
func (c *Channel) logControl(dir log.Direction, op log.Op, result *wire.Result) {
	c.trace(log.Event{
		Dir:     dir,
		Layer:   log.LayerChannel,
		Kind:    log.KindControl,
		Control: &log.Control{Op: op, Result: result},
	})
}

// trace stamps e with the time, connection and role before capture.
func (c *Channel) trace(e log.Event) {
	e.Time = time.Now()
	e.Conn = c.transport.ID()
	e.Role = log.RoleClient
	c.plog.Log(e)
}
