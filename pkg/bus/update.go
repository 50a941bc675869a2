package bus

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// update runs one tick. Caller holds updateMu.
func (c *Channel) update(timeout time.Duration) error {
	defer c.notifyTick()
	if !c.IsConnected() {
		return c.notConnected()
	}

	c.serviceSessions(time.Now())

	if err := c.readFrames(timeout); err != nil {
		c.loseBus(err)
		return nil
	}

	c.updateServers()

	now := time.Now()
	c.serviceSessions(now)
	c.serviceQueries(now)
	if err := c.serviceKeepAlive(now); err != nil {
		c.loseBus(err)
		return nil
	}
	c.reap()
	return nil
}

// readFrames dispatches inbound frames. Only the first read waits. A
// non-nil error means the bus is gone.
func (c *Channel) readFrames(timeout time.Duration) error {
	for n := 0; n < c.cfg.MaxFramesPerUpdate; n++ {
		wait := time.Duration(0)
		if n == 0 {
			wait = timeout
		}
		msg, err := c.transport.ReadMessage(wait)
		if errors.Is(err, wire.ErrNotReady) {
			return nil
		}
		if err != nil {
			return err
		}
		c.markAlive()
		c.dispatch(msg)
	}
	return nil
}

func (c *Channel) dispatch(msg *wire.MessageBuffer) {
	switch p := msg.Header.Protocol; {
	case p == wire.ProtocolClientManagement:
		c.handleClientManagement(msg)
	case p == wire.ProtocolSession:
		c.handleSessionFrame(msg)
	case p == wire.ProtocolSystem:
		c.handleSystem(msg)
	case p.IsSystem():
		c.logger.Debug("dropping frame for unsupported system protocol", "frame", msg)
	default:
		c.deliver(msg)
	}
}

// deliver queues an out-of-session frame for Receive if it is addressed to
// this client or is a broadcast whose filter this client satisfies.
func (c *Channel) deliver(msg *wire.MessageBuffer) {
	c.mu.Lock()
	me, md, inbox := c.clientID, c.metadata, c.inbox
	c.mu.Unlock()

	h := &msg.Header
	switch {
	case h.Dst == me:
	case h.Dst.IsBroadcast() && wire.Matches(h.Metadata(), md):
	default:
		return
	}
	if !inbox.TryPush(msg) {
		c.logger.Warn("receive queue full, dropping frame", "frame", msg)
	}
}

func (c *Channel) handleClientManagement(msg *wire.MessageBuffer) {
	if err := wire.ValidateOutOfBand(&msg.Header); err != nil {
		c.logger.Debug("dropping client management frame", "error", err)
		return
	}
	switch msg.Header.MessageCode {
	case wire.ClientMgmtKeepAlive:
		// Any inbound frame already counts as an answer.
	case wire.ClientMgmtDisconnectNotification:
		c.logger.Info("router closed the connection")
		c.markBusLost()
	case wire.ClientMgmtQueryStatusResponse:
		var status wire.StatusResponse
		if err := status.UnmarshalBinary(msg.Payload); err == nil {
			c.logger.Debug("router status", "clients", status.NumClients, "prefix", status.RouterPrefix)
		}
	default:
		c.logger.Debug("ignoring client management frame", "frame", msg)
	}
}

func (c *Channel) handleSystem(msg *wire.MessageBuffer) {
	h := &msg.Header
	switch h.MessageCode {
	case wire.SystemMsgPing:
		c.answerPing(h)
	case wire.SystemMsgPong:
		c.completeQueries(h.Src, h.Metadata())
	case wire.SystemMsgClientDisconnected:
		var gone wire.ClientIDPayload
		if err := gone.UnmarshalBinary(msg.Payload); err != nil {
			c.logger.Debug("malformed disconnect broadcast", "error", err)
			return
		}
		c.mu.Lock()
		for _, s := range c.sessions {
			if s.remoteClient == gone.ClientID {
				s.markAbort(wire.ResultEndOfStream, false)
			}
		}
		c.mu.Unlock()
	}
}

func (c *Channel) handleSessionFrame(msg *wire.MessageBuffer) {
	if msg.Header.Dst != c.ClientID() {
		c.logger.Debug("dropping session frame for another client", "frame", msg)
		return
	}
	switch msg.Header.MessageCode {
	case wire.SessionMsgSyn:
		c.handleSyn(msg)
	case wire.SessionMsgSynAck:
		c.handleSynAck(msg)
	default:
		c.handleSessionTraffic(msg)
	}
}

func (c *Channel) handleSyn(msg *wire.MessageBuffer) {
	h := msg.Header

	var syn wire.SynPayload
	if err := syn.UnmarshalBinary(msg.Payload); err != nil {
		c.sendRst(h.Src, h.SessionID, wire.ResultError)
		return
	}

	c.mu.Lock()
	for _, s := range c.sessions {
		if s.role == roleServer && s.remoteClient == h.Src && s.remoteID == h.SessionID {
			c.mu.Unlock()
			c.logger.Debug("ignoring duplicate SYN", "session", s)
			return
		}
	}
	server := c.servers[syn.Protocol]
	full := len(c.sessions) >= c.cfg.MaxSessions
	c.mu.Unlock()

	if server == nil {
		c.sendRst(h.Src, h.SessionID, wire.ResultUnavailable)
		return
	}
	lo, hi := server.SupportedVersions()
	version, ok := wire.NegotiateVersion(syn.MinVersion, syn.MaxVersion, lo, hi)
	if !ok {
		c.logger.Debug("no common protocol version", "protocol", syn.Protocol,
			"offered_min", syn.MinVersion, "offered_max", syn.MaxVersion, "min", lo, "max", hi)
		c.sendRst(h.Src, h.SessionID, wire.ResultVersionMismatch)
		return
	}
	if full {
		c.sendRst(h.Src, h.SessionID, wire.ResultRejected)
		return
	}

	s := &Session{
		channel:      c,
		role:         roleServer,
		protocol:     syn.Protocol,
		remoteClient: h.Src,
		remoteID:     h.SessionID,
		minVersion:   lo,
		maxVersion:   hi,
		server:       server,
		version:      version,
	}
	if !server.AcceptSession(s) {
		c.sendRst(h.Src, h.SessionID, wire.ResultRejected)
		return
	}

	seq := uint64(rand.Uint32())
	c.mu.Lock()
	s.localID = c.allocSessionID()
	s.begin(seq, h.WindowSize)
	c.sessions[s.localID] = s
	s.transition(SessionEstablished, "")
	src := c.clientID
	c.mu.Unlock()

	payload, _ := wire.SynAckPayload{
		Sequence:         seq,
		InitialSessionID: s.localID,
		Version:          version,
		SessionVersion:   wire.SessionProtocolVersion,
	}.MarshalBinary()
	synAck, _ := wire.NewMessage(wire.MessageHeader{
		Src:         src,
		Dst:         h.Src,
		Protocol:    wire.ProtocolSession,
		MessageCode: wire.SessionMsgSynAck,
		WindowSize:  c.cfg.SessionWindow,
		SessionID:   h.SessionID,
	}, payload)
	if err := c.write(synAck); err != nil {
		// The peer never learns of the session. It ends here and reap
		// reports it to the server once.
		c.mu.Lock()
		s.markAbort(wire.ResultError, true)
		c.mu.Unlock()
		return
	}

	server.SessionEstablished(s)
	c.mu.Lock()
	s.announced = true
	c.mu.Unlock()
}

func (c *Channel) handleSynAck(msg *wire.MessageBuffer) {
	h := msg.Header

	var ack wire.SynAckPayload
	decodeErr := ack.UnmarshalBinary(msg.Payload)

	c.mu.Lock()
	s := c.sessions[h.SessionID]
	if s == nil || s.role != roleClient {
		c.mu.Unlock()
		if decodeErr == nil {
			c.sendRst(h.Src, ack.InitialSessionID, wire.ResultAborted)
		}
		return
	}
	if s.state != SessionSynSent || s.abortPending {
		c.mu.Unlock()
		return
	}
	if h.Src != s.remoteClient {
		s.markAbort(wire.ResultAborted, false)
		c.mu.Unlock()
		return
	}
	if decodeErr != nil {
		s.markAbort(wire.ResultError, false)
		c.mu.Unlock()
		return
	}
	s.remoteID = ack.InitialSessionID
	if ack.Version < s.minVersion || ack.Version > s.maxVersion {
		s.markAbort(wire.ResultVersionMismatch, true)
		c.mu.Unlock()
		return
	}
	s.version = ack.Version
	s.begin(ack.Sequence, h.WindowSize)
	s.transition(SessionEstablished, "")
	client := s.client
	c.mu.Unlock()

	client.SessionEstablished(s)
	c.mu.Lock()
	s.announced = true
	c.mu.Unlock()
}

// handleSessionTraffic processes Data, Ack, Fin and Rst frames.
func (c *Channel) handleSessionTraffic(msg *wire.MessageBuffer) {
	h := &msg.Header

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[h.SessionID]
	if s == nil {
		c.logger.Debug("dropping frame for unknown session", "frame", msg)
		return
	}
	if s.state.terminal() || s.abortPending {
		return
	}
	if h.Src != s.remoteClient {
		c.logger.Debug("session frame from wrong peer", "session", s, "src", h.Src)
		s.markAbort(wire.ResultAborted, true)
		return
	}
	open := s.state == SessionEstablished || s.state == SessionClosing

	switch h.MessageCode {
	case wire.SessionMsgRst:
		var rst wire.RstPayload
		result := wire.ResultError
		if err := rst.UnmarshalBinary(msg.Payload); err == nil {
			result = rst.Result
		}
		if result == wire.ResultSuccess {
			result = wire.ResultAborted
		}
		s.markAbort(result, false)

	case wire.SessionMsgData:
		switch {
		case !open || s.peerFin:
			s.markAbort(wire.ResultError, true)
		case h.Sequence != s.expectRecvSeq:
			c.logger.Debug("session sequence error", "session", s, "got", h.Sequence, "want", s.expectRecvSeq)
			s.markAbort(wire.ResultError, true)
		case len(s.recvQueue) >= int(c.cfg.SessionWindow):
			s.markAbort(wire.ResultInsufficientMemory, true)
		default:
			s.recvQueue = append(s.recvQueue, msg.Payload)
			s.expectRecvSeq++
		}

	case wire.SessionMsgAck:
		switch {
		case !open:
		case h.Sequence >= s.nextSendSeq:
			s.markAbort(wire.ResultError, true)
		case h.Sequence >= s.peerAcked:
			s.peerAcked = h.Sequence
			s.peerWindow = h.WindowSize
		}

	case wire.SessionMsgFin:
		switch {
		case !open || s.peerFin:
			s.markAbort(wire.ResultError, true)
		case h.Sequence != s.expectRecvSeq-1:
			s.markAbort(wire.ResultError, true)
		default:
			s.peerFin = true
			if s.finSent {
				s.result = wire.ResultSuccess
				s.transition(SessionClosed, "")
			}
		}

	default:
		s.markAbort(wire.ResultError, true)
	}
}

// updateServers gives every established server session one step. A
// session the peer has finished keeps getting steps until the server has
// read everything that arrived before the Fin.
func (c *Channel) updateServers() {
	c.mu.Lock()
	var active []*Session
	for _, s := range c.sessions {
		if s.role != roleServer || !s.announced || s.state != SessionEstablished || s.abortPending {
			continue
		}
		if !s.peerFin || len(s.recvQueue) > 0 {
			active = append(active, s)
		}
	}
	c.mu.Unlock()

	for _, s := range active {
		s.server.UpdateSession(s)
	}
}

// serviceSessions flushes queued data, acks and close handshakes and
// applies pending aborts and timeouts.
func (c *Channel) serviceSessions(now time.Time) {
	c.mu.Lock()
	src := c.clientID
	var out []*wire.MessageBuffer
	for _, s := range c.sessions {
		out = s.service(src, now, out)
	}
	c.mu.Unlock()

	for _, msg := range out {
		_ = c.write(msg)
	}
}

// reap removes ended sessions and fires their termination hooks, exactly
// once per session.
func (c *Channel) reap() {
	type ended struct {
		s      *Session
		reason wire.Result
	}
	c.mu.Lock()
	var done []ended
	for id, s := range c.sessions {
		if s.state.terminal() && !s.terminated {
			s.terminated = true
			delete(c.sessions, id)
			done = append(done, ended{s, s.result})
		}
	}
	c.mu.Unlock()

	for _, e := range done {
		switch {
		case e.s.server != nil:
			e.s.server.SessionTerminated(e.s, e.reason)
		case e.s.client != nil:
			e.s.client.SessionTerminated(e.s, e.reason)
		}
	}
}

func (c *Channel) sendRst(dst wire.ClientID, id wire.SessionID, result wire.Result) {
	payload, _ := wire.RstPayload{Result: result}.MarshalBinary()
	msg, _ := wire.NewMessage(wire.MessageHeader{
		Src:         c.ClientID(),
		Dst:         dst,
		Protocol:    wire.ProtocolSession,
		MessageCode: wire.SessionMsgRst,
		SessionID:   id,
	}, payload)
	_ = c.write(msg)
}

// markBusLost schedules a bus loss for the end of the current dispatch.
func (c *Channel) markBusLost() {
	c.mu.Lock()
	c.keepAlive.lost = true
	c.mu.Unlock()
}

// loseBus ends every session with EndOfStream and returns the channel to
// the unregistered state. Caller holds updateMu.
func (c *Channel) loseBus(cause error) {
	c.logger.Info("bus connection lost", "error", cause)

	c.mu.Lock()
	for _, s := range c.sessions {
		s.markAbort(wire.ResultEndOfStream, false)
	}
	inbox := c.inbox
	c.mu.Unlock()

	c.serviceSessions(time.Now())
	c.reap()
	_ = c.transport.Disconnect()
	inbox.Close(wire.ErrEndOfStream)

	c.mu.Lock()
	c.clientID = wire.BroadcastClientID
	c.queries = nil
	c.mu.Unlock()
	c.setState(StateUnregistered, cause.Error())
}
