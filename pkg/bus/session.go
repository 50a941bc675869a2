package bus

import (
	"fmt"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	SessionUnconnected SessionState = iota
	SessionSynSent
	SessionEstablished
	SessionClosing
	SessionClosed
	SessionAborted
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionUnconnected:
		return "UNCONNECTED"
	case SessionSynSent:
		return "SYN_SENT"
	case SessionEstablished:
		return "ESTABLISHED"
	case SessionClosing:
		return "CLOSING"
	case SessionClosed:
		return "CLOSED"
	case SessionAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// terminal reports whether the session has ended.
func (s SessionState) terminal() bool {
	return s == SessionClosed || s == SessionAborted
}

type sessionRole int

const (
	roleClient sessionRole = iota
	roleServer
)

// Session is one end of a connection-oriented exchange between two
// clients for a single protocol.
//
// Send and Receive with a zero timeout never block and may be called from
// protocol server hooks. All methods are safe for concurrent use.
type Session struct {
	channel      *Channel
	role         sessionRole
	protocol     wire.Protocol
	localID      wire.SessionID
	remoteClient wire.ClientID
	minVersion   uint16
	maxVersion   uint16

	server ProtocolServer
	client ProtocolClient

	// Guarded by channel.mu.
	remoteID wire.SessionID
	version  uint16
	state    SessionState
	result   wire.Result
	data     Handle

	// Sequencing. nextSendSeq is the sequence of the next data frame;
	// expectRecvSeq the sequence the next inbound data frame must carry.
	nextSendSeq   uint64
	expectRecvSeq uint64
	peerAcked     uint64
	peerWindow    uint16
	consumedSeq   uint64
	ackedSeq      uint64

	sendQueue [][]byte
	recvQueue [][]byte

	closeRequested bool
	finSent        bool
	peerFin        bool
	abortResult    wire.Result
	abortPending   bool
	sendRst        bool
	deadline       time.Time
	announced      bool
	terminated     bool
}

// ID returns the local session id.
func (s *Session) ID() wire.SessionID {
	return s.localID
}

// Protocol returns the session's protocol.
func (s *Session) Protocol() wire.Protocol {
	return s.protocol
}

// RemoteClient returns the peer's ClientID.
func (s *Session) RemoteClient() wire.ClientID {
	return s.remoteClient
}

// RemoteID returns the peer's session id.
func (s *Session) RemoteID() wire.SessionID {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.remoteID
}

// Version returns the negotiated protocol version, or 0 before the
// handshake completes.
func (s *Session) Version() uint16 {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.version
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.state
}

// Result returns the termination reason once the session has ended.
func (s *Session) Result() wire.Result {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.result
}

// DataHandle returns the handle to protocol state attached to the session.
func (s *Session) DataHandle() Handle {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.data
}

// SetDataHandle attaches a handle to protocol state.
func (s *Session) SetDataHandle(h Handle) {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	s.data = h
}

// Send queues one payload for transmission. It never blocks: when the
// send queue is full it returns wire.ErrNotReady.
func (s *Session) Send(payload []byte) error {
	if len(payload) > wire.MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", wire.ErrPayloadTooLarge, len(payload), wire.MaxPayloadSize)
	}

	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case s.state.terminal():
		return s.endErr()
	case s.state != SessionEstablished || s.closeRequested || s.abortPending:
		if s.state == SessionSynSent {
			return wire.ErrNotReady
		}
		return ErrSessionClosed
	case len(s.sendQueue) >= int(c.cfg.SessionWindow):
		return wire.ErrNotReady
	}
	s.sendQueue = append(s.sendQueue, append([]byte(nil), payload...))
	return nil
}

// SendWait queues a payload, waiting up to timeout for queue space.
func (s *Session) SendWait(payload []byte, timeout time.Duration) error {
	var sendErr error
	err := s.channel.wait(timeout, func() bool {
		sendErr = s.Send(payload)
		return sendErr != wire.ErrNotReady
	})
	if err != nil {
		return err
	}
	return sendErr
}

// Receive returns the next payload. A zero timeout polls. Once the peer
// has closed and every queued payload has been read, Receive returns
// wire.ErrEndOfStream.
func (s *Session) Receive(timeout time.Duration) ([]byte, error) {
	var payload []byte
	var recvErr error
	poll := func() bool {
		payload, recvErr = s.tryReceive()
		return recvErr != wire.ErrNotReady
	}
	if timeout == 0 {
		poll()
		return payload, recvErr
	}
	if err := s.channel.wait(timeout, poll); err != nil {
		return nil, err
	}
	return payload, recvErr
}

func (s *Session) tryReceive() ([]byte, error) {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(s.recvQueue) > 0 {
		p := s.recvQueue[0]
		s.recvQueue[0] = nil
		s.recvQueue = s.recvQueue[1:]
		s.consumedSeq++
		return p, nil
	}
	if s.state.terminal() || s.peerFin {
		return nil, s.endErr()
	}
	return nil, wire.ErrNotReady
}

// endErr reports why no more data will flow. Caller holds mu.
func (s *Session) endErr() error {
	if s.state == SessionAborted && s.result != wire.ResultSuccess && s.result != wire.ResultEndOfStream {
		return fmt.Errorf("%w: session aborted: %w", wire.ErrEndOfStream, s.result.Err())
	}
	return wire.ErrEndOfStream
}

// Close requests a graceful close. Queued outbound data is flushed before
// the Fin is sent. Closing an already closing or ended session is a no-op.
func (s *Session) Close() error {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.state.terminal() || s.closeRequested || s.abortPending {
		return nil
	}
	if s.state == SessionSynSent || s.state == SessionUnconnected {
		s.markAbort(wire.ResultAborted, true)
		return nil
	}
	s.closeRequested = true
	return nil
}

// Abort ends the session immediately and tells the peer with a Rst.
func (s *Session) Abort(reason wire.Result) {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()
	s.markAbort(reason, true)
}

// markAbort schedules termination on the next tick. Caller holds mu.
func (s *Session) markAbort(reason wire.Result, notifyPeer bool) {
	if s.state.terminal() || s.abortPending {
		return
	}
	s.abortPending = true
	s.abortResult = reason
	s.sendRst = notifyPeer
}

// freeCapacity is the receive capacity advertised to the peer. Caller
// holds mu.
func (s *Session) freeCapacity() uint16 {
	window := int(s.channel.cfg.SessionWindow)
	if n := len(s.recvQueue); n < window {
		return uint16(window - n)
	}
	return 0
}

// String identifies the session in logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s session %d with %s", s.protocol, s.localID, s.remoteClient)
}

// begin sets up sequencing from the handshake's initial sequence. Caller
// holds mu.
func (s *Session) begin(seq uint64, peerWindow uint16) {
	s.nextSendSeq = seq + 1
	s.expectRecvSeq = seq + 1
	s.peerAcked = seq
	s.consumedSeq = seq
	s.ackedSeq = seq
	if peerWindow == 0 {
		peerWindow = s.channel.cfg.SessionWindow
	}
	s.peerWindow = peerWindow
}

// transition moves the session to state. Caller holds mu.
func (s *Session) transition(to SessionState, reason string) {
	from := s.state
	s.state = to
	s.channel.logSessionState(s, from, to, reason)
}

// frame builds a session frame addressed to the peer's session.
func (s *Session) frame(src wire.ClientID, code wire.MessageCode, seq uint64, window uint16, payload []byte) *wire.MessageBuffer {
	return &wire.MessageBuffer{
		Header: wire.MessageHeader{
			Src:         src,
			Dst:         s.remoteClient,
			Protocol:    wire.ProtocolSession,
			MessageCode: code,
			WindowSize:  window,
			PayloadSize: uint32(len(payload)),
			SessionID:   s.remoteID,
			Sequence:    seq,
		},
		Payload: payload,
	}
}

// service advances the session's transmit side and appends the frames to
// send. Caller holds mu.
func (s *Session) service(src wire.ClientID, now time.Time, out []*wire.MessageBuffer) []*wire.MessageBuffer {
	if s.state.terminal() {
		return out
	}
	cfg := &s.channel.cfg

	if s.abortPending {
		s.abortPending = false
		s.result = s.abortResult
		if s.sendRst && s.remoteID != wire.InvalidSessionID {
			payload, _ := wire.RstPayload{Result: s.result}.MarshalBinary()
			out = append(out, s.frame(src, wire.SessionMsgRst, 0, 0, payload))
		}
		s.sendQueue = nil
		s.recvQueue = nil
		s.transition(SessionAborted, s.result.String())
		return out
	}

	switch s.state {
	case SessionSynSent:
		if now.After(s.deadline) {
			s.result = wire.ResultNotReady
			s.transition(SessionAborted, "handshake timed out")
		}
		return out
	case SessionEstablished, SessionClosing:
	default:
		return out
	}

	for len(s.sendQueue) > 0 && s.nextSendSeq <= s.peerAcked+uint64(s.peerWindow) {
		out = append(out, s.frame(src, wire.SessionMsgData, s.nextSendSeq, s.freeCapacity(), s.sendQueue[0]))
		s.sendQueue[0] = nil
		s.sendQueue = s.sendQueue[1:]
		s.nextSendSeq++
	}

	// Acks carry the receive window measured from the acknowledged sequence.
	if s.consumedSeq > s.ackedSeq {
		out = append(out, s.frame(src, wire.SessionMsgAck, s.consumedSeq, cfg.SessionWindow, nil))
		s.ackedSeq = s.consumedSeq
	}

	// A server answers the peer's Fin only after it has read the requests
	// queued ahead of it.
	peerDone := s.peerFin && (s.role != roleServer || len(s.recvQueue) == 0)
	if (s.closeRequested || peerDone) && !s.finSent && len(s.sendQueue) == 0 {
		out = append(out, s.frame(src, wire.SessionMsgFin, s.nextSendSeq-1, s.freeCapacity(), nil))
		s.finSent = true
		if s.peerFin {
			s.result = wire.ResultSuccess
			s.transition(SessionClosed, "closed by peer")
		} else {
			s.deadline = now.Add(cfg.CloseTimeout)
			s.transition(SessionClosing, "")
		}
		return out
	}

	if s.state == SessionClosing && now.After(s.deadline) {
		payload, _ := wire.RstPayload{Result: wire.ResultAborted}.MarshalBinary()
		out = append(out, s.frame(src, wire.SessionMsgRst, 0, 0, payload))
		s.result = wire.ResultAborted
		s.transition(SessionAborted, "close timed out")
	}
	return out
}
