package bus

import (
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// ProtocolServer serves incoming sessions for one protocol.
//
// All hooks run on the channel's update goroutine, one session at a time.
// UpdateSession must not block: it advances the session's request/response
// state machine by at most one step and returns.
type ProtocolServer interface {
	// Protocol returns the protocol this server handles.
	Protocol() wire.Protocol

	// SupportedVersions returns the inclusive range of protocol versions.
	SupportedVersions() (min, max uint16)

	// AcceptSession decides whether to accept a new session. It must not
	// allocate per-session state.
	AcceptSession(s *Session) bool

	// SessionEstablished is called once after the handshake completes.
	SessionEstablished(s *Session)

	// UpdateSession advances the session by one step.
	UpdateSession(s *Session)

	// SessionTerminated is called exactly once when the session ends and
	// must release any per-session state.
	SessionTerminated(s *Session, reason wire.Result)
}

// ProtocolClient is the initiating side of a session.
type ProtocolClient interface {
	// Protocol returns the protocol this client speaks.
	Protocol() wire.Protocol

	// SupportedVersions returns the inclusive range of versions offered.
	SupportedVersions() (min, max uint16)

	// SessionEstablished is called once after the handshake completes.
	SessionEstablished(s *Session)

	// SessionTerminated is called exactly once when the session ends.
	SessionTerminated(s *Session, reason wire.Result)
}

// BaseClient implements the bookkeeping shared by protocol clients.
// Embed a *BaseClient and add protocol-specific request methods.
type BaseClient struct {
	protocol   wire.Protocol
	minVersion uint16
	maxVersion uint16

	mu      sync.Mutex
	session *Session
	reason  wire.Result
}

// NewBaseClient creates a BaseClient offering versions [minVersion, maxVersion].
func NewBaseClient(protocol wire.Protocol, minVersion, maxVersion uint16) *BaseClient {
	return &BaseClient{
		protocol:   protocol,
		minVersion: minVersion,
		maxVersion: maxVersion,
	}
}

// Protocol returns the client's protocol.
func (b *BaseClient) Protocol() wire.Protocol {
	return b.protocol
}

// SupportedVersions returns the offered version range.
func (b *BaseClient) SupportedVersions() (uint16, uint16) {
	return b.minVersion, b.maxVersion
}

// SessionEstablished records the session.
func (b *BaseClient) SessionEstablished(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = s
	b.reason = wire.ResultSuccess
}

// SessionTerminated forgets the session.
func (b *BaseClient) SessionTerminated(s *Session, reason wire.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == s {
		b.session = nil
	}
	b.reason = reason
}

// Session returns the established session, or nil.
func (b *BaseClient) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// IsConnected reports whether the client has a usable session.
func (b *BaseClient) IsConnected() bool {
	s := b.Session()
	return s != nil && s.State() == SessionEstablished
}

// LastResult returns the reason the previous session ended.
func (b *BaseClient) LastResult() wire.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Disconnect closes the session gracefully. It is a no-op when the client
// is not connected.
func (b *BaseClient) Disconnect() error {
	s := b.Session()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Transact sends one request payload and waits for one response payload.
func (b *BaseClient) Transact(request []byte, timeout time.Duration) ([]byte, error) {
	s := b.Session()
	if s == nil {
		return nil, ErrNotConnected
	}
	deadline := deadlineFor(timeout)
	if err := s.SendWait(request, timeout); err != nil {
		return nil, err
	}
	return s.Receive(remaining(deadline, timeout))
}

// deadlineFor converts a timeout into an absolute deadline; the zero time
// stands for "no deadline".
func deadlineFor(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// remaining returns the time left until deadline, preserving infinite
// timeouts.
func remaining(deadline time.Time, timeout time.Duration) time.Duration {
	if timeout < 0 {
		return InfiniteTimeout
	}
	left := time.Until(deadline)
	if left < 0 {
		return 0
	}
	return left
}
