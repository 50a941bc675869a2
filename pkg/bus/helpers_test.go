package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/router"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()
	r := router.New(router.Config{Prefix: 1})
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestChannel(t *testing.T, r *router.Router, background bool) *Channel {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BackgroundUpdate = background
	cfg.Component = wire.ComponentTool
	ch := New(r.NewLocalTransport(), cfg)
	require.NoError(t, ch.Register(testTimeout))
	t.Cleanup(func() { ch.Unregister() })
	return ch
}

// pumpUntil drives a cooperative channel until cond holds.
func pumpUntil(t *testing.T, ch *Channel, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if !ch.cfg.BackgroundUpdate {
			_ = ch.Update(time.Millisecond)
		}
		return cond()
	}, testTimeout, time.Millisecond)
}

// echoServer returns every payload it receives. Per-session state lives
// in a SlotMap behind the session's data handle.
type echoServer struct {
	protocol wire.Protocol
	lo, hi   uint16
	reject   bool

	states SlotMap[*echoState]

	mu          sync.Mutex
	established int
	terminated  []wire.Result
}

type echoState struct {
	pending []byte
	holding bool
}

func newEchoServer(lo, hi uint16) *echoServer {
	return &echoServer{protocol: wire.ProtocolLogging, lo: lo, hi: hi}
}

func (e *echoServer) Protocol() wire.Protocol { return e.protocol }

func (e *echoServer) SupportedVersions() (uint16, uint16) { return e.lo, e.hi }

func (e *echoServer) AcceptSession(*Session) bool { return !e.reject }

func (e *echoServer) SessionEstablished(s *Session) {
	s.SetDataHandle(e.states.Insert(&echoState{}))
	e.mu.Lock()
	e.established++
	e.mu.Unlock()
}

func (e *echoServer) UpdateSession(s *Session) {
	st, ok := e.states.Get(s.DataHandle())
	if !ok {
		return
	}
	if !st.holding {
		p, err := s.Receive(0)
		if err != nil {
			if !errors.Is(err, wire.ErrNotReady) {
				s.Abort(wire.ResultOf(err))
			}
			return
		}
		st.pending, st.holding = p, true
	}
	if err := s.Send(st.pending); err == nil {
		st.pending, st.holding = nil, false
	}
}

func (e *echoServer) SessionTerminated(s *Session, reason wire.Result) {
	e.states.Remove(s.DataHandle())
	e.mu.Lock()
	e.terminated = append(e.terminated, reason)
	e.mu.Unlock()
}

func (e *echoServer) terminations() []wire.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wire.Result(nil), e.terminated...)
}

// testClient counts hook invocations on top of BaseClient.
type testClient struct {
	*BaseClient

	mu          sync.Mutex
	established int
	terminated  int
	reason      wire.Result
}

func newTestClient(lo, hi uint16) *testClient {
	return &testClient{BaseClient: NewBaseClient(wire.ProtocolLogging, lo, hi)}
}

func (c *testClient) SessionEstablished(s *Session) {
	c.BaseClient.SessionEstablished(s)
	c.mu.Lock()
	c.established++
	c.mu.Unlock()
}

func (c *testClient) SessionTerminated(s *Session, reason wire.Result) {
	c.BaseClient.SessionTerminated(s, reason)
	c.mu.Lock()
	c.terminated++
	c.reason = reason
	c.mu.Unlock()
}

func (c *testClient) counts() (established, terminated int, reason wire.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established, c.terminated, c.reason
}

// rawPeer speaks the wire protocol directly to exercise a channel's
// handling of frames a well-behaved channel never sends.
type rawPeer struct {
	t  *testing.T
	tr *router.LocalTransport
	id wire.ClientID
}

func newRawPeer(t *testing.T, r *router.Router) *rawPeer {
	t.Helper()
	tr := r.NewLocalTransport()
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { tr.Disconnect() })

	payload, _ := wire.ConnectRequest{Description: "raw"}.MarshalBinary()
	req, err := wire.NewOutOfBand(wire.ClientMgmtConnectRequest, payload)
	require.NoError(t, err)
	require.NoError(t, tr.WriteMessage(req))

	msg, err := tr.ReadMessage(testTimeout)
	require.NoError(t, err)
	var resp wire.ConnectResponse
	require.NoError(t, resp.UnmarshalBinary(msg.Payload))
	require.Equal(t, wire.ResultSuccess, resp.Result)
	return &rawPeer{t: t, tr: tr, id: resp.ClientID}
}

func (p *rawPeer) send(dst wire.ClientID, code wire.MessageCode, id wire.SessionID, seq uint64, payload []byte) {
	p.t.Helper()
	msg, err := wire.NewMessage(wire.MessageHeader{
		Src:         p.id,
		Dst:         dst,
		Protocol:    wire.ProtocolSession,
		MessageCode: code,
		WindowSize:  8,
		SessionID:   id,
		Sequence:    seq,
	}, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.tr.WriteMessage(msg))
}

// expect reads until a session frame with code arrives.
func (p *rawPeer) expect(code wire.MessageCode) *wire.MessageBuffer {
	p.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		msg, err := p.tr.ReadMessage(time.Until(deadline))
		if errors.Is(err, wire.ErrNotReady) {
			continue
		}
		require.NoError(p.t, err)
		if msg.Header.Protocol == wire.ProtocolSession && msg.Header.MessageCode == code {
			return msg
		}
	}
	p.t.Fatalf("no %s frame within %s", wire.SessionMessageName(code), testTimeout)
	return nil
}

// mockTransport is a testify mock of transport.Transport.
type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) Disconnect() error {
	return m.Called().Error(0)
}

func (m *mockTransport) ReadMessage(timeout time.Duration) (*wire.MessageBuffer, error) {
	args := m.Called(timeout)
	msg, _ := args.Get(0).(*wire.MessageBuffer)
	return msg, args.Error(1)
}

func (m *mockTransport) WriteMessage(msg *wire.MessageBuffer) error {
	return m.Called(msg).Error(0)
}

func (m *mockTransport) ID() string {
	return "mock"
}
