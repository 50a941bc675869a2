package log

import (
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

func TestFilterSelectsBusTraffic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := uint16(wire.MakeClientID(1, 1))
	b := uint16(wire.MakeClientID(1, 2))
	proto := func(p wire.Protocol) uint8 { return uint8(p) }

	path := writeCapture(t,
		Event{Time: t0, Conn: "aaaa-1", Dir: In, Layer: LayerSession, Kind: KindTraffic, Client: a,
			Header: &Header{Src: b, Dst: a, Proto: proto(wire.ProtocolSession), Code: uint8(wire.SessionMsgData), Session: 5, Seq: 2}},
		Event{Time: t0.Add(time.Second), Conn: "aaaa-1", Dir: Out, Layer: LayerSession, Kind: KindState, Client: a,
			State: &Transition{Entity: EntitySession, From: "ESTABLISHED", To: "CLOSED", Session: 5}},
		Event{Time: t0.Add(2 * time.Second), Conn: "bbbb-2", Dir: In, Layer: LayerChannel, Kind: KindTraffic,
			Header: &Header{Proto: proto(wire.ProtocolClientManagement), Code: uint8(wire.ClientMgmtKeepAlive)}},
		Event{Time: t0.Add(3 * time.Second), Conn: "bbbb-2", Dir: Out, Layer: LayerChannel, Kind: KindControl,
			Control: &Control{Op: OpPing}},
	)

	in, ch := In, LayerChannel
	control := KindControl
	client := wire.ClientID(b)
	session := uint32(5)
	mgmt := wire.ProtocolClientManagement
	keepAlive := wire.ClientMgmtKeepAlive

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"everything", Filter{}, 4},
		{"connection prefix", Filter{Conn: "aaaa"}, 2},
		{"direction", Filter{Dir: &in}, 2},
		{"layer", Filter{Layer: &ch}, 2},
		{"kind", Filter{Kind: &control}, 1},
		{"frame peer", Filter{Client: &client}, 1},
		{"session frames and states", Filter{Session: &session}, 2},
		{"out-of-band code", Filter{Protocol: &mgmt, Code: &keepAlive}, 1},
		{"since", Filter{Since: t0.Add(time.Second)}, 3},
		{"until", Filter{Until: t0.Add(time.Second)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countEvents(t, path, tt.filter); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestEnumNamesRoundTrip(t *testing.T) {
	for _, s := range []string{"in", "OUT"} {
		if _, err := ParseDirection(s); err != nil {
			t.Errorf("ParseDirection(%q): %v", s, err)
		}
	}
	l, err := ParseLayer("Session")
	if err != nil || l != LayerSession {
		t.Errorf("ParseLayer = %v, %v", l, err)
	}
	if _, err := ParseKind("snapshot"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
	if Layer(9).String() != "UNKNOWN" || OpPong.String() != "PONG" || EntityRegistration.String() != "REGISTRATION" {
		t.Error("unexpected enum names")
	}
}

func TestHeaderCodeNames(t *testing.T) {
	tests := []struct {
		p    wire.Protocol
		code wire.MessageCode
		want string
	}{
		{wire.ProtocolSession, wire.SessionMsgSynAck, "SYNACK"},
		{wire.ProtocolSession, 77, "SESSION/77"},
		{wire.ProtocolClientManagement, wire.ClientMgmtConnectRequest, "CONNECT_REQUEST"},
		{wire.ProtocolSystem, wire.SystemMsgClientDisconnected, "CLIENT_DISCONNECTED"},
		{wire.ProtocolSettings, 3, "SETTINGS/3"},
	}
	for _, tt := range tests {
		h := &Header{Proto: uint8(tt.p), Code: uint8(tt.code)}
		if got := h.CodeName(); got != tt.want {
			t.Errorf("CodeName(%s, %d) = %q, want %q", tt.p, tt.code, got, tt.want)
		}
	}
}
