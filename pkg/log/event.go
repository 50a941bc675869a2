package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// Event is one record of a bus capture. Kind says which of the detail
// pointers is set. Keys are small integers to keep capture files compact.
type Event struct {
	Time   time.Time `cbor:"1,keyasint"`
	Conn   string    `cbor:"2,keyasint"`
	Dir    Direction `cbor:"3,keyasint"`
	Layer  Layer     `cbor:"4,keyasint"`
	Kind   Kind      `cbor:"5,keyasint"`
	Role   Role      `cbor:"6,keyasint,omitempty"`
	Remote string    `cbor:"7,keyasint,omitempty"`

	// Client is the ClientID of the capturing endpoint once registered.
	Client uint16 `cbor:"8,keyasint,omitempty"`

	Frame   *Frame      `cbor:"10,keyasint,omitempty"`
	Header  *Header     `cbor:"11,keyasint,omitempty"`
	State   *Transition `cbor:"12,keyasint,omitempty"`
	Control *Control    `cbor:"13,keyasint,omitempty"`
	Fault   *Fault      `cbor:"14,keyasint,omitempty"`
}

// Session returns the session the event belongs to: the SessionID of a
// session-protocol frame or of a session state transition.
func (e *Event) Session() (uint32, bool) {
	switch {
	case e.Header != nil && e.Header.InSession():
		return e.Header.Session, true
	case e.State != nil && e.State.Entity == EntitySession:
		return e.State.Session, true
	}
	return 0, false
}

// Label is a short name for what happened, e.g. "DATA", "CONNECT" or
// "REGISTRATION".
func (e *Event) Label() string {
	switch {
	case e.Header != nil:
		return e.Header.CodeName()
	case e.Frame != nil:
		return "FRAME"
	case e.State != nil:
		return e.State.Entity.String()
	case e.Control != nil:
		return e.Control.Op.String()
	case e.Fault != nil:
		return "FAULT"
	}
	return "?"
}

// Direction is the flow of a frame relative to the capturing endpoint.
type Direction uint8

const (
	In Direction = iota
	Out
)

// Layer is the part of the stack that produced the event.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerSession
	LayerChannel
)

// Kind classifies events.
type Kind uint8

const (
	KindTraffic Kind = iota
	KindControl
	KindState
	KindFault
)

// Role is the capturing endpoint's place on the bus.
type Role uint8

const (
	RoleClient Role = iota
	RoleRouter
)

// Entity is what a Transition applies to.
type Entity uint8

const (
	EntityConnection Entity = iota
	EntitySession
	EntityRegistration
)

// Op is a registration or discovery exchange.
type Op uint8

const (
	OpConnect Op = iota
	OpDisconnect
	OpKeepAlive
	OpStatus
	OpPing
	OpPong
)

var (
	directionNames = []string{"IN", "OUT"}
	layerNames     = []string{"TRANSPORT", "SESSION", "CHANNEL"}
	kindNames      = []string{"TRAFFIC", "CONTROL", "STATE", "FAULT"}
	roleNames      = []string{"CLIENT", "ROUTER"}
	entityNames    = []string{"CONNECTION", "SESSION", "REGISTRATION"}
	opNames        = []string{"CONNECT", "DISCONNECT", "KEEPALIVE", "STATUS", "PING", "PONG"}
)

func nameOf(names []string, i uint8) string {
	if int(i) < len(names) {
		return names[i]
	}
	return "UNKNOWN"
}

// lookup is the case-insensitive inverse of nameOf.
func lookup(what string, names []string, s string) (uint8, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("invalid %s %q (one of %s)", what, s, strings.ToLower(strings.Join(names, ", ")))
}

func (d Direction) String() string { return nameOf(directionNames, uint8(d)) }
func (l Layer) String() string     { return nameOf(layerNames, uint8(l)) }
func (k Kind) String() string      { return nameOf(kindNames, uint8(k)) }
func (r Role) String() string      { return nameOf(roleNames, uint8(r)) }
func (e Entity) String() string    { return nameOf(entityNames, uint8(e)) }
func (o Op) String() string        { return nameOf(opNames, uint8(o)) }

// ParseDirection parses "in" or "out".
func ParseDirection(s string) (Direction, error) {
	v, err := lookup("direction", directionNames, s)
	return Direction(v), err
}

// ParseLayer parses a layer name.
func ParseLayer(s string) (Layer, error) {
	v, err := lookup("layer", layerNames, s)
	return Layer(v), err
}

// ParseKind parses an event kind name.
func ParseKind(s string) (Kind, error) {
	v, err := lookup("kind", kindNames, s)
	return Kind(v), err
}

// Frame is a raw frame seen by a transport. Data holds at most the first
// bytes of large frames.
type Frame struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// Header is a decoded frame header.
type Header struct {
	Src     uint16 `cbor:"1,keyasint"`
	Dst     uint16 `cbor:"2,keyasint"`
	Proto   uint8  `cbor:"3,keyasint"`
	Code    uint8  `cbor:"4,keyasint"`
	Window  uint16 `cbor:"5,keyasint,omitempty"`
	Size    uint32 `cbor:"6,keyasint,omitempty"`
	Session uint32 `cbor:"7,keyasint,omitempty"`
	Seq     uint64 `cbor:"8,keyasint,omitempty"`
}

// HeaderOf captures the header of msg.
func HeaderOf(msg *wire.MessageBuffer) *Header {
	h := &msg.Header
	return &Header{
		Src:     uint16(h.Src),
		Dst:     uint16(h.Dst),
		Proto:   uint8(h.Protocol),
		Code:    uint8(h.MessageCode),
		Window:  h.WindowSize,
		Size:    h.PayloadSize,
		Session: uint32(h.SessionID),
		Seq:     h.Sequence,
	}
}

// Protocol returns the frame's protocol.
func (h *Header) Protocol() wire.Protocol {
	return wire.Protocol(h.Proto)
}

// InSession reports whether the frame belongs to the session protocol.
func (h *Header) InSession() bool {
	return h.Protocol() == wire.ProtocolSession
}

// OutOfBand reports whether the frame is a client management exchange
// with the router.
func (h *Header) OutOfBand() bool {
	return h.Protocol() == wire.ProtocolClientManagement
}

var (
	clientMgmtNames = map[wire.MessageCode]string{
		wire.ClientMgmtConnectRequest:         "CONNECT_REQUEST",
		wire.ClientMgmtConnectResponse:        "CONNECT_RESPONSE",
		wire.ClientMgmtDisconnectNotification: "DISCONNECT",
		wire.ClientMgmtDisconnectResponse:     "DISCONNECT_RESPONSE",
		wire.ClientMgmtQueryStatus:            "QUERY_STATUS",
		wire.ClientMgmtQueryStatusResponse:    "STATUS",
		wire.ClientMgmtKeepAlive:              "KEEPALIVE",
	}
	systemNames = map[wire.MessageCode]string{
		wire.SystemMsgPing:               "PING",
		wire.SystemMsgPong:               "PONG",
		wire.SystemMsgClientDisconnected: "CLIENT_DISCONNECTED",
	}
)

// CodeName names the message code of the bus's own protocols. Frames of
// client protocols are named protocol/code.
func (h *Header) CodeName() string {
	code := wire.MessageCode(h.Code)
	var name string
	switch h.Protocol() {
	case wire.ProtocolSession:
		if n := wire.SessionMessageName(code); n != "UNKNOWN" {
			name = n
		}
	case wire.ProtocolClientManagement:
		name = clientMgmtNames[code]
	case wire.ProtocolSystem:
		name = systemNames[code]
	}
	if name == "" {
		return fmt.Sprintf("%s/%d", h.Protocol(), code)
	}
	return name
}

// Transition is a state change of a connection, a registration or a
// session.
type Transition struct {
	Entity  Entity `cbor:"1,keyasint"`
	From    string `cbor:"2,keyasint,omitempty"`
	To      string `cbor:"3,keyasint"`
	Reason  string `cbor:"4,keyasint,omitempty"`
	Session uint32 `cbor:"5,keyasint,omitempty"`
}

// Control is one step of a registration or discovery exchange. Result is
// set on answers.
type Control struct {
	Op     Op           `cbor:"1,keyasint"`
	Result *wire.Result `cbor:"2,keyasint,omitempty"`
}

// Fault is an error observed at some layer.
type Fault struct {
	Layer  Layer        `cbor:"1,keyasint"`
	Text   string       `cbor:"2,keyasint"`
	Result *wire.Result `cbor:"3,keyasint,omitempty"`
	During string       `cbor:"4,keyasint,omitempty"`
}
