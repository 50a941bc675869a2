package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Client management message codes (Protocol == ProtocolClientManagement).
// Every client management frame is out-of-band.
const (
	ClientMgmtConnectRequest         MessageCode = 1
	ClientMgmtConnectResponse        MessageCode = 2
	ClientMgmtDisconnectNotification MessageCode = 3
	ClientMgmtDisconnectResponse     MessageCode = 4
	ClientMgmtQueryStatus            MessageCode = 5
	ClientMgmtQueryStatusResponse    MessageCode = 6
	ClientMgmtKeepAlive              MessageCode = 7
)

// MaxDescriptionSize bounds the client description sent at registration.
const MaxDescriptionSize = 128

// NewOutOfBand returns a client management frame with the out-of-band
// address shape.
func NewOutOfBand(code MessageCode, payload []byte) (*MessageBuffer, error) {
	return NewMessage(MessageHeader{
		Src:         BroadcastClientID,
		Dst:         BroadcastClientID,
		Protocol:    ProtocolClientManagement,
		MessageCode: code,
		Sequence:    BusProtocolVersion,
	}, payload)
}

func truncateDescription(desc string) string {
	if len(desc) <= MaxDescriptionSize {
		return desc
	}
	n := MaxDescriptionSize
	for n > 0 && !utf8.RuneStart(desc[n]) {
		n--
	}
	return desc[:n]
}

// ConnectRequest asks the router for a ClientID.
type ConnectRequest struct {
	Metadata    ClientMetadata
	Description string
}

// MarshalBinary encodes the request. Descriptions longer than
// MaxDescriptionSize are cut at the last whole character that fits.
func (r ConnectRequest) MarshalBinary() ([]byte, error) {
	desc := truncateDescription(r.Description)
	b := make([]byte, 10+len(desc))
	binary.LittleEndian.PutUint64(b[0:], r.Metadata.Pack())
	binary.LittleEndian.PutUint16(b[8:], uint16(len(desc)))
	copy(b[10:], desc)
	return b, nil
}

// UnmarshalBinary decodes the request.
func (r *ConnectRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 10 {
		return fmt.Errorf("%w: connect request is %d bytes", ErrMalformedMessage, len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[8:]))
	if n > MaxDescriptionSize || len(b) != 10+n {
		return fmt.Errorf("%w: connect request description length %d", ErrMalformedMessage, n)
	}
	r.Metadata = UnpackMetadata(binary.LittleEndian.Uint64(b[0:]))
	r.Description = string(b[10:])
	return nil
}

// ConnectResponse carries the assigned ClientID.
type ConnectResponse struct {
	Result   Result
	ClientID ClientID
}

// MarshalBinary encodes the response in its fixed 8-byte layout.
func (r ConnectResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], uint32(r.Result))
	binary.LittleEndian.PutUint16(b[4:], uint16(r.ClientID))
	return b, nil
}

// UnmarshalBinary decodes the fixed 8-byte layout.
func (r *ConnectResponse) UnmarshalBinary(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("%w: connect response is %d bytes", ErrMalformedMessage, len(b))
	}
	r.Result = Result(binary.LittleEndian.Uint32(b[0:]))
	r.ClientID = ClientID(binary.LittleEndian.Uint16(b[4:]))
	return nil
}

// ClientIDPayload names a single client. It is the body of disconnect
// notifications and of the system ClientDisconnected broadcast.
type ClientIDPayload struct {
	ClientID ClientID
}

// MarshalBinary encodes the payload in its fixed 4-byte layout.
func (p ClientIDPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, uint16(p.ClientID))
	return b, nil
}

// UnmarshalBinary decodes the fixed 4-byte layout.
func (p *ClientIDPayload) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("%w: client id payload is %d bytes", ErrMalformedMessage, len(b))
	}
	p.ClientID = ClientID(binary.LittleEndian.Uint16(b))
	return nil
}

// StatusResponse reports router state to a client.
type StatusResponse struct {
	Result       Result
	NumClients   uint16
	RouterPrefix uint8
}

// MarshalBinary encodes the response in its fixed 8-byte layout.
func (r StatusResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], uint32(r.Result))
	binary.LittleEndian.PutUint16(b[4:], r.NumClients)
	b[6] = r.RouterPrefix
	return b, nil
}

// UnmarshalBinary decodes the fixed 8-byte layout.
func (r *StatusResponse) UnmarshalBinary(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("%w: status response is %d bytes", ErrMalformedMessage, len(b))
	}
	r.Result = Result(binary.LittleEndian.Uint32(b[0:]))
	r.NumClients = binary.LittleEndian.Uint16(b[4:])
	r.RouterPrefix = b[6]
	return nil
}

// ResultPayload carries a bare Result.
type ResultPayload struct {
	Result Result
}

// MarshalBinary encodes the payload in its fixed 4-byte layout.
func (p ResultPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(p.Result))
	return b, nil
}

// UnmarshalBinary decodes the fixed 4-byte layout.
func (p *ResultPayload) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("%w: result payload is %d bytes", ErrMalformedMessage, len(b))
	}
	p.Result = Result(binary.LittleEndian.Uint32(b))
	return nil
}

// System message codes (Protocol == ProtocolSystem).
const (
	// SystemMsgPing is a discovery query; its header carries the filter
	// metadata.
	SystemMsgPing MessageCode = 1

	// SystemMsgPong answers a Ping; its header carries the responder's
	// metadata.
	SystemMsgPong MessageCode = 2

	// SystemMsgClientDisconnected is broadcast by the router when a client
	// leaves the bus.
	SystemMsgClientDisconnected MessageCode = 3
)
