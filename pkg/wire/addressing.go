package wire

import "fmt"

// ClientID identifies a client on the bus.
//
// The top 3 bits select the router (routing domain) that owns the client;
// the low 13 bits are the client's id local to that router.
type ClientID uint16

const (
	// BroadcastClientID addresses every client on the bus.
	BroadcastClientID ClientID = 0

	// RouterPrefixMask selects the routing-domain bits of a ClientID.
	RouterPrefixMask ClientID = 0xE000

	// LocalIDMask selects the router-local bits of a ClientID.
	LocalIDMask ClientID = 0x1FFF

	// RouterPrefixShift is the bit offset of the router prefix.
	RouterPrefixShift = 13

	// MaxRouterPrefix is the largest router prefix that fits in a ClientID.
	MaxRouterPrefix = 7

	// MaxLocalID is the largest router-local client id.
	MaxLocalID = uint16(LocalIDMask)
)

// MakeClientID combines a router prefix and a local id.
func MakeClientID(prefix uint8, local uint16) ClientID {
	return ClientID(uint16(prefix&MaxRouterPrefix)<<RouterPrefixShift) | ClientID(local)&LocalIDMask
}

// RouterPrefix returns the routing-domain prefix.
func (id ClientID) RouterPrefix() uint8 {
	return uint8((id & RouterPrefixMask) >> RouterPrefixShift)
}

// LocalID returns the router-local part of the id.
func (id ClientID) LocalID() uint16 {
	return uint16(id & LocalIDMask)
}

// IsBroadcast reports whether id is the broadcast address.
func (id ClientID) IsBroadcast() bool {
	return id == BroadcastClientID
}

// String returns the id as "prefix:local".
func (id ClientID) String() string {
	if id.IsBroadcast() {
		return "broadcast"
	}
	return fmt.Sprintf("%d:%d", id.RouterPrefix(), id.LocalID())
}

// Protocol identifies the protocol a frame belongs to.
type Protocol uint8

// Client protocols.
const (
	ProtocolLogging       Protocol = 0
	ProtocolSettings      Protocol = 1
	ProtocolDriverControl Protocol = 2
	ProtocolRGP           Protocol = 3
	ProtocolETW           Protocol = 4
	ProtocolGPUCrashDump  Protocol = 5
	ProtocolEvent         Protocol = 6
)

// System protocols.
const (
	// FirstSystemProtocol is the first id of the reserved system band.
	FirstSystemProtocol Protocol = 224

	ProtocolTransfer         Protocol = 250
	ProtocolURI              Protocol = 251
	ProtocolSession          Protocol = 252
	ProtocolClientManagement Protocol = 253
	ProtocolSystem           Protocol = 254
)

// IsSystem reports whether p lies in the reserved system band.
func (p Protocol) IsSystem() bool {
	return p >= FirstSystemProtocol
}

// Flag returns the capability bit advertised in ClientMetadata for a
// client protocol, or 0 for protocols that have no capability bit.
func (p Protocol) Flag() ProtocolFlags {
	if p >= 16 {
		return 0
	}
	return ProtocolFlags(1) << p
}

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolLogging:
		return "LOGGING"
	case ProtocolSettings:
		return "SETTINGS"
	case ProtocolDriverControl:
		return "DRIVER_CONTROL"
	case ProtocolRGP:
		return "RGP"
	case ProtocolETW:
		return "ETW"
	case ProtocolGPUCrashDump:
		return "GPU_CRASH_DUMP"
	case ProtocolEvent:
		return "EVENT"
	case ProtocolTransfer:
		return "TRANSFER"
	case ProtocolURI:
		return "URI"
	case ProtocolSession:
		return "SESSION"
	case ProtocolClientManagement:
		return "CLIENT_MANAGEMENT"
	case ProtocolSystem:
		return "SYSTEM"
	default:
		return fmt.Sprintf("PROTOCOL_%d", uint8(p))
	}
}

// MessageCode identifies a message within a protocol.
type MessageCode uint8

// SessionID identifies a session on one side of a connection.
type SessionID uint32

// InvalidSessionID marks a frame or session that is not bound to a session.
const InvalidSessionID SessionID = 0

// BusProtocolVersion is carried in the Sequence field of out-of-band frames.
const BusProtocolVersion uint64 = 0x0104
