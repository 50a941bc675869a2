// Package wire defines the binary wire format of the devbus message bus.
//
// Every frame on the bus is a fixed 24-byte MessageHeader followed by at
// most MaxPayloadSize payload bytes. All multi-byte fields are encoded
// little-endian, independent of host layout.
//
// # Header Layout
//
//	offset  size  field
//	0       2     Src          ClientID
//	2       2     Dst          ClientID
//	4       1     Protocol
//	5       1     MessageCode
//	6       2     WindowSize   advisory receive capacity
//	8       4     PayloadSize
//	12      4     SessionID
//	16      8     Sequence     (ClientMetadata for out-of-session frames)
//
// # Addressing
//
// A ClientID carries a 3-bit router prefix and a 13-bit local id. The zero
// ClientID is the broadcast address. Protocols 224-255 are reserved for
// system protocols (session control, client management, transfer, URI and
// generic system messages).
//
// # Leaf Protocol Payloads
//
// Session control and client management payloads are fixed-width structs
// with explicit encoders. Leaf protocols (settings, driver control) encode
// their request and response bodies as CBOR with integer keys via Marshal,
// bounded by MaxPayloadSize.
package wire
