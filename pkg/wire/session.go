package wire

import (
	"encoding/binary"
	"fmt"
)

// Session control message codes (Protocol == ProtocolSession).
const (
	SessionMsgUnknown MessageCode = 0
	SessionMsgSyn     MessageCode = 1
	SessionMsgSynAck  MessageCode = 2
	SessionMsgFin     MessageCode = 3
	SessionMsgData    MessageCode = 4
	SessionMsgAck     MessageCode = 5
	SessionMsgRst     MessageCode = 6
)

// SessionMessageName returns the name of a session control message code.
func SessionMessageName(code MessageCode) string {
	switch code {
	case SessionMsgSyn:
		return "SYN"
	case SessionMsgSynAck:
		return "SYNACK"
	case SessionMsgFin:
		return "FIN"
	case SessionMsgData:
		return "DATA"
	case SessionMsgAck:
		return "ACK"
	case SessionMsgRst:
		return "RST"
	default:
		return "UNKNOWN"
	}
}

// SessionProtocolVersion is the version of the session layer itself.
const SessionProtocolVersion uint8 = 2

// Encoded payload sizes.
const (
	SynPayloadSize    = 8
	SynAckPayloadSize = 16
	RstPayloadSize    = 4
)

// SynPayload opens a session and offers a range of protocol versions.
type SynPayload struct {
	MinVersion     uint16
	Protocol       Protocol
	SessionVersion uint8
	MaxVersion     uint16
}

// MarshalBinary encodes the payload in its fixed 8-byte layout.
func (p SynPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, SynPayloadSize)
	binary.LittleEndian.PutUint16(b[0:], p.MinVersion)
	b[2] = byte(p.Protocol)
	b[3] = p.SessionVersion
	binary.LittleEndian.PutUint16(b[4:], p.MaxVersion)
	return b, nil
}

// UnmarshalBinary decodes the fixed 8-byte layout.
func (p *SynPayload) UnmarshalBinary(b []byte) error {
	if len(b) != SynPayloadSize {
		return fmt.Errorf("%w: SYN payload is %d bytes, want %d", ErrMalformedMessage, len(b), SynPayloadSize)
	}
	p.MinVersion = binary.LittleEndian.Uint16(b[0:])
	p.Protocol = Protocol(b[2])
	p.SessionVersion = b[3]
	p.MaxVersion = binary.LittleEndian.Uint16(b[4:])
	return nil
}

// SynAckPayload accepts a session and reports the negotiated version.
type SynAckPayload struct {
	Sequence         uint64
	InitialSessionID SessionID
	Version          uint16
	SessionVersion   uint8
}

// MarshalBinary encodes the payload in its fixed 16-byte layout.
func (p SynAckPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, SynAckPayloadSize)
	binary.LittleEndian.PutUint64(b[0:], p.Sequence)
	binary.LittleEndian.PutUint32(b[8:], uint32(p.InitialSessionID))
	binary.LittleEndian.PutUint16(b[12:], p.Version)
	b[14] = p.SessionVersion
	return b, nil
}

// UnmarshalBinary decodes the fixed 16-byte layout.
func (p *SynAckPayload) UnmarshalBinary(b []byte) error {
	if len(b) != SynAckPayloadSize {
		return fmt.Errorf("%w: SYNACK payload is %d bytes, want %d", ErrMalformedMessage, len(b), SynAckPayloadSize)
	}
	p.Sequence = binary.LittleEndian.Uint64(b[0:])
	p.InitialSessionID = SessionID(binary.LittleEndian.Uint32(b[8:]))
	p.Version = binary.LittleEndian.Uint16(b[12:])
	p.SessionVersion = b[14]
	return nil
}

// RstPayload aborts a session with a reason.
type RstPayload struct {
	Result Result
}

// MarshalBinary encodes the payload in its fixed 4-byte layout.
func (p RstPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, RstPayloadSize)
	binary.LittleEndian.PutUint32(b, uint32(p.Result))
	return b, nil
}

// UnmarshalBinary decodes the fixed 4-byte layout.
func (p *RstPayload) UnmarshalBinary(b []byte) error {
	if len(b) != RstPayloadSize {
		return fmt.Errorf("%w: RST payload is %d bytes, want %d", ErrMalformedMessage, len(b), RstPayloadSize)
	}
	p.Result = Result(binary.LittleEndian.Uint32(b))
	return nil
}

// NegotiateVersion intersects the offered range [clientMin, clientMax]
// with the supported range [serverMin, serverMax] and returns the highest
// common version. ok is false when the ranges do not overlap.
func NegotiateVersion(clientMin, clientMax, serverMin, serverMax uint16) (version uint16, ok bool) {
	lo := max(clientMin, serverMin)
	hi := min(clientMax, serverMax)
	if lo > hi {
		return 0, false
	}
	return hi, true
}
