package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame size limits.
const (
	// HeaderSize is the encoded size of a MessageHeader.
	HeaderSize = 24

	// MaxMessageSize is the largest frame the bus carries, header included.
	MaxMessageSize = 1408

	// MaxPayloadSize is the largest payload a single frame can hold.
	MaxPayloadSize = MaxMessageSize - HeaderSize
)

// Header field offsets.
const (
	offSrc         = 0
	offDst         = 2
	offProtocol    = 4
	offMessageCode = 5
	offWindowSize  = 6
	offPayloadSize = 8
	offSessionID   = 12
	offSequence    = 16
)

// Wire format errors.
var (
	// ErrShortHeader indicates fewer than HeaderSize bytes were supplied.
	ErrShortHeader = errors.New("short message header")

	// ErrMalformedMessage indicates a frame whose declared sizes are
	// inconsistent or exceed the bus limits.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPayloadTooLarge indicates a payload larger than MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNotOutOfBand indicates a frame that fails the out-of-band checks.
	ErrNotOutOfBand = errors.New("not an out-of-band frame")
)

// MessageHeader is the fixed header that precedes every frame.
type MessageHeader struct {
	Src         ClientID
	Dst         ClientID
	Protocol    Protocol
	MessageCode MessageCode
	WindowSize  uint16
	PayloadSize uint32
	SessionID   SessionID
	Sequence    uint64
}

// Metadata interprets Sequence as the ClientMetadata carried by
// out-of-session frames.
func (h *MessageHeader) Metadata() ClientMetadata {
	return UnpackMetadata(h.Sequence)
}

// SetMetadata stores md in the Sequence field.
func (h *MessageHeader) SetMetadata(md ClientMetadata) {
	h.Sequence = md.Pack()
}

// Encode writes the header into b, which must hold at least HeaderSize bytes.
func (h *MessageHeader) Encode(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortHeader
	}
	binary.LittleEndian.PutUint16(b[offSrc:], uint16(h.Src))
	binary.LittleEndian.PutUint16(b[offDst:], uint16(h.Dst))
	b[offProtocol] = byte(h.Protocol)
	b[offMessageCode] = byte(h.MessageCode)
	binary.LittleEndian.PutUint16(b[offWindowSize:], h.WindowSize)
	binary.LittleEndian.PutUint32(b[offPayloadSize:], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[offSessionID:], uint32(h.SessionID))
	binary.LittleEndian.PutUint64(b[offSequence:], h.Sequence)
	return nil
}

// Decode reads the header from the first HeaderSize bytes of b.
func (h *MessageHeader) Decode(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortHeader
	}
	h.Src = ClientID(binary.LittleEndian.Uint16(b[offSrc:]))
	h.Dst = ClientID(binary.LittleEndian.Uint16(b[offDst:]))
	h.Protocol = Protocol(b[offProtocol])
	h.MessageCode = MessageCode(b[offMessageCode])
	h.WindowSize = binary.LittleEndian.Uint16(b[offWindowSize:])
	h.PayloadSize = binary.LittleEndian.Uint32(b[offPayloadSize:])
	h.SessionID = SessionID(binary.LittleEndian.Uint32(b[offSessionID:]))
	h.Sequence = binary.LittleEndian.Uint64(b[offSequence:])
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h MessageHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	if err := h.Encode(b); err != nil {
		return nil, err
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *MessageHeader) UnmarshalBinary(b []byte) error {
	if len(b) != HeaderSize {
		return fmt.Errorf("%w: header is %d bytes, want %d", ErrMalformedMessage, len(b), HeaderSize)
	}
	return h.Decode(b)
}

// IsOutOfBand reports whether h has the out-of-band address shape: both
// endpoints are the broadcast address.
func IsOutOfBand(h *MessageHeader) bool {
	return h.Src == BroadcastClientID && h.Dst == BroadcastClientID
}

// ValidateOutOfBand checks every out-of-band requirement. It is the only
// validation applied to frames exchanged before a client owns a ClientID.
func ValidateOutOfBand(h *MessageHeader) error {
	if !IsOutOfBand(h) {
		return fmt.Errorf("%w: src=%s dst=%s", ErrNotOutOfBand, h.Src, h.Dst)
	}
	if h.Sequence != BusProtocolVersion {
		return fmt.Errorf("%w: bus version %#x, want %#x", ErrNotOutOfBand, h.Sequence, BusProtocolVersion)
	}
	if h.Protocol != ProtocolClientManagement {
		return fmt.Errorf("%w: protocol %s", ErrNotOutOfBand, h.Protocol)
	}
	return nil
}
