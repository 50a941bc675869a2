package wire

import "fmt"

// MessageBuffer is a complete frame: header plus payload. A frame is sent
// and received atomically.
type MessageBuffer struct {
	Header  MessageHeader
	Payload []byte
}

// NewMessage builds a frame with the given header fields and payload. The
// header's PayloadSize is set from payload.
func NewMessage(h MessageHeader, payload []byte) (*MessageBuffer, error) {
	msg := &MessageBuffer{Header: h}
	if err := msg.SetPayload(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// SetPayload replaces the payload and updates Header.PayloadSize.
func (m *MessageBuffer) SetPayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	m.Payload = payload
	m.Header.PayloadSize = uint32(len(payload))
	return nil
}

// Size returns the encoded frame size.
func (m *MessageBuffer) Size() int {
	return HeaderSize + len(m.Payload)
}

// Clone returns a deep copy of the frame.
func (m *MessageBuffer) Clone() *MessageBuffer {
	c := &MessageBuffer{Header: m.Header}
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return c
}

// MarshalBinary encodes the frame as header followed by payload.
func (m *MessageBuffer) MarshalBinary() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(m.Payload), MaxPayloadSize)
	}
	if int(m.Header.PayloadSize) != len(m.Payload) {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, have %d",
			ErrMalformedMessage, m.Header.PayloadSize, len(m.Payload))
	}
	b := make([]byte, m.Size())
	if err := m.Header.Encode(b); err != nil {
		return nil, err
	}
	copy(b[HeaderSize:], m.Payload)
	return b, nil
}

// UnmarshalBinary decodes a complete frame. It fails closed when the
// declared payload size disagrees with the data or exceeds the bus limit.
func (m *MessageBuffer) UnmarshalBinary(b []byte) error {
	if len(b) > MaxMessageSize {
		return fmt.Errorf("%w: frame is %d bytes, max %d", ErrMalformedMessage, len(b), MaxMessageSize)
	}
	var h MessageHeader
	if err := h.Decode(b); err != nil {
		return err
	}
	if h.PayloadSize > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds %d", ErrMalformedMessage, h.PayloadSize, MaxPayloadSize)
	}
	if int(h.PayloadSize) != len(b)-HeaderSize {
		return fmt.Errorf("%w: header declares %d payload bytes, have %d",
			ErrMalformedMessage, h.PayloadSize, len(b)-HeaderSize)
	}
	m.Header = h
	m.Payload = nil
	if h.PayloadSize > 0 {
		m.Payload = append([]byte(nil), b[HeaderSize:]...)
	}
	return nil
}

// String summarizes the frame for logs.
func (m *MessageBuffer) String() string {
	h := &m.Header
	return fmt.Sprintf("%s->%s %s code=%d session=%d seq=%d len=%d",
		h.Src, h.Dst, h.Protocol, h.MessageCode, h.SessionID, h.Sequence, h.PayloadSize)
}
