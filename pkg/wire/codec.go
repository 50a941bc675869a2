package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Leaf protocol payloads are CBOR maps with integer keys. Encoding is
// canonical so equal requests produce equal bytes; decoding ignores
// repeated keys and accepts indefinite lengths from other encoders.
var payloadEnc, payloadDec = payloadModes()

func payloadModes() (cbor.EncMode, cbor.DecMode) {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic("wire: payload encoder: " + err.Error())
	}
	// A payload cannot hold more elements than it has bytes.
	dec, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxArrayElements: MaxPayloadSize,
		MaxMapPairs:      MaxPayloadSize,
	}.DecMode()
	if err != nil {
		panic("wire: payload decoder: " + err.Error())
	}
	return enc, dec
}

// EncodePayload encodes v for a single frame. An encoding longer than
// MaxPayloadSize fails with ErrPayloadTooLarge.
func EncodePayload(v any) ([]byte, error) {
	b, err := payloadEnc.Marshal(v)
	switch {
	case err != nil:
		return nil, fmt.Errorf("encode %T payload: %w", v, err)
	case len(b) > MaxPayloadSize:
		return nil, fmt.Errorf("%w: %T encodes to %d bytes", ErrPayloadTooLarge, v, len(b))
	}
	return b, nil
}

// DecodePayload decodes a frame payload into v. Any failure is reported as
// ErrMalformedMessage.
func DecodePayload(b []byte, v any) error {
	if len(b) > MaxPayloadSize {
		return fmt.Errorf("%w: %d byte payload", ErrMalformedMessage, len(b))
	}
	if err := payloadDec.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrMalformedMessage, v, err)
	}
	return nil
}
