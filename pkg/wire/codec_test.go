package wire

import (
	"bytes"
	"errors"
	"testing"
)

type samplePayload struct {
	B string `cbor:"2,keyasint"`
	A uint32 `cbor:"1,keyasint"`
}

func TestPayloadCodec(t *testing.T) {
	b1, err := EncodePayload(samplePayload{A: 7, B: "x"})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	b2, _ := EncodePayload(map[int]any{2: "x", 1: uint32(7)})
	if !bytes.Equal(b1, b2) {
		t.Errorf("encodings differ: %x vs %x", b1, b2)
	}

	var got samplePayload
	if err := DecodePayload(b1, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.A != 7 || got.B != "x" {
		t.Errorf("decoded %+v", got)
	}
}

func TestPayloadCodecLimits(t *testing.T) {
	_, err := EncodePayload(bytes.Repeat([]byte{1}, MaxPayloadSize))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized encode: %v", err)
	}

	var v samplePayload
	if err := DecodePayload([]byte{0xa1, 0x01}, &v); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("truncated map: %v", err)
	}
	if err := DecodePayload(make([]byte, MaxPayloadSize+1), &v); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("oversized decode: %v", err)
	}
}
