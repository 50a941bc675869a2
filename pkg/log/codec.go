package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Captures use deterministic CBOR with RFC 3339 nanosecond timestamps,
// so two runs logging the same events produce the same bytes.
var encMode, decMode = captureModes()

func captureModes() (cbor.EncMode, cbor.DecMode) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		panic("log: capture encoder: " + err.Error())
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyQuiet}.DecMode()
	if err != nil {
		panic("log: capture decoder: " + err.Error())
	}
	return em, dm
}

// EncodeEvent returns the capture encoding of event.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := decMode.Unmarshal(data, &event)
	return event, err
}

func newStreamDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
