package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

func testMessage(t *testing.T, payload []byte) *wire.MessageBuffer {
	t.Helper()
	msg, err := wire.NewMessage(wire.MessageHeader{
		Src:         wire.MakeClientID(0, 1),
		Dst:         wire.MakeClientID(0, 2),
		Protocol:    wire.ProtocolSettings,
		MessageCode: 3,
		Sequence:    99,
	}, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	return msg
}

func TestFramerCarriesFrames(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"header only", nil},
		{"small payload", []byte("hello")},
		{"max payload", bytes.Repeat([]byte("y"), wire.MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			msg := testMessage(t, tt.payload)

			if err := NewFramer(buf).WriteFrame(msg); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != wire.HeaderSize+len(tt.payload) {
				t.Errorf("frame size = %d, want %d", buf.Len(), wire.HeaderSize+len(tt.payload))
			}

			got, err := NewFramer(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if got.Header != msg.Header {
				t.Errorf("header = %+v, want %+v", got.Header, msg.Header)
			}
			if !bytes.Equal(got.Payload, msg.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(msg.Payload))
			}
		})
	}
}

func TestFramerBackToBackFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	for i := 0; i < 3; i++ {
		if err := f.WriteFrame(testMessage(t, []byte{byte(i)})); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		msg, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if msg.Payload[0] != byte(i) {
			t.Errorf("frame %d payload = %d", i, msg.Payload[0])
		}
	}
	if _, err := f.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFramerRejectsOversizedPayload(t *testing.T) {
	h := wire.MessageHeader{PayloadSize: wire.MaxPayloadSize + 1}
	b, _ := h.MarshalBinary()
	_, err := NewFramer(bytes.NewBuffer(b)).ReadFrame()
	if !errors.Is(err, wire.ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestFramerTruncatedStream(t *testing.T) {
	buf := new(bytes.Buffer)
	NewFramer(buf).WriteFrame(testMessage(t, []byte("payload")))
	data := buf.Bytes()

	t.Run("inside header", func(t *testing.T) {
		_, err := NewFramer(bytes.NewBuffer(data[:10])).ReadFrame()
		if !errors.Is(err, ErrFrameTruncated) {
			t.Errorf("expected ErrFrameTruncated, got %v", err)
		}
	})
	t.Run("inside payload", func(t *testing.T) {
		_, err := NewFramer(bytes.NewBuffer(data[:wire.HeaderSize+3])).ReadFrame()
		if !errors.Is(err, ErrFrameTruncated) {
			t.Errorf("expected ErrFrameTruncated, got %v", err)
		}
	})
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) Events() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

func TestFramerCapturesFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &captureLogger{}
	f := NewFramer(buf)
	f.SetLogger(logger, "conn-1")

	if err := f.WriteFrame(testMessage(t, bytes.Repeat([]byte("z"), 600))); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Dir != log.Out || events[1].Dir != log.In {
		t.Errorf("directions = %s, %s", events[0].Dir, events[1].Dir)
	}
	for _, e := range events {
		if e.Conn != "conn-1" || e.Kind != log.KindTraffic {
			t.Errorf("event = %+v", e)
		}
		if e.Frame == nil || e.Frame.Size != wire.HeaderSize+600 || !e.Frame.Truncated {
			t.Fatalf("Frame = %+v", e.Frame)
		}
		if len(e.Frame.Data) != CaptureFrameBytes {
			t.Errorf("captured %d bytes, want %d", len(e.Frame.Data), CaptureFrameBytes)
		}
		if e.Header == nil || e.Header.Seq != 99 || e.Header.Size != 600 {
			t.Errorf("Header = %+v", e.Header)
		}
	}
}

func TestFramerWithoutLoggerCapturesNothing(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	f.SetLogger(nil, "conn-2")
	if err := f.WriteFrame(testMessage(t, nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatal(err)
	}
}
