package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// CaptureFrameBytes caps how much of a frame's encoding goes into a
// capture event.
const CaptureFrameBytes = 256

// ErrFrameTruncated is returned when the stream ends inside a frame.
var ErrFrameTruncated = errors.New("frame truncated")

// Framer moves bus frames over a byte stream. A frame on the stream is its
// fixed-size header followed by exactly PayloadSize payload bytes, so no
// length prefix or delimiter is needed.
//
// ReadFrame must be called from one goroutine; WriteFrame may be called
// from many.
type Framer struct {
	r   io.Reader
	hdr [wire.HeaderSize]byte

	w   io.Writer
	wmu sync.Mutex

	tap *tap
}

// NewFramer returns a framer reading from and writing to rw.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{r: rw, w: rw}
}

// SetLogger captures every frame read or written to logger, tagged with
// connID. Call it before the framer is in use; nil turns capture off.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.tap = newTap(logger, connID)
}

// WriteFrame encodes msg and hands it to the writer in one Write, so
// frames from concurrent callers never interleave.
func (f *Framer) WriteFrame(msg *wire.MessageBuffer) error {
	raw, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	f.wmu.Lock()
	_, err = f.w.Write(raw)
	f.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	f.tap.record(log.Out, raw, msg)
	return nil
}

// ReadFrame returns the next frame. A stream ending between frames yields
// io.EOF, one ending inside a frame ErrFrameTruncated. A header announcing
// more than MaxPayloadSize bytes is rejected before anything is allocated.
func (f *Framer) ReadFrame() (*wire.MessageBuffer, error) {
	if err := f.fill(f.hdr[:], true); err != nil {
		return nil, err
	}
	msg := &wire.MessageBuffer{}
	if err := msg.Header.Decode(f.hdr[:]); err != nil {
		return nil, err
	}
	if n := msg.Header.PayloadSize; n > wire.MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d",
			wire.ErrMalformedMessage, n, wire.MaxPayloadSize)
	}
	if n := msg.Header.PayloadSize; n > 0 {
		msg.Payload = make([]byte, n)
		if err := f.fill(msg.Payload, false); err != nil {
			return nil, err
		}
	}
	if f.tap != nil {
		raw := make([]byte, 0, wire.HeaderSize+len(msg.Payload))
		raw = append(append(raw, f.hdr[:]...), msg.Payload...)
		f.tap.record(log.In, raw, msg)
	}
	return msg, nil
}

// fill reads exactly len(buf) bytes. Only at a frame boundary is a clean
// end of stream reported as io.EOF.
func (f *Framer) fill(buf []byte, boundary bool) error {
	_, err := io.ReadFull(f.r, buf)
	switch {
	case err == nil:
		return nil
	case err == io.EOF && boundary:
		return io.EOF
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFrameTruncated
	}
	return fmt.Errorf("failed to read frame: %w", err)
}

// tap copies frames into a capture. A nil tap records nothing.
type tap struct {
	logger log.Logger
	conn   string
}

func newTap(logger log.Logger, conn string) *tap {
	if logger == nil {
		return nil
	}
	return &tap{logger: logger, conn: conn}
}

func (t *tap) record(dir log.Direction, raw []byte, msg *wire.MessageBuffer) {
	if t == nil {
		return
	}
	frame := &log.Frame{Size: len(raw), Data: raw}
	if len(raw) > CaptureFrameBytes {
		frame.Data, frame.Truncated = raw[:CaptureFrameBytes], true
	}
	t.logger.Log(log.Event{
		Time:   time.Now(),
		Conn:   t.conn,
		Dir:    dir,
		Layer:  log.LayerTransport,
		Kind:   log.KindTraffic,
		Frame:  frame,
		Header: log.HeaderOf(msg),
	})
}
