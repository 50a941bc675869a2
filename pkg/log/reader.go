package log

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields select everything.
type Filter struct {
	// Conn matches connection ids by prefix, so the short form printed by
	// the viewer works.
	Conn string

	Dir   *Direction
	Layer *Layer
	Kind  *Kind

	// Since and Until bound the event time to [Since, Until).
	Since time.Time
	Until time.Time

	// Client matches the capturing client or either end of a frame.
	Client *wire.ClientID

	// Protocol, Code and Session select frames. Session also selects
	// session state transitions.
	Protocol *wire.Protocol
	Code     *wire.MessageCode
	Session  *uint32
}

// Matches reports whether event passes every set criterion.
func (f *Filter) Matches(e Event) bool {
	if f.Conn != "" && !strings.HasPrefix(e.Conn, f.Conn) {
		return false
	}
	if f.Dir != nil && e.Dir != *f.Dir ||
		f.Layer != nil && e.Layer != *f.Layer ||
		f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) || !f.Until.IsZero() && !e.Time.Before(f.Until) {
		return false
	}
	if f.Client != nil && !involves(e, uint16(*f.Client)) {
		return false
	}
	if f.Protocol != nil || f.Code != nil {
		h := e.Header
		if h == nil ||
			f.Protocol != nil && h.Protocol() != *f.Protocol ||
			f.Code != nil && wire.MessageCode(h.Code) != *f.Code {
			return false
		}
	}
	if f.Session != nil {
		id, ok := e.Session()
		if !ok || id != *f.Session {
			return false
		}
	}
	return true
}

func involves(e Event, id uint16) bool {
	if e.Client == id {
		return true
	}
	return e.Header != nil && (e.Header.Src == id || e.Header.Dst == id)
}

// Reader streams events from a capture file.
type Reader struct {
	f      *os.File
	dec    *cbor.Decoder
	filter Filter
}

// OpenCapture opens the capture at path. Only events passing filter are
// returned.
func OpenCapture(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, dec: newStreamDecoder(f), filter: filter}, nil
}

// Next returns the next selected event, or io.EOF at the end. A file cut
// short inside an event, as left by a crashed writer, also ends in
// io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		err := r.dec.Decode(&e)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.Matches(e):
			return e, nil
		}
	}
}

// Each calls fn for every remaining selected event.
func (r *Reader) Each(fn func(Event) error) error {
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.f.Close()
}
