package log

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// writeCapture creates a capture holding events.
func writeCapture(t *testing.T, events ...Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bus.dlog")
	c, err := CreateCapture(path)
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	for _, e := range events {
		c.Log(e)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func countEvents(t *testing.T, path string, filter Filter) int {
	t.Helper()
	r, err := OpenCapture(path, filter)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer r.Close()
	n := 0
	if err := r.Each(func(Event) error { n++; return nil }); err != nil {
		t.Fatalf("Each: %v", err)
	}
	return n
}

func TestCaptureKeepsSessionFields(t *testing.T) {
	msg, _ := wire.NewMessage(wire.MessageHeader{
		Src:         wire.MakeClientID(0, 3),
		Dst:         wire.MakeClientID(0, 4),
		Protocol:    wire.ProtocolSession,
		MessageCode: wire.SessionMsgData,
		WindowSize:  12,
		SessionID:   9,
		Sequence:    17,
	}, []byte{1, 2, 3})
	path := writeCapture(t, Event{Time: time.Now(), Conn: "c1", Kind: KindTraffic, Header: HeaderOf(msg)})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	h := e.Header
	if h == nil || h.Session != 9 || h.Seq != 17 || h.Window != 12 || h.Size != 3 {
		t.Fatalf("header = %+v", h)
	}
	if id, ok := e.Session(); !ok || id != 9 {
		t.Errorf("Session() = %d, %v", id, ok)
	}
	if e.Label() != "DATA" {
		t.Errorf("Label() = %q", e.Label())
	}
}

func TestCaptureAppendsAcrossOpens(t *testing.T) {
	path := writeCapture(t, Event{Conn: "first"})
	c, err := CreateCapture(path)
	if err != nil {
		t.Fatal(err)
	}
	c.Log(Event{Conn: "second"})
	c.Close()

	if n := countEvents(t, path, Filter{}); n != 2 {
		t.Errorf("got %d events, want 2", n)
	}
}

func TestCaptureIgnoresEventsAfterClose(t *testing.T) {
	c, err := CreateCapture(filepath.Join(t.TempDir(), "x.dlog"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	c.Log(Event{})
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Errorf("Flush after Close: %v", err)
	}
}

func TestCaptureFromManyGoroutines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.dlog")
	c, err := CreateCapture(path)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				c.Log(Event{Time: time.Now(), Client: uint16(g), Kind: KindState,
					State: &Transition{Entity: EntitySession, To: "ESTABLISHED", Session: uint32(i)}})
			}
		}(g)
	}
	wg.Wait()
	c.Close()

	if n := countEvents(t, path, Filter{}); n != 240 {
		t.Errorf("got %d events, want 240", n)
	}
	if c.Dropped() != 0 {
		t.Errorf("dropped %d", c.Dropped())
	}
}

func TestOpenCaptureMissing(t *testing.T) {
	if _, err := OpenCapture(filepath.Join(t.TempDir(), "none.dlog"), Filter{}); err == nil {
		t.Error("expected an error")
	}
}

func TestReaderStopsAtTruncatedTail(t *testing.T) {
	path := writeCapture(t, Event{Conn: "a"}, Event{Conn: "b"})
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-2], 0o644); err != nil {
		t.Fatal(err)
	}
	if n := countEvents(t, path, Filter{}); n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}
