package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/rs/zerolog"
)

type recorder []Event

func (r *recorder) Log(e Event) { *r = append(*r, e) }

func jsonLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("bad log line %q: %v", b, err)
	}
	return m
}

func TestSlogAdapterTracesSessionFrame(t *testing.T) {
	var buf bytes.Buffer
	a := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	a.Log(Event{
		Conn:   "c",
		Dir:    Out,
		Layer:  LayerSession,
		Client: 7,
		Header: &Header{Src: 7, Dst: 9, Proto: uint8(wire.ProtocolSession), Code: uint8(wire.SessionMsgAck), Session: 3, Seq: 11, Window: 30},
	})

	m := jsonLine(t, buf.Bytes())
	if m["what"] != "ACK" || m["dir"] != "OUT" || m["protocol"] != "SESSION" {
		t.Errorf("entry = %v", m)
	}
	if m["seq"] != float64(11) || m["window"] != float64(30) || m["client"] != float64(7) {
		t.Errorf("entry = %v", m)
	}
}

func TestZerologAdapterTracesTransition(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(zerolog.New(&buf).Level(zerolog.DebugLevel))
	a.Log(Event{
		Kind:  KindState,
		State: &Transition{Entity: EntitySession, From: "SYN_SENT", To: "ABORTED", Reason: "VERSION_MISMATCH", Session: 4},
	})

	m := jsonLine(t, buf.Bytes())
	if m["to"] != "ABORTED" || m["reason"] != "VERSION_MISMATCH" || m["what"] != "SESSION" {
		t.Errorf("entry = %v", m)
	}
	if m["message"] != "bus" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestZerologAdapterBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	NewZerologAdapter(zerolog.New(&buf).Level(zerolog.InfoLevel)).Log(Event{Frame: &Frame{Size: 24}})
	if buf.Len() != 0 {
		t.Errorf("wrote %q at info level", buf.String())
	}
}

func TestControlFieldsCarryResult(t *testing.T) {
	res := wire.ResultInsufficientMemory
	e := Event{Kind: KindControl, Control: &Control{Op: OpConnect, Result: &res}}
	kv := e.Fields()
	found := false
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "result" && kv[i+1] == res.String() {
			found = true
		}
	}
	if !found {
		t.Errorf("fields = %v", kv)
	}
}

func TestTee(t *testing.T) {
	var a, b recorder
	if Tee() != nil || Tee(nil) != nil {
		t.Error("Tee of nothing should be nil")
	}
	if Tee(&a, nil) != Logger(&a) {
		t.Error("Tee of one logger should return it")
	}
	Tee(&a, nil, &b).Log(Event{Conn: "x"})
	if len(a) != 1 || len(b) != 1 || b[0].Conn != "x" {
		t.Errorf("a = %v, b = %v", a, b)
	}
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) is not NoopLogger")
	}
}
