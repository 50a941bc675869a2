package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

func TestRunFilterCopiesSelection(t *testing.T) {
	path := writeCapture(t,
		sessionFrame(log.Out, wire.SessionMsgData, 1, 1, 4, 0),
		sessionFrame(log.In, wire.SessionMsgData, 1, 1, 4, 1),
		sessionFrame(log.Out, wire.SessionMsgData, 2, 1, 4, 2),
		keepAlive(),
	)
	out := filepath.Join(t.TempDir(), "out.dlog")
	dir := log.Out
	session := uint32(1)

	n, err := RunFilter(path, out, log.Filter{Dir: &dir, Session: &session})
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if n != 1 {
		t.Errorf("wrote %d events, want 1", n)
	}
	s, err := Summarize(out, log.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Events != 1 || s.Flows[Endpoint{Client: tool, Session: 1}] == nil {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunFilterByTime(t *testing.T) {
	path := writeCapture(t,
		sessionFrame(log.Out, wire.SessionMsgData, 1, 1, 4, 0),
		sessionFrame(log.Out, wire.SessionMsgData, 1, 2, 4, 2000),
	)
	f, err := ViewFilter{Since: testTime.Add(time.Second).Format(time.RFC3339Nano)}.Build()
	if err != nil {
		t.Fatal(err)
	}
	n, err := RunFilter(path, filepath.Join(t.TempDir(), "late.dlog"), f)
	if err != nil || n != 1 {
		t.Errorf("RunFilter = %d, %v; want 1 event", n, err)
	}
}

func TestRunFilterMissingInput(t *testing.T) {
	if _, err := RunFilter("missing.dlog", filepath.Join(t.TempDir(), "x.dlog"), log.Filter{}); err == nil {
		t.Error("expected an error")
	}
}
