package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

var (
	testTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	driver   = wire.MakeClientID(0, 1)
	tool     = wire.MakeClientID(0, 2)
)

const testConn = "abc12345-6789-0123-4567-890abcdef012"

func writeCapture(t *testing.T, events ...log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dlog")
	c, err := log.CreateCapture(path)
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

// sessionFrame is a session frame from driver to tool seen on driver's
// transport, at offset ms after testTime.
func sessionFrame(dir log.Direction, code wire.MessageCode, session uint32, seq uint64, size uint32, ms int) log.Event {
	return log.Event{
		Time:   testTime.Add(time.Duration(ms) * time.Millisecond),
		Conn:   testConn,
		Dir:    dir,
		Layer:  log.LayerTransport,
		Kind:   log.KindTraffic,
		Client: uint16(driver),
		Header: &log.Header{
			Src:     uint16(driver),
			Dst:     uint16(tool),
			Proto:   uint8(wire.ProtocolSession),
			Code:    uint8(code),
			Window:  32,
			Size:    size,
			Session: session,
			Seq:     seq,
		},
	}
}

func TestExportJSONL(t *testing.T) {
	path := writeCapture(t,
		sessionFrame(log.Out, wire.SessionMsgData, 3, 7, 12, 0),
		sessionFrame(log.Out, wire.SessionMsgData, 4, 8, 12, 1),
	)

	var buf bytes.Buffer
	if err := RunExport(path, FormatJSONL, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var e log.Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("line 2 is not an event: %v", err)
	}
	if e.Header == nil || e.Header.Session != 4 || e.Conn != testConn {
		t.Errorf("event = %+v", e)
	}
}

func TestExportCSV(t *testing.T) {
	res := wire.ResultRejected
	path := writeCapture(t,
		sessionFrame(log.In, wire.SessionMsgAck, 3, 7, 0, 0),
		log.Event{Time: testTime, Conn: testConn, Kind: log.KindControl, Control: &log.Control{Op: log.OpConnect, Result: &res}},
	)

	var buf bytes.Buffer
	if err := RunExport(path, FormatCSV, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("bad csv: %v", err)
	}
	if len(rows) != 3 || len(rows[0]) != len(csvColumns) {
		t.Fatalf("rows = %v", rows)
	}
	ack := rows[1]
	if ack[2] != "IN" || ack[5] != "ACK" || ack[10] != "3" || ack[11] != "7" || ack[12] != "32" {
		t.Errorf("ack row = %v", ack)
	}
	if ctl := rows[2]; ctl[5] != "CONNECT" || ctl[14] != res.String() {
		t.Errorf("control row = %v", ctl)
	}
}

func TestExportSelectsSession(t *testing.T) {
	path := writeCapture(t,
		sessionFrame(log.Out, wire.SessionMsgData, 3, 7, 12, 0),
		sessionFrame(log.Out, wire.SessionMsgData, 4, 7, 12, 0),
	)
	session := uint32(4)
	var buf bytes.Buffer
	if err := RunExport(path, FormatJSONL, log.Filter{Session: &session}, &buf); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("exported %d events, want 1", n)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := writeCapture(t)
	if err := RunExport(path, "xml", log.Filter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for xml")
	}
}
