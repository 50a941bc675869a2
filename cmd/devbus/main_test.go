package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/transport"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"router"}, {"driver"}, {"console"},
		{"log", "view"}, {"log", "stats"}, {"log", "export"}, {"log", "filter"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestKindFlag(t *testing.T) {
	var k kindValue
	if err := k.Set("ws"); err != nil || transport.Kind(k) != transport.KindWebSocket {
		t.Errorf("Set(ws) = %v, kind %q", err, k)
	}
	if err := k.Set("udp"); err == nil {
		t.Error("Set(udp) should fail")
	}
}

func TestLogStatsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dlog")
	c, err := log.CreateCapture(path)
	if err != nil {
		t.Fatal(err)
	}
	c.Log(log.Event{Time: time.Now(), Conn: "conn-1", Dir: log.In, Kind: log.KindTraffic})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"log", "stats", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("log stats: %v", err)
	}
	if !strings.Contains(out.String(), "Events: 1") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestLogFilterRequiresOutput(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"log", "filter", "missing.dlog"})
	if err := root.Execute(); err == nil {
		t.Error("expected an error without -o")
	}
}
