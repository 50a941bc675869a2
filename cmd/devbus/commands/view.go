package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints the selected events of the capture at path, one line
// each, with a hex line under captured frame bytes.
func RunView(path string, filter log.Filter, w io.Writer) error {
	r, err := log.OpenCapture(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer r.Close()
	return r.Each(func(e log.Event) error {
		_, err := io.WriteString(w, formatEvent(e))
		return err
	})
}

// formatEvent renders e as
//
//	<time> <conn> <dir> <layer> <label> <details>
func formatEvent(e log.Event) string {
	var b strings.Builder
	dir := "-"
	if e.Kind == log.KindTraffic || e.Kind == log.KindControl {
		dir = e.Dir.String()
	}
	fmt.Fprintf(&b, "%s %-8s %-3s %-9s %s", e.Time.UTC().Format(timeLayout), shortConn(e.Conn), dir, e.Layer, e.Label())

	switch {
	case e.Header != nil:
		h := e.Header
		fmt.Fprintf(&b, " %s->%s", wire.ClientID(h.Src), wire.ClientID(h.Dst))
		if h.InSession() {
			fmt.Fprintf(&b, " session=%d seq=%d window=%d", h.Session, h.Seq, h.Window)
		}
		if h.Size > 0 {
			fmt.Fprintf(&b, " len=%d", h.Size)
		}
	case e.State != nil:
		from := e.State.From
		if from == "" {
			from = "-"
		}
		if e.State.Entity == log.EntitySession {
			fmt.Fprintf(&b, " %d", e.State.Session)
		}
		fmt.Fprintf(&b, " %s->%s", from, e.State.To)
		if e.State.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.State.Reason)
		}
	case e.Control != nil:
		if e.Control.Result != nil {
			fmt.Fprintf(&b, " result=%s", e.Control.Result)
		}
	case e.Fault != nil:
		fmt.Fprintf(&b, " %s: %s", e.Fault.Layer, e.Fault.Text)
		if e.Fault.During != "" {
			fmt.Fprintf(&b, " during %s", e.Fault.During)
		}
	}
	if e.Client != 0 {
		fmt.Fprintf(&b, " [%s]", wire.ClientID(e.Client))
	}
	b.WriteByte('\n')

	if f := e.Frame; f != nil && len(f.Data) > 0 {
		fmt.Fprintf(&b, "    %s", hex.EncodeToString(f.Data))
		if f.Truncated {
			fmt.Fprintf(&b, " ... (%d bytes)", f.Size)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// shortConn cuts connection ids to the prefix --conn accepts.
func shortConn(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
