package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/devbus/devbus-go/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

var csvColumns = []string{"time", "conn", "dir", "layer", "kind", "what", "client", "src", "dst", "protocol", "session", "seq", "window", "size", "detail"}

// RunExport writes the selected events of the capture at path to w as
// JSON lines or CSV.
func RunExport(path, format string, filter log.Filter, w io.Writer) error {
	var (
		emit  func(log.Event) error
		flush = func() error { return nil }
	)
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		emit = func(e log.Event) error { return enc.Encode(e) }
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvColumns); err != nil {
			return err
		}
		emit = func(e log.Event) error { return cw.Write(csvRow(e)) }
		flush = func() error {
			cw.Flush()
			return cw.Error()
		}
	default:
		return fmt.Errorf("unknown format %q (jsonl or csv)", format)
	}

	r, err := log.OpenCapture(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer r.Close()
	if err := r.Each(emit); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return flush()
}

func csvRow(e log.Event) []string {
	row := make([]string, len(csvColumns))
	row[0] = e.Time.UTC().Format(timeLayout)
	row[1] = e.Conn
	row[2] = e.Dir.String()
	row[3] = e.Layer.String()
	row[4] = e.Kind.String()
	row[5] = e.Label()
	row[6] = strconv.Itoa(int(e.Client))

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	switch {
	case e.Header != nil:
		h := e.Header
		row[7], row[8] = u(uint64(h.Src)), u(uint64(h.Dst))
		row[9] = h.Protocol().String()
		if h.InSession() {
			row[10], row[11], row[12] = u(uint64(h.Session)), u(h.Seq), u(uint64(h.Window))
		}
		row[13] = u(uint64(h.Size))
	case e.State != nil:
		if e.State.Entity == log.EntitySession {
			row[10] = u(uint64(e.State.Session))
		}
		row[14] = e.State.From + "->" + e.State.To
		if e.State.Reason != "" {
			row[14] += " " + e.State.Reason
		}
	case e.Control != nil && e.Control.Result != nil:
		row[14] = e.Control.Result.String()
	case e.Fault != nil:
		row[14] = e.Fault.Text
	}
	return row
}
