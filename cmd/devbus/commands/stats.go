package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// Endpoint is one end of a session: the client a session frame is
// addressed to and the SessionID that client assigned.
type Endpoint struct {
	Client  wire.ClientID
	Session uint32
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s#%d", e.Client, e.Session)
}

// Flow counts the session frames addressed to one endpoint.
type Flow struct {
	Data      int
	Bytes     uint64
	Acks      int
	Fin       bool
	Rst       bool
	FirstData time.Time
	LastData  time.Time
	// LastSeq is the highest Data sequence seen.
	LastSeq uint64
}

// Throughput is the Data payload rate between the first and last Data
// frame, in bytes per second. It is zero with fewer than two frames.
func (f *Flow) Throughput() float64 {
	d := f.LastData.Sub(f.FirstData)
	if f.Data < 2 || d <= 0 {
		return 0
	}
	return float64(f.Bytes) / d.Seconds()
}

// Summary aggregates a capture.
type Summary struct {
	Events      int
	First, Last time.Time
	ByKind      map[log.Kind]int
	ByLayer     map[log.Layer]int

	// Frames counts traffic by protocol; OutOfBand counts router exchanges
	// and system notices by code name.
	Frames    map[wire.Protocol]int
	OutOfBand map[string]int

	// Flows holds session traffic seen at the transport layer, where each
	// frame is captured once per direction.
	Flows map[Endpoint]*Flow

	// Endings counts session state transitions into CLOSED or ABORTED,
	// keyed by the final state and reason.
	Endings map[string]int

	Conns  map[string]wire.ClientID
	Faults int
}

func newSummary() *Summary {
	return &Summary{
		ByKind:    make(map[log.Kind]int),
		ByLayer:   make(map[log.Layer]int),
		Frames:    make(map[wire.Protocol]int),
		OutOfBand: make(map[string]int),
		Flows:     make(map[Endpoint]*Flow),
		Endings:   make(map[string]int),
		Conns:     make(map[string]wire.ClientID),
	}
}

// Summarize reads the selected events of the capture at path.
func Summarize(path string, filter log.Filter) (*Summary, error) {
	r, err := log.OpenCapture(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer r.Close()

	s := newSummary()
	if err := r.Each(func(e log.Event) error {
		s.add(e)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return s, nil
}

func (s *Summary) add(e log.Event) {
	s.Events++
	if s.First.IsZero() || e.Time.Before(s.First) {
		s.First = e.Time
	}
	if e.Time.After(s.Last) {
		s.Last = e.Time
	}
	s.ByKind[e.Kind]++
	s.ByLayer[e.Layer]++
	if id, ok := s.Conns[e.Conn]; !ok || id == 0 {
		s.Conns[e.Conn] = wire.ClientID(e.Client)
	}

	switch {
	case e.Header != nil:
		s.addFrame(e)
	case e.State != nil && e.State.Entity == log.EntitySession:
		if to := e.State.To; to == "CLOSED" || to == "ABORTED" {
			key := to
			if e.State.Reason != "" {
				key += " (" + e.State.Reason + ")"
			}
			s.Endings[key]++
		}
	case e.Fault != nil:
		s.Faults++
	}
}

func (s *Summary) addFrame(e log.Event) {
	h := e.Header
	s.Frames[h.Protocol()]++
	switch h.Protocol() {
	case wire.ProtocolClientManagement, wire.ProtocolSystem:
		s.OutOfBand[h.CodeName()]++
	}
	if !h.InSession() || e.Layer != log.LayerTransport {
		return
	}

	at := Endpoint{Client: wire.ClientID(h.Dst), Session: h.Session}
	f := s.Flows[at]
	if f == nil {
		f = &Flow{}
		s.Flows[at] = f
	}
	switch wire.MessageCode(h.Code) {
	case wire.SessionMsgData:
		f.Data++
		f.Bytes += uint64(h.Size)
		if f.FirstData.IsZero() {
			f.FirstData = e.Time
		}
		f.LastData = e.Time
		if h.Seq > f.LastSeq {
			f.LastSeq = h.Seq
		}
	case wire.SessionMsgAck:
		f.Acks++
	case wire.SessionMsgFin:
		f.Fin = true
	case wire.SessionMsgRst:
		f.Rst = true
	}
}

// RunStats prints a summary of the selected events of the capture at path.
func RunStats(path string, filter log.Filter, w io.Writer) error {
	s, err := Summarize(path, filter)
	if err != nil {
		return err
	}
	s.print(w)
	return nil
}

func (s *Summary) print(w io.Writer) {
	fmt.Fprintf(w, "Events: %d", s.Events)
	if s.Events > 0 {
		fmt.Fprintf(w, " over %s (%s to %s)", s.Last.Sub(s.First).Round(time.Millisecond),
			s.First.UTC().Format(time.RFC3339), s.Last.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Kinds:")
	for k := log.KindTraffic; k <= log.KindFault; k++ {
		if n := s.ByKind[k]; n > 0 {
			fmt.Fprintf(w, " %s=%d", k, n)
		}
	}
	fmt.Fprint(w, "\nLayers:")
	for l := log.LayerTransport; l <= log.LayerChannel; l++ {
		if n := s.ByLayer[l]; n > 0 {
			fmt.Fprintf(w, " %s=%d", l, n)
		}
	}
	fmt.Fprintln(w)

	if len(s.Frames) > 0 {
		fmt.Fprintln(w, "\nFrames by protocol:")
		for _, p := range sortedKeys(s.Frames, func(a, b wire.Protocol) bool { return a < b }) {
			fmt.Fprintf(w, "  %-20s %d\n", p, s.Frames[p])
		}
	}
	if len(s.OutOfBand) > 0 {
		fmt.Fprintln(w, "\nOut-of-band:")
		for _, name := range sortedKeys(s.OutOfBand, func(a, b string) bool { return a < b }) {
			fmt.Fprintf(w, "  %-20s %d\n", name, s.OutOfBand[name])
		}
	}

	if len(s.Flows) > 0 {
		fmt.Fprintln(w, "\nSessions (frames addressed to client#session):")
		ends := sortedKeys(s.Flows, func(a, b Endpoint) bool {
			if a.Client != b.Client {
				return a.Client < b.Client
			}
			return a.Session < b.Session
		})
		for _, at := range ends {
			f := s.Flows[at]
			fmt.Fprintf(w, "  %-10s data=%d bytes=%d acks=%d last_seq=%d", at, f.Data, f.Bytes, f.Acks, f.LastSeq)
			if t := f.Throughput(); t > 0 {
				fmt.Fprintf(w, " rate=%.0fB/s", t)
			}
			switch {
			case f.Rst:
				fmt.Fprint(w, " RST")
			case f.Fin:
				fmt.Fprint(w, " FIN")
			}
			fmt.Fprintln(w)
		}
	}
	if len(s.Endings) > 0 {
		fmt.Fprintln(w, "\nSession endings:")
		for _, k := range sortedKeys(s.Endings, func(a, b string) bool { return a < b }) {
			fmt.Fprintf(w, "  %-30s %d\n", k, s.Endings[k])
		}
	}

	fmt.Fprintf(w, "\nConnections: %d\n", len(s.Conns))
	for _, c := range sortedKeys(s.Conns, func(a, b string) bool { return a < b }) {
		if id := s.Conns[c]; id != 0 {
			fmt.Fprintf(w, "  %-8s client %s\n", shortConn(c), id)
		}
	}
	if s.Faults > 0 {
		fmt.Fprintf(w, "Faults: %d\n", s.Faults)
	}
}

func sortedKeys[K comparable, V any](m map[K]V, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}
