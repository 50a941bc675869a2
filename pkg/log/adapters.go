package log

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Fields flattens event into alternating keys and values for structured
// loggers. Only the fields that carry information are included.
func (e *Event) Fields() []any {
	kv := []any{
		"conn", e.Conn,
		"dir", e.Dir.String(),
		"layer", e.Layer.String(),
		"kind", e.Kind.String(),
		"what", e.Label(),
	}
	add := func(key string, v any) { kv = append(kv, key, v) }
	if e.Client != 0 {
		add("client", e.Client)
	}
	switch {
	case e.Header != nil:
		h := e.Header
		add("src", h.Src)
		add("dst", h.Dst)
		add("protocol", h.Protocol().String())
		if h.InSession() {
			add("session", h.Session)
			add("seq", h.Seq)
			add("window", h.Window)
		}
		add("size", h.Size)
	case e.Frame != nil:
		add("size", e.Frame.Size)
	case e.State != nil:
		add("from", e.State.From)
		add("to", e.State.To)
		if e.State.Session != 0 {
			add("session", e.State.Session)
		}
		if e.State.Reason != "" {
			add("reason", e.State.Reason)
		}
	case e.Control != nil:
		if e.Control.Result != nil {
			add("result", e.Control.Result.String())
		}
	case e.Fault != nil:
		add("error", e.Fault.Text)
		if e.Fault.During != "" {
			add("during", e.Fault.During)
		}
		if e.Fault.Result != nil {
			add("result", e.Fault.Result.String())
		}
	}
	return kv
}

// SlogAdapter traces events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Log(event Event) {
	a.logger.Log(context.Background(), slog.LevelDebug, "bus", event.Fields()...)
}

// ZerologAdapter traces events to a zerolog.Logger at debug level. The
// CLI uses it for --trace.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter returns an adapter writing to logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (a *ZerologAdapter) Log(event Event) {
	a.logger.Debug().Fields(event.Fields()).Msg("bus")
}

var (
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*ZerologAdapter)(nil)
	_ Logger = (*CaptureFile)(nil)
)
