package main

import (
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/devbus/devbus-go/internal/config"
	"github.com/devbus/devbus-go/pkg/log"
)

// newLogger builds the operational logger.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newProtocolLogger combines the capture file and the stderr trace. The
// logger is nil when neither is enabled; the closer is nil without a
// capture file.
func newProtocolLogger(cfg config.LogConfig, w io.Writer) (log.Logger, io.Closer, error) {
	var (
		capture *log.CaptureFile
		trace   log.Logger
	)
	if cfg.Capture != "" {
		c, err := log.CreateCapture(cfg.Capture)
		if err != nil {
			return nil, nil, err
		}
		capture = c
	}
	if cfg.Trace {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano}).
			With().Timestamp().Logger()
		trace = log.NewZerologAdapter(zl)
	}
	if capture == nil {
		return trace, nil, nil
	}
	return log.Tee(capture, trace), capture, nil
}
