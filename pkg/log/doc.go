// Package log records what crosses the bus for later inspection.
//
// Transports, the router and bus channels report frames, registration
// exchanges and state transitions to a Logger. This is separate from the
// operational slog output: a capture is a machine-readable trace that
// "devbus log" can view, summarize, export and cut down afterwards.
//
//	capture, _ := log.CreateCapture("driver.dlog")
//	cfg.ProtocolLogger = log.Tee(capture, log.NewSlogAdapter(slog.Default()))
//
// A .dlog file is a plain sequence of CBOR-encoded events.
package log
