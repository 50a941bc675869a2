// Package transport carries bus frames between a client and the router.
//
// A Transport delivers whole frames in order. Stream transports (TCP)
// frame the byte stream by reading the fixed 24-byte header and then the
// declared payload; message transports (WebSocket) send one binary message
// per frame.
//
//	┌────────────────────────────────┐
//	│   Sessions / client mgmt       │
//	├────────────────────────────────┤
//	│   24-byte header + payload     │
//	├────────────────────────────────┤
//	│   TCP  |  WebSocket  |  local  │
//	└────────────────────────────────┘
//
// ReadMessage never blocks longer than its timeout: it returns
// wire.ErrNotReady when nothing arrived in time and wire.ErrEndOfStream
// once the connection is gone and every queued frame has been consumed.
package transport
