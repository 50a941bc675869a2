// Package bus implements the message channel: a client's attachment to
// the developer message bus.
//
// A Channel registers with the router to obtain a ClientID, exchanges
// out-of-session frames, discovers peers by metadata, and multiplexes
// connection-oriented sessions for any number of protocols over a single
// transport.
//
// # Sessions
//
// A client opens a session with ConnectProtocolClient. The remote channel
// hands incoming sessions to the ProtocolServer registered for the
// requested protocol, negotiates the highest common version and drives
// the session by calling UpdateSession once per tick. Session Send and
// Receive never block inside UpdateSession; wire.ErrNotReady means "try
// again next tick".
//
// # Scheduling
//
// The scheduling mode is fixed at construction. In cooperative mode the
// owner calls Update periodically and blocking calls pump Update while
// they wait. With CreateInfo.BackgroundUpdate the channel runs its own
// update goroutine and Update returns ErrBackgroundMode.
//
// # Per-session State
//
// Protocol servers keep per-session state in a SlotMap and store the
// returned Handle on the session. Handles are generational, so removing a
// stale handle is a no-op.
package bus
