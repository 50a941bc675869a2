package bus

import "errors"

// Channel errors. Each is also reported through errors.Is against the
// matching wire result sentinel where one applies.
var (
	// ErrNotConnected indicates the channel is not registered on the bus.
	ErrNotConnected = errors.New("channel not connected")

	// ErrDuplicateProtocol indicates a protocol server is already registered.
	ErrDuplicateProtocol = errors.New("protocol server already registered")

	// ErrProtocolNotRegistered indicates no server is registered for the protocol.
	ErrProtocolNotRegistered = errors.New("protocol server not registered")

	// ErrBackgroundMode indicates Update was called on a channel that owns
	// its update goroutine.
	ErrBackgroundMode = errors.New("channel updates in background")

	// ErrReservedProtocol indicates an attempt to send or serve a system
	// protocol through the public API.
	ErrReservedProtocol = errors.New("reserved system protocol")

	// ErrSessionClosed indicates an operation on a closing or closed session.
	ErrSessionClosed = errors.New("session closed")
)
