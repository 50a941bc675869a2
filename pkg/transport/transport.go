package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

// Transport moves whole frames between a bus client and the router.
// Implementations deliver frames in order and never split or merge them.
type Transport interface {
	// Connect opens the underlying connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Calling it twice is a no-op.
	Disconnect() error

	// ReadMessage returns the next frame. A zero timeout polls; a negative
	// timeout waits without bound. Returns wire.ErrNotReady on timeout and
	// wire.ErrEndOfStream once the connection is gone.
	ReadMessage(timeout time.Duration) (*wire.MessageBuffer, error)

	// WriteMessage sends one frame without waiting for the peer.
	WriteMessage(msg *wire.MessageBuffer) error

	// ID returns the connection identifier used in protocol logs.
	ID() string
}

// Connection states.
type ConnectionState int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosing indicates the connection is being torn down.
	StateClosing
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrUnknownKind      = errors.New("unknown transport kind")
)

// Kind names a transport implementation.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
	KindLocal     Kind = "local"
)

// DefaultPort is the router's default TCP port.
const DefaultPort = 27300

// DefaultWebSocketPath is the router's default WebSocket endpoint.
const DefaultWebSocketPath = "/bus"

// ConnectionInfo describes how to reach the router.
type ConnectionInfo struct {
	Kind Kind   `yaml:"kind" toml:"kind"`
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	// Path is the WebSocket endpoint path.
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// Address returns host:port, applying the default port.
func (c ConnectionInfo) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// URL returns the WebSocket URL for the connection.
func (c ConnectionInfo) URL() string {
	path := c.Path
	if path == "" {
		path = DefaultWebSocketPath
	}
	return fmt.Sprintf("ws://%s%s", c.Address(), path)
}

// Options carries settings shared by the network transports.
type Options struct {
	// WriteTimeout bounds a single frame write (default: 2s).
	WriteTimeout time.Duration

	// QueueSize is the number of received frames buffered ahead of
	// ReadMessage (default: 256).
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.QueueSize == 0 {
		o.QueueSize = 256
	}
	return o
}

// New creates a network transport for info. Local transports are created
// by the router that hosts them.
func New(info ConnectionInfo, opts Options, cfg LogConfig) (Transport, error) {
	switch info.Kind {
	case KindTCP, "":
		return NewTCP(info.Address(), opts, cfg), nil
	case KindWebSocket:
		return NewWebSocket(info.URL(), opts, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, info.Kind)
	}
}
