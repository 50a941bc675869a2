package bus

import (
	"log/slog"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// InfiniteTimeout makes a blocking call wait without bound.
const InfiniteTimeout time.Duration = -1

// CreateInfo describes the client a channel registers as.
type CreateInfo struct {
	// InitialStatus is the status advertised in the client metadata.
	InitialStatus wire.StatusFlags `yaml:"initial_status" toml:"initial_status"`

	// Component is the kind of program behind the channel.
	Component wire.Component `yaml:"component" toml:"component"`

	// BackgroundUpdate makes the channel own its update goroutine.
	BackgroundUpdate bool `yaml:"background_update" toml:"background_update"`

	// Description is a human readable name sent at registration.
	Description string `yaml:"description" toml:"description"`
}

// Config configures a Channel.
type Config struct {
	CreateInfo

	// ConnectTimeout bounds a session handshake (default: 2s).
	ConnectTimeout time.Duration

	// CloseTimeout bounds the wait for the peer's Fin (default: 2s).
	CloseTimeout time.Duration

	// UpdateInterval is the longest an update tick waits for inbound
	// frames when driven by the background goroutine or by a blocking
	// call (default: 5ms).
	UpdateInterval time.Duration

	// SessionWindow is the number of frames a session buffers in each
	// direction and advertises as its receive capacity (default: 32).
	SessionWindow uint16

	// MaxSessions limits concurrently open sessions (default: 64).
	MaxSessions int

	// MaxFramesPerUpdate caps inbound frames dispatched per tick (default: 128).
	MaxFramesPerUpdate int

	// InboxSize is the number of out-of-session frames buffered for
	// Receive (default: 256).
	InboxSize int

	// KeepAliveInterval is the period of keep-alive frames to the router.
	// Zero disables keep-alive.
	KeepAliveInterval time.Duration

	// MaxMissedKeepAlives is the number of unanswered keep-alives after
	// which the bus is considered gone (default: 5).
	MaxMissedKeepAlives int

	// DiscoveryInterval is how often FindFirstClient repeats its query
	// (default: 250ms).
	DiscoveryInterval time.Duration

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger receives session and channel events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      2 * time.Second,
		CloseTimeout:        2 * time.Second,
		UpdateInterval:      5 * time.Millisecond,
		SessionWindow:       32,
		MaxSessions:         64,
		MaxFramesPerUpdate:  128,
		InboxSize:           256,
		KeepAliveInterval:   2 * time.Second,
		MaxMissedKeepAlives: 5,
		DiscoveryInterval:   250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.SessionWindow == 0 {
		c.SessionWindow = d.SessionWindow
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.MaxFramesPerUpdate == 0 {
		c.MaxFramesPerUpdate = d.MaxFramesPerUpdate
	}
	if c.InboxSize == 0 {
		c.InboxSize = d.InboxSize
	}
	if c.MaxMissedKeepAlives == 0 {
		c.MaxMissedKeepAlives = d.MaxMissedKeepAlives
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = d.DiscoveryInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
