// Package config holds the devbus command line configuration. Values are
// layered: defaults, then a YAML or TOML file, then DEVBUS_* environment
// variables. Flags the user set explicitly always win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the configuration shared by the devbus subcommands.
type Config struct {
	Router RouterConfig
	Client ClientConfig
	Driver DriverConfig
	Log    LogConfig
}

// RouterConfig configures `devbus router`.
type RouterConfig struct {
	Prefix     uint8
	MaxClients int

	// TCPAddress is the frame listener address. Empty disables it.
	TCPAddress string

	// HTTPAddress serves the WebSocket endpoint and metrics. Empty
	// disables the HTTP server.
	HTTPAddress   string
	WebSocketPath string
	MetricsPath   string

	// Advertise announces the router over mDNS.
	Advertise    bool
	InstanceName string
	Description  string
	Interface    string
}

// ClientConfig configures how the driver and console reach a router.
type ClientConfig struct {
	Connection transport.ConnectionInfo

	// Discover browses mDNS for a router instead of using Connection.
	Discover bool

	Description    string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DriverConfig configures the simulated driver.
type DriverConfig struct {
	SettingsFile  string
	FrameInterval time.Duration
	HaltOnStart   bool
	GPUs          int
}

// LogConfig configures operational logging and protocol capture.
type LogConfig struct {
	Level  string
	Format string

	// Capture is the path of a protocol capture file (optional).
	Capture string

	// Trace prints protocol events to stderr.
	Trace bool
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Router: RouterConfig{
			MaxClients:    int(wire.MaxLocalID),
			TCPAddress:    fmt.Sprintf(":%d", transport.DefaultPort),
			HTTPAddress:   fmt.Sprintf(":%d", transport.DefaultPort+1),
			WebSocketPath: transport.DefaultWebSocketPath,
			MetricsPath:   "/metrics",
		},
		Client: ClientConfig{
			Connection: transport.ConnectionInfo{
				Kind: transport.KindTCP,
				Host: "localhost",
				Port: transport.DefaultPort,
			},
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 3 * time.Second,
		},
		Driver: DriverConfig{
			FrameInterval: 16 * time.Millisecond,
			GPUs:          1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Validate checks the configuration for errors and fills derived values.
func (c *Config) Validate() error {
	if c.Router.Prefix > wire.MaxRouterPrefix {
		return fmt.Errorf("%w: router prefix %d exceeds %d", ErrInvalidConfig, c.Router.Prefix, wire.MaxRouterPrefix)
	}
	if c.Router.MaxClients <= 0 || c.Router.MaxClients > int(wire.MaxLocalID) {
		return fmt.Errorf("%w: max clients must be in 1..%d", ErrInvalidConfig, wire.MaxLocalID)
	}
	if c.Router.WebSocketPath != "" && !strings.HasPrefix(c.Router.WebSocketPath, "/") {
		return fmt.Errorf("%w: websocket path %q must start with /", ErrInvalidConfig, c.Router.WebSocketPath)
	}
	if c.Router.MetricsPath != "" && !strings.HasPrefix(c.Router.MetricsPath, "/") {
		return fmt.Errorf("%w: metrics path %q must start with /", ErrInvalidConfig, c.Router.MetricsPath)
	}

	switch c.Client.Connection.Kind {
	case "":
		c.Client.Connection.Kind = transport.KindTCP
	case transport.KindTCP, transport.KindWebSocket:
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalidConfig, c.Client.Connection.Kind)
	}
	if c.Client.Connection.Port < 0 || c.Client.Connection.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Client.Connection.Port)
	}
	if c.Client.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	}

	if c.Driver.FrameInterval <= 0 {
		return fmt.Errorf("%w: frame interval must be positive", ErrInvalidConfig)
	}
	if c.Driver.GPUs < 1 {
		return fmt.Errorf("%w: driver needs at least one gpu", ErrInvalidConfig)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// BusConfig returns the channel configuration for a client of the given
// component kind.
func (c ClientConfig) BusConfig(component wire.Component) bus.Config {
	cfg := bus.DefaultConfig()
	cfg.Component = component
	cfg.Description = c.Description
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	return cfg
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return level, nil
}
