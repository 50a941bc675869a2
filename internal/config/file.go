package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// File mirrors Config with string durations and optional scalars so that
// absent keys leave the defaults alone.
type File struct {
	Router struct {
		Prefix        *uint8 `yaml:"prefix" toml:"prefix"`
		MaxClients    int    `yaml:"max_clients" toml:"max_clients"`
		TCPAddress    string `yaml:"tcp_address" toml:"tcp_address"`
		HTTPAddress   string `yaml:"http_address" toml:"http_address"`
		WebSocketPath string `yaml:"websocket_path" toml:"websocket_path"`
		MetricsPath   string `yaml:"metrics_path" toml:"metrics_path"`
		Advertise     *bool  `yaml:"advertise" toml:"advertise"`
		InstanceName  string `yaml:"instance_name" toml:"instance_name"`
		Description   string `yaml:"description" toml:"description"`
		Interface     string `yaml:"interface" toml:"interface"`
	} `yaml:"router" toml:"router"`

	Client struct {
		Transport      string `yaml:"transport" toml:"transport"`
		Host           string `yaml:"host" toml:"host"`
		Port           int    `yaml:"port" toml:"port"`
		Path           string `yaml:"path" toml:"path"`
		Discover       *bool  `yaml:"discover" toml:"discover"`
		Description    string `yaml:"description" toml:"description"`
		ConnectTimeout string `yaml:"connect_timeout" toml:"connect_timeout"`
		RequestTimeout string `yaml:"request_timeout" toml:"request_timeout"`
	} `yaml:"client" toml:"client"`

	Driver struct {
		SettingsFile  string `yaml:"settings_file" toml:"settings_file"`
		FrameInterval string `yaml:"frame_interval" toml:"frame_interval"`
		HaltOnStart   *bool  `yaml:"halt_on_start" toml:"halt_on_start"`
		GPUs          int    `yaml:"gpus" toml:"gpus"`
	} `yaml:"driver" toml:"driver"`

	Log struct {
		Level   string `yaml:"level" toml:"level"`
		Format  string `yaml:"format" toml:"format"`
		Capture string `yaml:"capture" toml:"capture"`
		Trace   *bool  `yaml:"trace" toml:"trace"`
	} `yaml:"log" toml:"log"`
}

// LoadFile reads a config file. The format follows the extension: .yaml
// and .yml are YAML, .toml is TOML. Unknown keys are errors.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return &f, nil
}

// Apply copies the file's values into cfg, skipping flags in changed.
func (f *File) Apply(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setPrefix("prefix", f.Router.Prefix, &cfg.Router.Prefix)
	s.setInt("max-clients", f.Router.MaxClients, &cfg.Router.MaxClients)
	s.setString("listen", f.Router.TCPAddress, &cfg.Router.TCPAddress)
	s.setString("http-listen", f.Router.HTTPAddress, &cfg.Router.HTTPAddress)
	s.setString("ws-path", f.Router.WebSocketPath, &cfg.Router.WebSocketPath)
	s.setString("metrics-path", f.Router.MetricsPath, &cfg.Router.MetricsPath)
	s.setBool("advertise", f.Router.Advertise, &cfg.Router.Advertise)
	s.setString("name", f.Router.InstanceName, &cfg.Router.InstanceName)
	s.setString("description", f.Router.Description, &cfg.Router.Description)
	s.setString("iface", f.Router.Interface, &cfg.Router.Interface)

	s.setKind("transport", f.Client.Transport, &cfg.Client.Connection.Kind)
	s.setString("host", f.Client.Host, &cfg.Client.Connection.Host)
	s.setInt("port", f.Client.Port, &cfg.Client.Connection.Port)
	s.setString("path", f.Client.Path, &cfg.Client.Connection.Path)
	s.setBool("discover", f.Client.Discover, &cfg.Client.Discover)
	s.setString("description", f.Client.Description, &cfg.Client.Description)
	if err := s.setDuration("connect-timeout", f.Client.ConnectTimeout, &cfg.Client.ConnectTimeout); err != nil {
		return err
	}
	if err := s.setDuration("timeout", f.Client.RequestTimeout, &cfg.Client.RequestTimeout); err != nil {
		return err
	}

	s.setString("settings", f.Driver.SettingsFile, &cfg.Driver.SettingsFile)
	if err := s.setDuration("frame-interval", f.Driver.FrameInterval, &cfg.Driver.FrameInterval); err != nil {
		return err
	}
	s.setBool("halt-on-start", f.Driver.HaltOnStart, &cfg.Driver.HaltOnStart)
	s.setInt("gpus", f.Driver.GPUs, &cfg.Driver.GPUs)

	s.setString("log-level", f.Log.Level, &cfg.Log.Level)
	s.setString("log-format", f.Log.Format, &cfg.Log.Format)
	s.setString("capture", f.Log.Capture, &cfg.Log.Capture)
	s.setBool("trace", f.Log.Trace, &cfg.Log.Trace)

	return nil
}

// DefaultPath returns the first existing file among ~/.devbus/config.yaml,
// config.yml and config.toml, or "" when none exists.
func DefaultPath() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(h, ".devbus", name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load layers the config file at path (or the default path when empty and
// present) and the environment over cfg, then validates the result.
func Load(cfg *Config, path string, changed map[string]bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := f.Apply(cfg, changed); err != nil {
			return err
		}
	}
	if err := ApplyEnv(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
