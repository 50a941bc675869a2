package config

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "DEVBUS_"

// ApplyEnv applies configuration from environment variables (DEVBUS_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := s.setPrefixFromString("prefix", env("ROUTER_PREFIX"), &cfg.Router.Prefix); err != nil {
		return err
	}
	if err := s.setIntFromString("max-clients", env("ROUTER_MAX_CLIENTS"), &cfg.Router.MaxClients); err != nil {
		return err
	}
	s.setString("listen", env("ROUTER_LISTEN"), &cfg.Router.TCPAddress)
	s.setString("http-listen", env("ROUTER_HTTP_LISTEN"), &cfg.Router.HTTPAddress)
	s.setString("ws-path", env("ROUTER_WS_PATH"), &cfg.Router.WebSocketPath)
	s.setString("metrics-path", env("ROUTER_METRICS_PATH"), &cfg.Router.MetricsPath)
	if err := s.setBoolFromString("advertise", env("ROUTER_ADVERTISE"), &cfg.Router.Advertise); err != nil {
		return err
	}
	s.setString("name", env("ROUTER_NAME"), &cfg.Router.InstanceName)
	s.setString("iface", env("IFACE"), &cfg.Router.Interface)

	s.setKind("transport", env("TRANSPORT"), &cfg.Client.Connection.Kind)
	s.setString("host", env("HOST"), &cfg.Client.Connection.Host)
	if err := s.setIntFromString("port", env("PORT"), &cfg.Client.Connection.Port); err != nil {
		return err
	}
	s.setString("path", env("PATH"), &cfg.Client.Connection.Path)
	if err := s.setBoolFromString("discover", env("DISCOVER"), &cfg.Client.Discover); err != nil {
		return err
	}
	if err := s.setDuration("connect-timeout", env("CONNECT_TIMEOUT"), &cfg.Client.ConnectTimeout); err != nil {
		return err
	}
	if err := s.setDuration("timeout", env("TIMEOUT"), &cfg.Client.RequestTimeout); err != nil {
		return err
	}

	s.setString("settings", env("SETTINGS"), &cfg.Driver.SettingsFile)
	if err := s.setDuration("frame-interval", env("FRAME_INTERVAL"), &cfg.Driver.FrameInterval); err != nil {
		return err
	}
	if err := s.setBoolFromString("halt-on-start", env("HALT_ON_START"), &cfg.Driver.HaltOnStart); err != nil {
		return err
	}

	s.setString("log-level", env("LOG_LEVEL"), &cfg.Log.Level)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.Log.Format)
	s.setString("capture", env("CAPTURE"), &cfg.Log.Capture)
	return s.setBoolFromString("trace", env("TRACE"), &cfg.Log.Trace)
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}
