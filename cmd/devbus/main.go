// Command devbus runs the pieces of a developer message bus: the router
// that hosts it, a simulated driver that serves the driver control and
// settings protocols, an interactive console, and tools for protocol
// capture files.
//
// Usage:
//
//	devbus router  [flags]
//	devbus driver  [flags]
//	devbus console [flags]
//	devbus log view|stats|export|filter [flags] <file.dlog>
//
// Configuration is read from --config (or ~/.devbus/config.{yaml,toml}),
// then from DEVBUS_* environment variables; explicit flags win.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/devbus/devbus-go/internal/config"
	"github.com/devbus/devbus-go/pkg/log"
)

// app carries the resolved configuration and loggers into a subcommand.
type app struct {
	cfg     config.Config
	cfgPath string

	logger *slog.Logger
	plog   log.Logger
	closer io.Closer
}

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:          "devbus",
		Short:        "Developer message bus router, driver simulator and console",
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.devbus/config.yaml)")
	pf.StringVar(&a.cfg.Log.Level, "log-level", a.cfg.Log.Level, "log level (debug, info, warn, error)")
	pf.StringVar(&a.cfg.Log.Format, "log-format", a.cfg.Log.Format, "log format (text, json)")
	pf.StringVar(&a.cfg.Log.Capture, "capture", a.cfg.Log.Capture, "write a protocol capture to this file")
	pf.BoolVar(&a.cfg.Log.Trace, "trace", a.cfg.Log.Trace, "print protocol events to stderr")

	root.AddCommand(
		newRouterCommand(a),
		newDriverCommand(a),
		newConsoleCommand(a),
		newLogCommand(),
	)
	return root
}

// setup resolves the configuration for cmd and opens the loggers.
func (a *app) setup(cmd *cobra.Command, stderr io.Writer) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if err := config.Load(&a.cfg, a.cfgPath, changed); err != nil {
		return err
	}

	logger, err := newLogger(a.cfg.Log, stderr)
	if err != nil {
		return err
	}
	a.logger = logger

	plog, closer, err := newProtocolLogger(a.cfg.Log, stderr)
	if err != nil {
		return err
	}
	a.plog = plog
	a.closer = closer
	return nil
}

// close flushes the protocol capture.
func (a *app) close() {
	if a.closer == nil {
		return
	}
	if err := a.closer.Close(); err != nil {
		a.logger.Warn("closing protocol capture", "error", err)
	}
}

// run executes fn with a context canceled on SIGINT or SIGTERM.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	if err := a.setup(cmd, cmd.ErrOrStderr()); err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}
