package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/connection"
	"github.com/devbus/devbus-go/pkg/protocols/drivercontrol"
	"github.com/devbus/devbus-go/pkg/protocols/settings"
	"github.com/devbus/devbus-go/pkg/wire"
)

func newDriverCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Run a simulated driver serving driver control and settings",
		Long: `Run a simulated driver. The driver joins the bus as a cooperative
client, pumps the channel once per simulated frame and signals frame
boundaries, so tools can pause, resume and single-step it.`,
		Example: `  devbus driver --halt-on-start
  devbus driver --settings ./settings.yaml --frame-interval 33ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, a.runDriver)
		},
	}
	addClientFlags(cmd, a)

	dc := &a.cfg.Driver
	f := cmd.Flags()
	f.StringVar(&dc.SettingsFile, "settings", dc.SettingsFile, "YAML settings file, reloaded on change")
	f.DurationVar(&dc.FrameInterval, "frame-interval", dc.FrameInterval, "simulated frame time")
	f.BoolVar(&dc.HaltOnStart, "halt-on-start", dc.HaltOnStart, "wait for a tool to resume the driver after init")
	f.IntVar(&dc.GPUs, "gpus", dc.GPUs, "number of simulated GPUs")
	return cmd
}

// defaultDriverSettings is the table a driver starts with before its
// settings file is applied.
func defaultDriverSettings() []settings.Setting {
	return []settings.Setting{
		{Name: "enable_validation", Type: settings.TypeBool, Value: "false", Description: "enable API validation"},
		{Name: "frame_limit", Type: settings.TypeUint, Value: "0", Description: "frames per second cap, 0 is unlimited"},
		{Name: "shader_cache", Type: settings.TypeBool, Value: "true", Description: "use the on-disk shader cache"},
		{Name: "lod_bias", Type: settings.TypeFloat, Value: "0", Description: "texture LOD bias"},
		{Name: "dump_dir", Type: settings.TypeString, Value: "", Description: "directory for pipeline dumps"},
	}
}

func (a *app) runDriver(ctx context.Context) error {
	dcfg := a.cfg.Driver

	gpus := make([]drivercontrol.GPU, dcfg.GPUs)
	for i := range gpus {
		gpus[i] = drivercontrol.DefaultGPU()
	}
	dc := drivercontrol.NewServer(drivercontrol.ServerConfig{GPUs: gpus, Logger: a.logger})

	st, err := settings.NewServer(settings.ServerConfig{
		Settings: defaultDriverSettings(),
		OnChange: func(s settings.Setting) {
			a.logger.Info("driver setting changed", "name", s.Name, "value", s.Value)
		},
		Logger: a.logger,
	})
	if err != nil {
		return err
	}

	var status wire.StatusFlags
	if dcfg.HaltOnStart {
		status |= wire.StatusHaltOnConnect
	}
	ch, err := a.openChannel(ctx, wire.ComponentDriver, status, false, dc, st)
	if err != nil {
		return err
	}
	defer ch.Unregister()

	g, ctx := errgroup.WithContext(ctx)
	if path := dcfg.SettingsFile; path != "" {
		g.Go(func() error { return settings.WatchFile(ctx, path, st, a.logger) })
	}

	sim := &driverSim{
		ch:             ch,
		dc:             dc,
		interval:       dcfg.FrameInterval,
		connectTimeout: a.cfg.Client.ConnectTimeout,
		logger:         a.logger,
		rejoin:         connection.DefaultPolicy,
	}
	g.Go(func() error { return sim.run(ctx, dcfg.HaltOnStart) })
	return g.Wait()
}

// driverSim plays the role of a driver's render thread.
type driverSim struct {
	ch             *bus.Channel
	dc             *drivercontrol.Server
	interval       time.Duration
	connectTimeout time.Duration
	logger         *slog.Logger
	rejoin         connection.Policy

	last drivercontrol.DriverStatus
}

func (s *driverSim) run(ctx context.Context, haltOnStart bool) error {
	s.last = s.dc.Status()
	if err := s.tick(ctx, 0); err != nil {
		return ignoreCanceled(err)
	}

	s.dc.FinishEarlyInit(haltOnStart)
	s.observe()
	for s.dc.Status() == drivercontrol.StatusHaltedOnStart {
		if err := s.tick(ctx, s.interval); err != nil {
			return ignoreCanceled(err)
		}
	}
	s.dc.FinishLateInit()
	s.observe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.tick(ctx, 0); err != nil {
			return ignoreCanceled(err)
		}
		// Paused: hold the frame until a tool resumes or steps.
		for s.dc.IsHalted() {
			if err := s.tick(ctx, s.interval); err != nil {
				return ignoreCanceled(err)
			}
		}
		s.dc.FrameBoundary()
		s.observe()
	}
}

// tick runs one channel update and reconnects when the bus is lost.
func (s *driverSim) tick(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.ch.Update(timeout)
	if err == nil {
		s.observe()
		return nil
	}
	if !errors.Is(err, bus.ErrNotConnected) {
		return err
	}

	s.logger.Warn("bus lost, rejoining")
	err = connection.Rejoin(ctx, func(context.Context) error {
		return s.ch.Register(s.connectTimeout)
	}, connection.RejoinConfig{
		Policy: s.rejoin,
		OnAttempt: func(attempt int, err error, next time.Duration) {
			s.logger.Debug("rejoin failed", "attempt", attempt, "retry_in", next, "error", err)
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("rejoined bus", "client_id", s.ch.ClientID())
	return nil
}

// observe logs driver status transitions.
func (s *driverSim) observe() {
	status := s.dc.Status()
	if status == s.last {
		return
	}
	s.logger.Info("driver status", "from", s.last, "to", status, "frames", s.dc.Frames())
	s.last = status
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
