package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devbus/devbus-go/pkg/discovery"
	"github.com/devbus/devbus-go/pkg/router"
	"github.com/devbus/devbus-go/pkg/wire"
)

func newRouterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Run a bus router on TCP and WebSocket",
		Example: `  devbus router
  devbus router --prefix 1 --advertise --description "lab bench"
  devbus router --http-listen "" --listen 127.0.0.1:27300`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, a.runRouter)
		},
	}

	rc := &a.cfg.Router
	f := cmd.Flags()
	f.Uint8Var(&rc.Prefix, "prefix", rc.Prefix, "router prefix of assigned client ids (0-7)")
	f.IntVar(&rc.MaxClients, "max-clients", rc.MaxClients, "maximum registered clients")
	f.StringVar(&rc.TCPAddress, "listen", rc.TCPAddress, "TCP listen address (empty disables)")
	f.StringVar(&rc.HTTPAddress, "http-listen", rc.HTTPAddress, "HTTP listen address for WebSocket and metrics (empty disables)")
	f.StringVar(&rc.WebSocketPath, "ws-path", rc.WebSocketPath, "WebSocket endpoint path")
	f.StringVar(&rc.MetricsPath, "metrics-path", rc.MetricsPath, "prometheus metrics path (empty disables)")
	f.BoolVar(&rc.Advertise, "advertise", rc.Advertise, "announce the router over mDNS")
	f.StringVar(&rc.InstanceName, "name", rc.InstanceName, "mDNS instance name (default: devbus-<prefix>)")
	f.StringVar(&rc.Description, "description", rc.Description, "human readable router description")
	f.StringVar(&rc.Interface, "iface", rc.Interface, "network interface for mDNS (default: all)")
	return cmd
}

func (a *app) runRouter(ctx context.Context) error {
	rc := a.cfg.Router
	metrics := rc.HTTPAddress != "" && rc.MetricsPath != ""

	r := router.New(router.Config{
		Prefix:         rc.Prefix,
		MaxClients:     rc.MaxClients,
		Logger:         a.logger,
		ProtocolLogger: a.plog,
		Metrics:        metrics,
	})
	defer r.Close()

	g, ctx := errgroup.WithContext(ctx)
	info := discovery.RouterInfo{
		Instance:    rc.InstanceName,
		Prefix:      rc.Prefix,
		BusVersion:  wire.BusProtocolVersion,
		WSPath:      rc.WebSocketPath,
		Description: rc.Description,
	}

	if rc.TCPAddress != "" {
		l := router.NewListener(r, router.ListenerConfig{Address: rc.TCPAddress})
		if err := l.Start(ctx); err != nil {
			return err
		}
		defer l.Stop()
		info.Port = portOf(l.Addr())
		a.logger.Info("router listening", "transport", "tcp", "address", l.Addr().String())
	}

	if rc.HTTPAddress != "" {
		mux := http.NewServeMux()
		mux.Handle(rc.WebSocketPath, router.NewWebSocketHandler(r))
		if metrics {
			router.RegisterMetrics()
			mux.Handle(rc.MetricsPath, promhttp.Handler())
		}

		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", rc.HTTPAddress)
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		info.WSPort = portOf(ln.Addr())
		a.logger.Info("router listening", "transport", "ws", "address", ln.Addr().String(), "path", rc.WebSocketPath, "metrics", metrics)

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if rc.Advertise {
		ann := discovery.NewAnnouncer(rc.Interface, 0)
		if err := ann.Announce(ctx, info); err != nil {
			return err
		}
		defer ann.Withdraw()
		a.logger.Info("router advertised", "service", discovery.ServiceType, "prefix", rc.Prefix)
	}

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.logger.Debug("router status", "clients", r.ClientCount())
			}
		}
	})

	err := g.Wait()
	a.logger.Info("router stopping", "clients", r.ClientCount())
	return err
}

func portOf(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}
