package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/discovery"
	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
)

// resolveRouter returns the configured connection, or browses mDNS for
// the first router when discovery is enabled.
func (a *app) resolveRouter(ctx context.Context) (transport.ConnectionInfo, error) {
	cc := a.cfg.Client
	if !cc.Discover {
		return cc.Connection, nil
	}

	finder := discovery.NewFinder(a.cfg.Router.Interface)
	defer finder.Close()

	filters := []discovery.FilterFunc{discovery.SpeaksBus()}
	if cc.Connection.Kind == transport.KindWebSocket {
		filters = append(filters, discovery.ServesWebSocket())
	}
	svc, err := finder.First(ctx, filters...)
	if err != nil {
		return transport.ConnectionInfo{}, fmt.Errorf("discover router: %w", err)
	}
	info := svc.ConnectionInfo(cc.Connection.Kind)
	a.logger.Info("discovered router", "instance", svc.Instance, "prefix", svc.Prefix, "address", info.Address())
	return info, nil
}

// openChannel connects a bus channel for a component and registers it.
// Protocol servers are registered before the channel joins the bus so
// that they are part of its advertised metadata.
func (a *app) openChannel(ctx context.Context, component wire.Component, status wire.StatusFlags, background bool, servers ...bus.ProtocolServer) (*bus.Channel, error) {
	info, err := a.resolveRouter(ctx)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(info, transport.Options{}, transport.LogConfig{
		Logger:         a.logger,
		ProtocolLogger: a.plog,
	})
	if err != nil {
		return nil, err
	}

	cfg := a.cfg.Client.BusConfig(component)
	cfg.InitialStatus = status
	cfg.BackgroundUpdate = background
	cfg.Logger = a.logger
	cfg.ProtocolLogger = a.plog
	ch := bus.New(tr, cfg)

	for _, srv := range servers {
		if err := ch.RegisterProtocolServer(srv); err != nil {
			return nil, err
		}
	}
	if err := ch.Register(a.cfg.Client.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("register with %s: %w", info.Address(), err)
	}
	a.logger.Info("joined bus", "client_id", ch.ClientID(), "router", info.Address(), "kind", info.Kind)
	return ch, nil
}

// addClientFlags registers the flags shared by commands that join a bus.
func addClientFlags(cmd *cobra.Command, a *app) {
	cc := &a.cfg.Client
	f := cmd.Flags()
	f.Var((*kindValue)(&cc.Connection.Kind), "transport", "router transport (tcp, ws)")
	f.StringVar(&cc.Connection.Host, "host", cc.Connection.Host, "router host")
	f.IntVar(&cc.Connection.Port, "port", cc.Connection.Port, "router port")
	f.StringVar(&cc.Connection.Path, "path", cc.Connection.Path, "WebSocket path (ws transport)")
	f.BoolVar(&cc.Discover, "discover", cc.Discover, "find the router over mDNS")
	f.StringVar(&cc.Description, "description", cc.Description, "client description shown to other clients")
	f.DurationVar(&cc.ConnectTimeout, "connect-timeout", cc.ConnectTimeout, "time allowed to join the bus")
	f.DurationVar(&cc.RequestTimeout, "timeout", cc.RequestTimeout, "request timeout")
	f.StringVar(&a.cfg.Router.Interface, "iface", a.cfg.Router.Interface, "network interface for mDNS discovery")
}

// kindValue adapts transport.Kind to pflag.Value.
type kindValue transport.Kind

func (k *kindValue) String() string { return string(*k) }
func (k *kindValue) Type() string   { return "kind" }

func (k *kindValue) Set(s string) error {
	switch kind := transport.Kind(s); kind {
	case transport.KindTCP, transport.KindWebSocket:
		*k = kindValue(kind)
		return nil
	default:
		return fmt.Errorf("unknown transport %q", s)
	}
}
