package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/devbus/devbus-go/pkg/transport"
)

// Announcer publishes one router instance over mDNS.
type Announcer struct {
	iface string
	ttl   uint32

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAnnouncer returns an announcer on the named interface, or on every
// interface when iface is empty. A zero ttl means DefaultTTL.
func NewAnnouncer(iface string, ttl time.Duration) *Announcer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Announcer{iface: iface, ttl: uint32(ttl.Seconds())}
}

// Announce publishes info, withdrawing any earlier announcement first.
func (a *Announcer) Announce(ctx context.Context, info RouterInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := info.instance()
	if err := checkInstance(name); err != nil {
		return err
	}
	port := int(info.Port)
	if port == 0 {
		port = transport.DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown()
	server, err := zeroconf.Register(name, ServiceType, Domain, port, info.Record(),
		interfaces(a.iface), zeroconf.TTL(a.ttl))
	if err != nil {
		return fmt.Errorf("announce %s: %w", name, err)
	}
	a.server = server
	return nil
}

// Refresh republishes the TXT record, e.g. after the WebSocket endpoint
// moved.
func (a *Announcer) Refresh(info RouterInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAnnouncing
	}
	a.server.SetText(info.Record())
	return nil
}

// Withdraw sends goodbye packets and stops answering queries.
func (a *Announcer) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown()
}

func (a *Announcer) shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces resolves name for zeroconf; nil selects every interface. An
// unknown name also falls back to every interface.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
