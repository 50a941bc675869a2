package discovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
)

const (
	// ServiceType is the DNS-SD service type of bus routers.
	ServiceType = "_devbus._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// FindTimeout bounds Finder.First when ctx has no deadline.
	FindTimeout = 5 * time.Second

	// DefaultTTL is the lifetime of announced records.
	DefaultTTL = 2 * time.Minute
)

var (
	ErrBadRecord      = errors.New("invalid router TXT record")
	ErrBadInstance    = errors.New("invalid instance name")
	ErrNotFound       = errors.New("router not found")
	ErrNotAnnouncing  = errors.New("router not announced")
	errNotRouterEntry = fmt.Errorf("%w: not a bus router", ErrBadRecord)
)

// RouterInfo is what a router announces about itself.
type RouterInfo struct {
	// Instance is the DNS-SD instance name. Empty means "devbus-<prefix>".
	Instance string

	// Prefix is the routing domain of the router's clients.
	Prefix uint8

	// BusVersion is the out-of-band protocol version the router accepts.
	// Zero means wire.BusProtocolVersion.
	BusVersion uint64

	// Port is the TCP listener port. Zero means transport.DefaultPort.
	Port uint16

	// WSPort and WSPath locate the WebSocket endpoint. A zero WSPort means
	// the router has none.
	WSPort uint16
	WSPath string

	Description string
}

func (r RouterInfo) instance() string {
	if r.Instance != "" {
		return r.Instance
	}
	return fmt.Sprintf("devbus-%d", r.Prefix)
}

func (r RouterInfo) busVersion() uint64 {
	if r.BusVersion == 0 {
		return wire.BusProtocolVersion
	}
	return r.BusVersion
}

// RouterService is a router found on the network.
type RouterService struct {
	RouterInfo

	Host      string
	Addresses []string
}

// ConnectionInfo returns how to reach the router with the given transport
// kind, preferring the first resolved address over the host name.
func (s *RouterService) ConnectionInfo(kind transport.Kind) transport.ConnectionInfo {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	info := transport.ConnectionInfo{Kind: kind, Host: host, Port: int(s.Port)}
	if kind == transport.KindWebSocket {
		info.Port, info.Path = int(s.WSPort), s.WSPath
	}
	return info
}

// FilterFunc selects routers.
type FilterFunc func(*RouterService) bool

// InDomain selects the router serving one routing-domain prefix.
func InDomain(prefix uint8) FilterFunc {
	return func(s *RouterService) bool { return s.Prefix == prefix }
}

// SpeaksBus selects routers accepting this build's bus version. Others
// would refuse the ConnectRequest.
func SpeaksBus() FilterFunc {
	return func(s *RouterService) bool { return s.busVersion() == wire.BusProtocolVersion }
}

// ServesWebSocket selects routers with a WebSocket endpoint.
func ServesWebSocket() FilterFunc {
	return func(s *RouterService) bool { return s.WSPort != 0 }
}

// All combines filters; nil entries are skipped.
func All(filters ...FilterFunc) FilterFunc {
	return func(s *RouterService) bool {
		for _, f := range filters {
			if f != nil && !f(s) {
				return false
			}
		}
		return true
	}
}
