package discovery

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Finder looks for routers over mDNS.
type Finder struct {
	iface string

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewFinder returns a finder browsing on the named interface, or on every
// interface when iface is empty.
func NewFinder(iface string) *Finder {
	return &Finder{iface: iface}
}

// Watch streams routers until ctx is done or Close is called. A router is
// sent again whenever it becomes reachable on another address; entries
// whose TXT record does not describe a router are skipped.
func (f *Finder) Watch(ctx context.Context) <-chan *RouterService {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancels = append(f.cancels, cancel)
	f.mu.Unlock()

	added := make(chan *zeroconf.ServiceEntry)
	gone := make(chan *zeroconf.ServiceEntry)
	out := make(chan *RouterService)

	var opts []zeroconf.ClientOption
	if ifs := interfaces(f.iface); ifs != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifs))
	}
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, added, gone, opts...)
	}()

	go func() {
		defer close(out)
		dir := make(directory)
		for {
			var found *RouterService
			select {
			case <-ctx.Done():
				return
			case e, ok := <-added:
				if !ok {
					return
				}
				found = dir.add(e)
			case e, ok := <-gone:
				if ok {
					dir.remove(e)
				}
			}
			if found == nil {
				continue
			}
			select {
			case out <- found:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// First returns the first router passing every filter. Without a deadline
// on ctx it gives up after FindTimeout with ErrNotFound.
func (f *Finder) First(ctx context.Context, filters ...FilterFunc) (*RouterService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, FindTimeout)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	match := All(filters...)
	for svc := range f.Watch(ctx) {
		if match(svc) {
			return svc, nil
		}
	}
	// The browse may also end early, e.g. when no interface can multicast.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, ErrNotFound
}

// Close ends every Watch started by f.
func (f *Finder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cancel := range f.cancels {
		cancel()
	}
	f.cancels = nil
}

// directory tracks the addresses of the routers seen so far by instance.
type directory map[string]*RouterService

// add records e and returns a copy of the router when e is new or brings
// new addresses, nil otherwise.
func (d directory) add(e *zeroconf.ServiceEntry) *RouterService {
	info, err := ParseRecord(e.Text)
	if err != nil {
		return nil
	}
	info.Instance = e.Instance
	info.Port = uint16(e.Port)

	svc, known := d[e.Instance]
	if !known {
		svc = &RouterService{}
		d[e.Instance] = svc
	}
	fresh := 0
	for _, a := range addrsOf(e) {
		if !slices.Contains(svc.Addresses, a) {
			svc.Addresses = append(svc.Addresses, a)
			fresh++
		}
	}
	if known && fresh == 0 && svc.RouterInfo == info {
		return nil
	}
	svc.RouterInfo, svc.Host = info, e.HostName
	cp := *svc
	cp.Addresses = slices.Clone(svc.Addresses)
	return &cp
}

// remove forgets the addresses of e, and the router once none is left.
func (d directory) remove(e *zeroconf.ServiceEntry) {
	svc, ok := d[e.Instance]
	if !ok {
		return
	}
	drop := addrsOf(e)
	svc.Addresses = slices.DeleteFunc(svc.Addresses, func(a string) bool {
		return slices.Contains(drop, a)
	})
	if len(svc.Addresses) == 0 {
		delete(d, e.Instance)
	}
}

func addrsOf(e *zeroconf.ServiceEntry) []string {
	out := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ips := range [][]net.IP{e.AddrIPv4, e.AddrIPv6} {
		for _, ip := range ips {
			out = append(out, ip.String())
		}
	}
	return out
}
