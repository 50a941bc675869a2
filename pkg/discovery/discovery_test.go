package discovery

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbus/devbus-go/pkg/transport"
	"github.com/devbus/devbus-go/pkg/wire"
)

func TestRouterRecord(t *testing.T) {
	info := RouterInfo{Prefix: 3, WSPort: 27301, WSPath: "/bus", Description: "lab router"}
	txt := info.Record()
	assert.Equal(t, []string{"busver=260", "desc=lab router", "prefix=3", "wspath=/bus", "wsport=27301"}, txt)

	got, err := ParseRecord(txt)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.Prefix)
	assert.Equal(t, wire.BusProtocolVersion, got.BusVersion)
	assert.Equal(t, uint16(27301), got.WSPort)
	assert.Equal(t, "/bus", got.WSPath)
	assert.Equal(t, "lab router", got.Description)
}

func TestRouterRecordOmitsOptionalKeys(t *testing.T) {
	assert.Equal(t, []string{"busver=7", "prefix=0"}, RouterInfo{BusVersion: 7, WSPath: "/ignored"}.Record())

	desc := strings.Repeat("x", maxTXTValue-1) + "é"
	txt := RouterInfo{Description: desc}.Record()
	got, err := ParseRecord(txt)
	require.NoError(t, err)
	assert.Len(t, got.Description, maxTXTValue-1)
	assert.True(t, utf8.ValidString(got.Description))
}

func TestParseRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  []string
	}{
		{"not a router", []string{"unrelated=1"}},
		{"missing bus version", []string{"prefix=1"}},
		{"prefix out of range", []string{"prefix=8", "busver=260"}},
		{"prefix not a number", []string{"prefix=a", "busver=260"}},
		{"zero bus version", []string{"prefix=1", "busver=0"}},
		{"zero ws port", []string{"prefix=1", "busver=260", "wsport=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.txt)
			assert.ErrorIs(t, err, ErrBadRecord)
		})
	}
}

func TestParseRecordToleratesNoise(t *testing.T) {
	got, err := ParseRecord([]string{"PREFIX=2", "flag", "", "busver=260", "desc=a=b"})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.Prefix)
	assert.Equal(t, "a=b", got.Description)
}

func entry(instance string, txt []string, ips ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: Domain}}
	e.HostName = "host.local."
	e.Port = 27300
	e.Text = txt
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func TestDirectory(t *testing.T) {
	txt := RouterInfo{Prefix: 1, WSPort: 27301, WSPath: "/bus"}.Record()
	dir := make(directory)

	svc := dir.add(entry("devbus-1", txt, "192.168.1.20", "fe80::1"))
	require.NotNil(t, svc)
	assert.Equal(t, "devbus-1", svc.Instance)
	assert.Equal(t, uint16(27300), svc.Port)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, svc.Addresses)
	assert.Equal(t, "192.168.1.20:27300", svc.ConnectionInfo(transport.KindTCP).Address())
	assert.Equal(t, "ws://192.168.1.20:27301/bus", svc.ConnectionInfo(transport.KindWebSocket).URL())

	assert.Nil(t, dir.add(entry("devbus-1", txt, "192.168.1.20")), "nothing new")
	again := dir.add(entry("devbus-1", txt, "10.0.0.5"))
	require.NotNil(t, again)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1", "10.0.0.5"}, again.Addresses)
	assert.Len(t, svc.Addresses, 2, "earlier results are copies")

	dir.remove(entry("devbus-1", nil, "192.168.1.20", "fe80::1"))
	assert.Equal(t, []string{"10.0.0.5"}, dir["devbus-1"].Addresses)
	dir.remove(entry("devbus-1", nil, "10.0.0.5"))
	assert.NotContains(t, dir, "devbus-1")

	assert.Nil(t, dir.add(entry("printer", []string{"rp=ipp"}, "10.0.0.9")))
}

func TestFilters(t *testing.T) {
	lab := &RouterService{RouterInfo: RouterInfo{Prefix: 2, WSPort: 27301}}
	old := &RouterService{RouterInfo: RouterInfo{Prefix: 2, BusVersion: 0x0103}}

	assert.True(t, All(InDomain(2), SpeaksBus(), ServesWebSocket())(lab))
	assert.False(t, SpeaksBus()(old))
	assert.False(t, ServesWebSocket()(old))
	assert.False(t, InDomain(1)(lab))
	assert.True(t, All(nil, nil)(old))
}

func TestAnnouncerRefreshNeedsAnnounce(t *testing.T) {
	a := NewAnnouncer("", 0)
	assert.ErrorIs(t, a.Refresh(RouterInfo{}), ErrNotAnnouncing)
	a.Withdraw()

	err := a.Announce(context.Background(), RouterInfo{Instance: strings.Repeat("r", 64)})
	assert.ErrorIs(t, err, ErrBadInstance)
}

func TestFinderGivesUpAtDeadline(t *testing.T) {
	f := NewFinder("no-such-interface0")
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.First(ctx, InDomain(7), func(*RouterService) bool { return false })
	assert.ErrorIs(t, err, ErrNotFound)
}
