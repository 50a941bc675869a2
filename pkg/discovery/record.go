package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/devbus/devbus-go/pkg/wire"
)

// TXT keys. prefix and busver are required.
const (
	keyPrefix      = "prefix"
	keyBusVersion  = "busver"
	keyWSPort      = "wsport"
	keyWSPath      = "wspath"
	keyDescription = "desc"
)

// maxTXTValue keeps key=value within a single 255-byte TXT string.
const maxTXTValue = 240

// Record renders the router's TXT strings, sorted by key.
func (r RouterInfo) Record() []string {
	txt := []string{
		keyPrefix + "=" + strconv.Itoa(int(r.Prefix)),
		keyBusVersion + "=" + strconv.FormatUint(r.busVersion(), 10),
	}
	if r.WSPort != 0 {
		txt = append(txt, keyWSPort+"="+strconv.Itoa(int(r.WSPort)))
		if r.WSPath != "" {
			txt = append(txt, keyWSPath+"="+clip(r.WSPath))
		}
	}
	if r.Description != "" {
		txt = append(txt, keyDescription+"="+clip(r.Description))
	}
	slices.Sort(txt)
	return txt
}

// clip cuts s to maxTXTValue bytes without splitting a rune.
func clip(s string) string {
	if len(s) <= maxTXTValue {
		return s
	}
	n := maxTXTValue
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ParseRecord reads a router's TXT strings. The instance, port and
// addresses come from other DNS records and stay zero. Unknown keys are
// ignored.
func ParseRecord(txt []string) (RouterInfo, error) {
	kv := make(map[string]string, len(txt))
	for _, s := range txt {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			kv[strings.ToLower(k)] = v
		}
	}

	var r RouterInfo
	prefix, ok := kv[keyPrefix]
	if !ok {
		return r, errNotRouterEntry
	}
	n, err := strconv.ParseUint(prefix, 10, 8)
	if err != nil || n > uint64(wire.MaxRouterPrefix) {
		return r, fmt.Errorf("%w: prefix %q", ErrBadRecord, prefix)
	}
	r.Prefix = uint8(n)

	ver, ok := kv[keyBusVersion]
	if !ok {
		return r, fmt.Errorf("%w: no %s", ErrBadRecord, keyBusVersion)
	}
	if r.BusVersion, err = strconv.ParseUint(ver, 10, 64); err != nil || r.BusVersion == 0 {
		return r, fmt.Errorf("%w: bus version %q", ErrBadRecord, ver)
	}

	if p, ok := kv[keyWSPort]; ok {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return r, fmt.Errorf("%w: websocket port %q", ErrBadRecord, p)
		}
		r.WSPort = uint16(n)
		r.WSPath = kv[keyWSPath]
	}
	r.Description = kv[keyDescription]
	return r, nil
}

// checkInstance rejects names that do not fit one DNS label.
func checkInstance(name string) error {
	if name == "" || len(name) > 63 {
		return fmt.Errorf("%w: %q must be 1 to 63 bytes", ErrBadInstance, name)
	}
	return nil
}
