// Package commands implements the devbus log subcommands.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// ViewFilter holds the textual selection flags shared by every log
// subcommand. Empty fields select everything.
type ViewFilter struct {
	Conn     string
	Dir      string
	Layer    string
	Kind     string
	Protocol string
	Code     string
	Client   string
	Session  string
	Since    string
	Until    string
}

// Build parses the flags into a log.Filter.
func (v ViewFilter) Build() (log.Filter, error) {
	f := log.Filter{Conn: v.Conn}
	var err error
	set := func(s string, parse func(string) error) {
		if err == nil && s != "" {
			err = parse(s)
		}
	}
	set(v.Dir, func(s string) error {
		d, err := log.ParseDirection(s)
		f.Dir = &d
		return err
	})
	set(v.Layer, func(s string) error {
		l, err := log.ParseLayer(s)
		f.Layer = &l
		return err
	})
	set(v.Kind, func(s string) error {
		k, err := log.ParseKind(s)
		f.Kind = &k
		return err
	})
	set(v.Protocol, func(s string) error {
		p, err := parseProtocol(s)
		f.Protocol = &p
		return err
	})
	set(v.Code, func(s string) error {
		return parseCode(s, &f)
	})
	set(v.Client, func(s string) error {
		id, err := parseClientID(s)
		f.Client = &id
		return err
	})
	set(v.Session, func(s string) error {
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid session %q", s)
		}
		id := uint32(n)
		f.Session = &id
		return nil
	})
	set(v.Since, func(s string) (err error) {
		f.Since, err = parseTime(s)
		return err
	})
	set(v.Until, func(s string) (err error) {
		f.Until, err = parseTime(s)
		return err
	})
	return f, err
}

// parseProtocol accepts a protocol name such as "settings" or
// "driver-control", or its number.
func parseProtocol(s string) (wire.Protocol, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return wire.Protocol(n), nil
	}
	want := strings.ReplaceAll(s, "-", "_")
	for p := 0; p < 256; p++ {
		if strings.EqualFold(wire.Protocol(p).String(), want) {
			return wire.Protocol(p), nil
		}
	}
	return 0, fmt.Errorf("invalid protocol %q", s)
}

// parseCode accepts a message code number, or the name of a code of the
// bus's own protocols such as "keepalive" or "rst". A name also selects its
// protocol unless one was given.
func parseCode(s string, f *log.Filter) error {
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		code := wire.MessageCode(n)
		f.Code = &code
		return nil
	}
	want := strings.ReplaceAll(s, "-", "_")
	for _, p := range []wire.Protocol{wire.ProtocolSession, wire.ProtocolClientManagement, wire.ProtocolSystem} {
		if f.Protocol != nil && *f.Protocol != p {
			continue
		}
		for c := 0; c < 256; c++ {
			h := log.Header{Proto: uint8(p), Code: uint8(c)}
			if strings.EqualFold(h.CodeName(), want) {
				code := wire.MessageCode(c)
				f.Code = &code
				if f.Protocol == nil {
					f.Protocol = &p
				}
				return nil
			}
		}
	}
	return fmt.Errorf("invalid message code %q", s)
}

// parseClientID accepts "prefix:local" or a raw number.
func parseClientID(s string) (wire.ClientID, error) {
	if prefix, local, ok := strings.Cut(s, ":"); ok {
		p, perr := strconv.ParseUint(prefix, 10, 3)
		l, lerr := strconv.ParseUint(local, 10, 13)
		if perr != nil || lerr != nil {
			return 0, fmt.Errorf("invalid client id %q", s)
		}
		return wire.MakeClientID(uint8(p), uint16(l)), nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid client id %q", s)
	}
	return wire.ClientID(n), nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return t, fmt.Errorf("invalid time %q: want RFC 3339", s)
	}
	return t, nil
}
