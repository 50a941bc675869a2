package wire

import (
	"fmt"
	"strings"
)

// ProtocolFlags is a bitmask of client protocols a client serves.
type ProtocolFlags uint16

// Protocol capability bits.
const (
	ProtocolFlagLogging       = ProtocolFlags(1) << ProtocolLogging
	ProtocolFlagSettings      = ProtocolFlags(1) << ProtocolSettings
	ProtocolFlagDriverControl = ProtocolFlags(1) << ProtocolDriverControl
	ProtocolFlagRGP           = ProtocolFlags(1) << ProtocolRGP
	ProtocolFlagETW           = ProtocolFlags(1) << ProtocolETW
	ProtocolFlagGPUCrashDump  = ProtocolFlags(1) << ProtocolGPUCrashDump
	ProtocolFlagEvent         = ProtocolFlags(1) << ProtocolEvent
)

// Component is the kind of program behind a client.
type Component uint8

const (
	ComponentUnknown Component = 0
	ComponentServer  Component = 1
	ComponentTool    Component = 2
	ComponentDriver  Component = 3
)

// String returns the component name.
func (c Component) String() string {
	switch c {
	case ComponentUnknown:
		return "UNKNOWN"
	case ComponentServer:
		return "SERVER"
	case ComponentTool:
		return "TOOL"
	case ComponentDriver:
		return "DRIVER"
	default:
		return fmt.Sprintf("COMPONENT_%d", uint8(c))
	}
}

// StatusFlags is a bitmask of client state.
type StatusFlags uint32

const (
	StatusDeveloperModeEnabled StatusFlags = 1 << 0
	StatusHaltOnConnect        StatusFlags = 1 << 1
	StatusGPUCrashDumpsEnabled StatusFlags = 1 << 2
	StatusPipelineDumpsEnabled StatusFlags = 1 << 3
)

// ClientMetadata describes a client's capabilities. It is used both as
// a description and as a discovery filter; a zero sub-field in a filter
// matches anything.
type ClientMetadata struct {
	Protocols ProtocolFlags
	Component Component
	Status    StatusFlags
}

// Pack encodes the metadata into the 64-bit header Sequence slot:
// bits 0-15 protocols, 16-23 component, 24-31 reserved, 32-63 status.
func (m ClientMetadata) Pack() uint64 {
	return uint64(m.Protocols) | uint64(m.Component)<<16 | uint64(m.Status)<<32
}

// UnpackMetadata decodes the value produced by Pack.
func UnpackMetadata(v uint64) ClientMetadata {
	return ClientMetadata{
		Protocols: ProtocolFlags(v & 0xFFFF),
		Component: Component((v >> 16) & 0xFF),
		Status:    StatusFlags(v >> 32),
	}
}

// IsZero reports whether every sub-field is zero (the match-all filter).
func (m ClientMetadata) IsZero() bool {
	return m == ClientMetadata{}
}

// String returns a compact description for logs and the console.
func (m ClientMetadata) String() string {
	var protos []string
	for p := Protocol(0); p < 16; p++ {
		if m.Protocols&p.Flag() != 0 {
			protos = append(protos, p.String())
		}
	}
	return fmt.Sprintf("component=%s protocols=[%s] status=%#x",
		m.Component, strings.Join(protos, ","), uint32(m.Status))
}

// Matches reports whether candidate satisfies filter on every sub-field.
// A zero filter sub-field is a wildcard; the component must be equal; each
// bitmask must contain all of the filter's bits.
func Matches(filter, candidate ClientMetadata) bool {
	if filter.Component != ComponentUnknown && filter.Component != candidate.Component {
		return false
	}
	if filter.Protocols&candidate.Protocols != filter.Protocols {
		return false
	}
	if filter.Status&candidate.Status != filter.Status {
		return false
	}
	return true
}

// MatchesAny reports whether candidate shares anything with filter: an
// equal component, or a non-empty intersection of either bitmask.
func MatchesAny(filter, candidate ClientMetadata) bool {
	return filter.Component == candidate.Component ||
		filter.Protocols&candidate.Protocols != 0 ||
		filter.Status&candidate.Status != 0
}
