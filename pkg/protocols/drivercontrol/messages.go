package drivercontrol

import (
	"fmt"

	"github.com/devbus/devbus-go/pkg/wire"
)

// Protocol versions served and requested.
const (
	MinVersion uint16 = 1
	MaxVersion uint16 = 2
)

// Command identifies a driver control request.
type Command uint8

const (
	CommandPause Command = iota + 1
	CommandResume
	CommandStep
	CommandQueryStatus
	CommandQueryNumGPUs
	CommandQueryDeviceClock
	CommandQueryMaxDeviceClock
	CommandSetDeviceClockMode
	CommandQueryDeviceClockMode
)

func (c Command) String() string {
	switch c {
	case CommandPause:
		return "PAUSE"
	case CommandResume:
		return "RESUME"
	case CommandStep:
		return "STEP"
	case CommandQueryStatus:
		return "QUERY_STATUS"
	case CommandQueryNumGPUs:
		return "QUERY_NUM_GPUS"
	case CommandQueryDeviceClock:
		return "QUERY_DEVICE_CLOCK"
	case CommandQueryMaxDeviceClock:
		return "QUERY_MAX_DEVICE_CLOCK"
	case CommandSetDeviceClockMode:
		return "SET_DEVICE_CLOCK_MODE"
	case CommandQueryDeviceClockMode:
		return "QUERY_DEVICE_CLOCK_MODE"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
}

// DriverStatus is the lifecycle state of the driver.
type DriverStatus uint8

const (
	StatusEarlyInit DriverStatus = iota
	StatusHaltedOnStart
	StatusLateInit
	StatusRunning
	StatusPaused
)

func (s DriverStatus) String() string {
	switch s {
	case StatusEarlyInit:
		return "EARLY_INIT"
	case StatusHaltedOnStart:
		return "HALTED_ON_START"
	case StatusLateInit:
		return "LATE_INIT"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// ClockMode selects how a GPU's clocks are managed.
type ClockMode uint8

const (
	ClockModeDefault ClockMode = iota
	ClockModeProfiling
	ClockModeMinimumMemory
	ClockModeMinimumEngine
	ClockModePeak
	clockModeCount
)

func (m ClockMode) String() string {
	switch m {
	case ClockModeDefault:
		return "default"
	case ClockModeProfiling:
		return "profiling"
	case ClockModeMinimumMemory:
		return "min-memory"
	case ClockModeMinimumEngine:
		return "min-engine"
	case ClockModePeak:
		return "peak"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseClockMode parses the names printed by ClockMode.String.
func ParseClockMode(s string) (ClockMode, error) {
	for m := ClockModeDefault; m < clockModeCount; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown clock mode %q", s)
}

// Clocks are GPU engine and memory frequencies in MHz.
type Clocks struct {
	GPU    float32 `cbor:"1,keyasint"`
	Memory float32 `cbor:"2,keyasint"`
}

// Request is a driver control request.
type Request struct {
	Command Command   `cbor:"1,keyasint"`
	GPU     uint32    `cbor:"2,keyasint,omitempty"`
	Count   uint32    `cbor:"3,keyasint,omitempty"`
	Mode    ClockMode `cbor:"4,keyasint,omitempty"`
}

// Response answers a Request. Only the fields belonging to the command
// are set.
type Response struct {
	Command Command      `cbor:"1,keyasint"`
	Result  wire.Result  `cbor:"2,keyasint"`
	Status  DriverStatus `cbor:"3,keyasint,omitempty"`
	NumGPUs uint32       `cbor:"4,keyasint,omitempty"`
	Clocks  *Clocks      `cbor:"5,keyasint,omitempty"`
	Mode    ClockMode    `cbor:"6,keyasint,omitempty"`
}
