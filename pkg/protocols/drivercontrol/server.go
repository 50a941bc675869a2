package drivercontrol

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/wire"
)

// GPU describes the clock table of one simulated device.
type GPU struct {
	Max    Clocks `yaml:"max"`
	Stable Clocks `yaml:"stable"`
	Min    Clocks `yaml:"min"`
}

// DefaultGPU returns a plausible clock table for a discrete GPU.
func DefaultGPU() GPU {
	return GPU{
		Max:    Clocks{GPU: 2500, Memory: 1250},
		Stable: Clocks{GPU: 1900, Memory: 1000},
		Min:    Clocks{GPU: 500, Memory: 96},
	}
}

// clocksFor returns the clocks a GPU runs at in mode.
func (g GPU) clocksFor(mode ClockMode) Clocks {
	switch mode {
	case ClockModeProfiling:
		return g.Stable
	case ClockModeMinimumMemory:
		return Clocks{GPU: g.Max.GPU, Memory: g.Min.Memory}
	case ClockModeMinimumEngine:
		return Clocks{GPU: g.Min.GPU, Memory: g.Max.Memory}
	default:
		return g.Max
	}
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// GPUs lists the devices the driver exposes (default: one DefaultGPU).
	GPUs []GPU

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Server is the driver side of the protocol.
//
// Driver state sits behind its own lock, separate from the channel's
// session bookkeeping, so the driver thread can call FrameBoundary while
// the channel is servicing sessions.
type Server struct {
	logger   *slog.Logger
	sessions bus.SlotMap[*sessionState]

	mu        sync.Mutex
	status    DriverStatus
	stepsLeft uint32
	frames    uint64
	gpus      []GPU
	modes     []ClockMode
}

// sessionState is the per-session request state machine.
type sessionState struct {
	// reply waits for queue space.
	reply *Response

	// stepping is set while a Step request waits for the driver to pause.
	stepping bool
}

var _ bus.ProtocolServer = (*Server)(nil)

// NewServer creates a server in StatusEarlyInit.
func NewServer(cfg ServerConfig) *Server {
	if len(cfg.GPUs) == 0 {
		cfg.GPUs = []GPU{DefaultGPU()}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		logger: cfg.Logger,
		status: StatusEarlyInit,
		gpus:   cfg.GPUs,
		modes:  make([]ClockMode, len(cfg.GPUs)),
	}
}

// Protocol returns wire.ProtocolDriverControl.
func (s *Server) Protocol() wire.Protocol {
	return wire.ProtocolDriverControl
}

// SupportedVersions returns the served version range.
func (s *Server) SupportedVersions() (uint16, uint16) {
	return MinVersion, MaxVersion
}

// AcceptSession accepts every session.
func (s *Server) AcceptSession(*bus.Session) bool {
	return true
}

// SessionEstablished allocates the session's request state.
func (s *Server) SessionEstablished(session *bus.Session) {
	session.SetDataHandle(s.sessions.Insert(&sessionState{}))
	s.logger.Debug("driver control session established", "session", session)
}

// SessionTerminated releases the session's request state.
func (s *Server) SessionTerminated(session *bus.Session, reason wire.Result) {
	s.sessions.Remove(session.DataHandle())
	s.logger.Debug("driver control session terminated", "session", session, "reason", reason)
}

// UpdateSession advances one session by at most one request.
func (s *Server) UpdateSession(session *bus.Session) {
	st, ok := s.sessions.Get(session.DataHandle())
	if !ok {
		return
	}

	if st.stepping {
		status := s.Status()
		if status == StatusRunning {
			return
		}
		st.stepping = false
		st.reply = &Response{Command: CommandStep, Result: wire.ResultSuccess, Status: status}
	}
	if st.reply != nil {
		if !s.flush(session, st) {
			return
		}
	}

	payload, err := session.Receive(0)
	if err != nil {
		if !errors.Is(err, wire.ErrNotReady) && !errors.Is(err, wire.ErrEndOfStream) {
			session.Abort(wire.ResultOf(err))
		}
		return
	}

	var req Request
	if err := wire.DecodePayload(payload, &req); err != nil {
		s.logger.Debug("malformed driver control request", "session", session, "error", err)
		st.reply = &Response{Result: wire.ResultError}
	} else {
		st.reply, st.stepping = s.handle(req)
	}
	if st.reply != nil {
		s.flush(session, st)
	}
}

// flush sends the pending reply. It reports whether the reply left.
func (s *Server) flush(session *bus.Session, st *sessionState) bool {
	payload, err := wire.EncodePayload(st.reply)
	if err != nil {
		session.Abort(wire.ResultError)
		return false
	}
	switch err := session.Send(payload); {
	case err == nil:
		st.reply = nil
		return true
	case errors.Is(err, wire.ErrNotReady):
		return false
	default:
		session.Abort(wire.ResultOf(err))
		return false
	}
}

// handle applies req to the driver state. A nil response with stepping
// set defers the reply until the driver pauses again.
func (s *Server) handle(req Request) (*Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &Response{Command: req.Command, Result: wire.ResultSuccess}
	switch req.Command {
	case CommandPause:
		switch s.status {
		case StatusRunning:
			s.setStatusLocked(StatusPaused)
		case StatusPaused:
		default:
			resp.Result = wire.ResultRejected
		}

	case CommandResume:
		switch s.status {
		case StatusPaused:
			s.stepsLeft = 0
			s.setStatusLocked(StatusRunning)
		case StatusHaltedOnStart:
			s.setStatusLocked(StatusLateInit)
		case StatusRunning:
		default:
			resp.Result = wire.ResultRejected
		}

	case CommandStep:
		switch {
		case req.Count == 0:
			resp.Result = wire.ResultError
		case s.status != StatusPaused:
			resp.Result = wire.ResultRejected
		default:
			s.stepsLeft = req.Count
			s.setStatusLocked(StatusRunning)
			return nil, true
		}

	case CommandQueryStatus:

	case CommandQueryNumGPUs:
		resp.NumGPUs = uint32(len(s.gpus))

	case CommandQueryDeviceClock:
		if !s.validGPU(req.GPU) {
			resp.Result = wire.ResultError
			break
		}
		c := s.gpus[req.GPU].clocksFor(s.modes[req.GPU])
		resp.Clocks = &c

	case CommandQueryMaxDeviceClock:
		if !s.validGPU(req.GPU) {
			resp.Result = wire.ResultError
			break
		}
		c := s.gpus[req.GPU].Max
		resp.Clocks = &c

	case CommandSetDeviceClockMode:
		if !s.validGPU(req.GPU) || req.Mode >= clockModeCount {
			resp.Result = wire.ResultError
			break
		}
		s.modes[req.GPU] = req.Mode
		resp.Mode = req.Mode
		s.logger.Info("device clock mode changed", "gpu", req.GPU, "mode", req.Mode)

	case CommandQueryDeviceClockMode:
		if !s.validGPU(req.GPU) {
			resp.Result = wire.ResultError
			break
		}
		resp.Mode = s.modes[req.GPU]

	default:
		resp.Result = wire.ResultError
	}
	resp.Status = s.status
	return resp, false
}

func (s *Server) validGPU(gpu uint32) bool {
	return int(gpu) < len(s.gpus)
}

func (s *Server) setStatusLocked(to DriverStatus) {
	if s.status == to {
		return
	}
	s.logger.Debug("driver status changed", "from", s.status, "to", to)
	s.status = to
}

// Status returns the driver status.
func (s *Server) Status() DriverStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsHalted reports whether the driver must hold its thread: it is paused
// or waiting for a tool to release it at startup.
func (s *Server) IsHalted() bool {
	switch s.Status() {
	case StatusPaused, StatusHaltedOnStart:
		return true
	default:
		return false
	}
}

// Frames returns the number of frame boundaries observed.
func (s *Server) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// FinishEarlyInit ends early initialization. With haltOnStart the driver
// waits in StatusHaltedOnStart until a tool resumes it.
func (s *Server) FinishEarlyInit(haltOnStart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusEarlyInit {
		return
	}
	if haltOnStart {
		s.setStatusLocked(StatusHaltedOnStart)
	} else {
		s.setStatusLocked(StatusLateInit)
	}
}

// FinishLateInit moves the driver from StatusLateInit to StatusRunning.
func (s *Server) FinishLateInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusLateInit {
		s.setStatusLocked(StatusRunning)
	}
}

// FrameBoundary marks the end of a frame. While stepping it counts down
// the requested frames and pauses the driver at zero.
func (s *Server) FrameBoundary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.status != StatusRunning || s.stepsLeft == 0 {
		return
	}
	s.stepsLeft--
	if s.stepsLeft == 0 {
		s.setStatusLocked(StatusPaused)
	}
}
