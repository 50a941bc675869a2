package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/wire"
)

// Settings errors.
var (
	ErrInvalidSetting   = errors.New("invalid setting")
	ErrInvalidValue     = errors.New("invalid setting value")
	ErrUnknownSetting   = errors.New("unknown setting")
	ErrDuplicateSetting = errors.New("duplicate setting")
)

// ChangeFunc is called after a setting's value changed.
type ChangeFunc func(Setting)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Settings seeds the table.
	Settings []Setting

	// OnChange is called for every accepted change (optional).
	OnChange ChangeFunc

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Server publishes a settings table.
type Server struct {
	logger   *slog.Logger
	onChange ChangeFunc
	sessions bus.SlotMap[*sessionState]

	mu    sync.RWMutex
	order []string
	table map[string]*Setting
}

// sessionState holds the replies not yet queued on the session. An
// enumeration is snapshotted when requested and drained one reply per
// successful send.
type sessionState struct {
	replies []*Response
}

var _ bus.ProtocolServer = (*Server)(nil)

// NewServer creates a server. Invalid or duplicate seed settings are
// rejected.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		table:    make(map[string]*Setting),
	}
	for _, st := range cfg.Settings {
		if err := s.Add(st); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Protocol returns wire.ProtocolSettings.
func (s *Server) Protocol() wire.Protocol {
	return wire.ProtocolSettings
}

// SupportedVersions returns the served version range.
func (s *Server) SupportedVersions() (uint16, uint16) {
	return MinVersion, MaxVersion
}

// AcceptSession accepts every session.
func (s *Server) AcceptSession(*bus.Session) bool {
	return true
}

// SessionEstablished allocates the session's reply queue.
func (s *Server) SessionEstablished(session *bus.Session) {
	session.SetDataHandle(s.sessions.Insert(&sessionState{}))
}

// SessionTerminated releases the session's reply queue.
func (s *Server) SessionTerminated(session *bus.Session, reason wire.Result) {
	s.sessions.Remove(session.DataHandle())
	s.logger.Debug("settings session terminated", "session", session, "reason", reason)
}

// UpdateSession drains pending replies, then takes at most one request.
func (s *Server) UpdateSession(session *bus.Session) {
	st, ok := s.sessions.Get(session.DataHandle())
	if !ok {
		return
	}
	if !s.drain(session, st) {
		return
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
		s.logger.Debug("malformed settings request", "session", session, "error", err)
		st.replies = []*Response{{Result: wire.ResultError}}
	} else {
		st.replies = s.handle(req)
	}
	s.drain(session, st)
}

// drain sends queued replies until the session pushes back. It reports
// whether the queue is empty.
func (s *Server) drain(session *bus.Session, st *sessionState) bool {
	for len(st.replies) > 0 {
		payload, err := wire.EncodePayload(st.replies[0])
		if err != nil {
			session.Abort(wire.ResultError)
			return false
		}
		if err := session.Send(payload); err != nil {
			if !errors.Is(err, wire.ErrNotReady) {
				session.Abort(wire.ResultOf(err))
			}
			return false
		}
		st.replies[0] = nil
		st.replies = st.replies[1:]
	}
	return true
}

func (s *Server) handle(req Request) []*Response {
	resp := &Response{Command: req.Command, Result: wire.ResultSuccess}
	switch req.Command {
	case CommandQueryNumSettings:
		resp.Count = uint32(s.Len())

	case CommandQuerySettings:
		all := s.Settings()
		out := make([]*Response, 0, len(all)+1)
		for i := range all {
			out = append(out, &Response{Command: req.Command, Result: wire.ResultSuccess, Setting: &all[i]})
		}
		resp.Done = true
		return append(out, resp)

	case CommandQuerySetting:
		st, ok := s.Get(req.Name)
		if !ok {
			resp.Result = wire.ResultUnavailable
			break
		}
		resp.Setting = &st

	case CommandSetSetting:
		st, err := s.Set(req.Name, req.Value)
		switch {
		case errors.Is(err, ErrUnknownSetting):
			resp.Result = wire.ResultUnavailable
		case err != nil:
			resp.Result = wire.ResultError
		default:
			resp.Setting = &st
		}

	default:
		resp.Result = wire.ResultError
	}
	return []*Response{resp}
}

// Add inserts a new setting.
func (s *Server) Add(st Setting) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.table[st.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSetting, st.Name)
	}
	s.table[st.Name] = &st
	s.order = append(s.order, st.Name)
	return nil
}

// Get returns the named setting.
func (s *Server) Get(name string) (Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.table[name]
	if !ok {
		return Setting{}, false
	}
	return *st, true
}

// Set changes the value of an existing setting and returns the result.
func (s *Server) Set(name, value string) (Setting, error) {
	s.mu.Lock()
	st, ok := s.table[name]
	if !ok {
		s.mu.Unlock()
		return Setting{}, fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	if err := checkValue(st.Type, value); err != nil {
		s.mu.Unlock()
		return Setting{}, err
	}
	changed := st.Value != value
	st.Value = value
	out := *st
	s.mu.Unlock()

	if changed {
		s.logger.Info("setting changed", "name", name, "value", value)
		if s.onChange != nil {
			s.onChange(out)
		}
	}
	return out, nil
}

// Settings returns a copy of the table in insertion order.
func (s *Server) Settings() []Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Setting, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.table[name])
	}
	return out
}

// Len returns the number of settings.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Apply merges settings into the table: known names take the new value
// when it parses, unknown names are added. It returns the first error and
// keeps applying the rest.
func (s *Server) Apply(settings []Setting) error {
	var first error
	for _, st := range settings {
		var err error
		if _, ok := s.Get(st.Name); ok {
			_, err = s.Set(st.Name, st.Value)
		} else {
			err = s.Add(st)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
