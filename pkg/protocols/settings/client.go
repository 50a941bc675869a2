package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/wire"
)

// ErrUnexpectedReply indicates a response for a different command.
var ErrUnexpectedReply = errors.New("unexpected settings reply")

// DefaultTimeout bounds a single request.
const DefaultTimeout = 3 * time.Second

// Client is the tool side of the settings protocol.
type Client struct {
	*bus.BaseClient

	timeout time.Duration
}

var _ bus.ProtocolClient = (*Client)(nil)

// NewClient creates a client whose requests wait at most timeout. A zero
// timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseClient: bus.NewBaseClient(wire.ProtocolSettings, MinVersion, MaxVersion),
		timeout:    timeout,
	}
}

// QueryNumSettings returns the number of settings the server publishes.
func (c *Client) QueryNumSettings() (uint32, error) {
	resp, err := c.request(Request{Command: CommandQueryNumSettings})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// QuerySetting returns the named setting. A name the server does not
// know fails with wire.ErrUnavailable.
func (c *Client) QuerySetting(name string) (Setting, error) {
	resp, err := c.request(Request{Command: CommandQuerySetting, Name: name})
	if err != nil {
		return Setting{}, err
	}
	if resp.Setting == nil {
		return Setting{}, fmt.Errorf("%w: no setting in reply", ErrUnexpectedReply)
	}
	return *resp.Setting, nil
}

// SetSetting changes a setting and returns its new state.
func (c *Client) SetSetting(name, value string) (Setting, error) {
	resp, err := c.request(Request{Command: CommandSetSetting, Name: name, Value: value})
	if err != nil {
		return Setting{}, err
	}
	if resp.Setting == nil {
		return Setting{}, fmt.Errorf("%w: no setting in reply", ErrUnexpectedReply)
	}
	return *resp.Setting, nil
}

// QuerySettings returns every setting. The whole enumeration shares one
// timeout.
func (c *Client) QuerySettings() ([]Setting, error) {
	s := c.Session()
	if s == nil {
		return nil, bus.ErrNotConnected
	}
	deadline := time.Now().Add(c.timeout)
	payload, err := wire.EncodePayload(Request{Command: CommandQuerySettings})
	if err != nil {
		return nil, err
	}
	if err := s.SendWait(payload, c.timeout); err != nil {
		return nil, fmt.Errorf("%s: %w", CommandQuerySettings, err)
	}

	var out []Setting
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return out, fmt.Errorf("%s: %w", CommandQuerySettings, wire.ErrNotReady)
		}
		resp, err := c.receive(s, CommandQuerySettings, left)
		if err != nil {
			return out, err
		}
		if resp.Done {
			return out, nil
		}
		if resp.Setting != nil {
			out = append(out, *resp.Setting)
		}
	}
}

func (c *Client) request(req Request) (*Response, error) {
	s := c.Session()
	if s == nil {
		return nil, bus.ErrNotConnected
	}
	payload, err := wire.EncodePayload(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := s.SendWait(payload, c.timeout); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command, err)
	}
	left := c.timeout - time.Since(start)
	if left <= 0 {
		left = time.Millisecond
	}
	return c.receive(s, req.Command, left)
}

// receive reads one response for cmd. A failure result is returned as
// that result's error.
func (c *Client) receive(s *bus.Session, cmd Command, timeout time.Duration) (*Response, error) {
	data, err := s.Receive(timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	var resp Response
	if err := wire.DecodePayload(data, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	if resp.Command != cmd {
		return nil, fmt.Errorf("%w: got %s for %s", ErrUnexpectedReply, resp.Command, cmd)
	}
	if err := resp.Result.Err(); err != nil {
		return &resp, fmt.Errorf("%s: %w", cmd, err)
	}
	return &resp, nil
}
