package drivercontrol

import (
	"errors"
	"fmt"
	"time"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/wire"
)

// ErrUnexpectedReply indicates a response for a different command.
var ErrUnexpectedReply = errors.New("unexpected driver control reply")

// DefaultTimeout bounds a single request.
const DefaultTimeout = 3 * time.Second

// Client is the tool side of the protocol. Connect it with
// bus.Channel.ConnectProtocolClient; requests are issued one at a time.
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
		BaseClient: bus.NewBaseClient(wire.ProtocolDriverControl, MinVersion, MaxVersion),
		timeout:    timeout,
	}
}

// Pause stops the driver at the next frame boundary.
func (c *Client) Pause() error {
	_, err := c.request(Request{Command: CommandPause})
	return err
}

// Resume lets a paused or halted driver continue.
func (c *Client) Resume() error {
	_, err := c.request(Request{Command: CommandResume})
	return err
}

// Step runs a paused driver for count frames and returns once it has
// paused again.
func (c *Client) Step(count uint32) error {
	_, err := c.request(Request{Command: CommandStep, Count: count})
	return err
}

// QueryStatus returns the driver status.
func (c *Client) QueryStatus() (DriverStatus, error) {
	resp, err := c.request(Request{Command: CommandQueryStatus})
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}

// QueryNumGPUs returns the number of GPUs the driver exposes.
func (c *Client) QueryNumGPUs() (uint32, error) {
	resp, err := c.request(Request{Command: CommandQueryNumGPUs})
	if err != nil {
		return 0, err
	}
	return resp.NumGPUs, nil
}

// QueryDeviceClock returns the current clocks of gpu.
func (c *Client) QueryDeviceClock(gpu uint32) (Clocks, error) {
	return c.clocks(Request{Command: CommandQueryDeviceClock, GPU: gpu})
}

// QueryMaxDeviceClock returns the peak clocks of gpu.
func (c *Client) QueryMaxDeviceClock(gpu uint32) (Clocks, error) {
	return c.clocks(Request{Command: CommandQueryMaxDeviceClock, GPU: gpu})
}

// SetDeviceClockMode changes the clock mode of gpu.
func (c *Client) SetDeviceClockMode(gpu uint32, mode ClockMode) error {
	_, err := c.request(Request{Command: CommandSetDeviceClockMode, GPU: gpu, Mode: mode})
	return err
}

// QueryDeviceClockMode returns the clock mode of gpu.
func (c *Client) QueryDeviceClockMode(gpu uint32) (ClockMode, error) {
	resp, err := c.request(Request{Command: CommandQueryDeviceClockMode, GPU: gpu})
	if err != nil {
		return 0, err
	}
	return resp.Mode, nil
}

func (c *Client) clocks(req Request) (Clocks, error) {
	resp, err := c.request(req)
	if err != nil {
		return Clocks{}, err
	}
	if resp.Clocks == nil {
		return Clocks{}, fmt.Errorf("%w: %s without clocks", ErrUnexpectedReply, req.Command)
	}
	return *resp.Clocks, nil
}

// request performs one round trip. A response carrying a failure result
// is returned as that result's error.
func (c *Client) request(req Request) (*Response, error) {
	payload, err := wire.EncodePayload(req)
	if err != nil {
		return nil, err
	}
	data, err := c.Transact(payload, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command, err)
	}
	var resp Response
	if err := wire.DecodePayload(data, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command, err)
	}
	if resp.Command != req.Command {
		return nil, fmt.Errorf("%w: got %s for %s", ErrUnexpectedReply, resp.Command, req.Command)
	}
	if err := resp.Result.Err(); err != nil {
		return &resp, fmt.Errorf("%s: %w", req.Command, err)
	}
	return &resp, nil
}
