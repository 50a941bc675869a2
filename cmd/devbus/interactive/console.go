// Package interactive provides the interactive console used to drive a
// driver over the bus.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/protocols/drivercontrol"
	"github.com/devbus/devbus-go/pkg/protocols/settings"
	"github.com/devbus/devbus-go/pkg/wire"
)

// Console handles interactive mode for `devbus console`. The channel must
// be registered and update in the background.
type Console struct {
	ch      *bus.Channel
	timeout time.Duration
	out     io.Writer
	rl      *readline.Instance

	target wire.ClientID
	dc     *drivercontrol.Client
	st     *settings.Client
}

// New creates a console reading commands with readline.
func New(ch *bus.Channel, timeout time.Duration) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devbus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := NewWithWriter(ch, timeout, rl.Stdout())
	c.rl = rl
	return c, nil
}

// NewWithWriter creates a console without a terminal. Commands are fed
// through Execute and their output goes to w.
func NewWithWriter(ch *bus.Channel, timeout time.Duration, w io.Writer) *Console {
	return &Console{ch: ch, timeout: timeout, out: w}
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	if c.rl != nil {
		return c.rl.Stdout()
	}
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.disconnect()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
		if !c.Execute(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console
// should exit.
func (c *Console) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "find", "f":
		c.cmdFind(args)
	case "connect", "c":
		c.cmdConnect(args)
	case "disconnect":
		c.disconnect()
		fmt.Fprintln(c.out, "Disconnected")
	case "status", "s":
		c.cmdStatus()
	case "pause":
		c.report("pause", c.withDriver(func(dc *drivercontrol.Client) error { return dc.Pause() }))
	case "resume":
		c.report("resume", c.withDriver(func(dc *drivercontrol.Client) error { return dc.Resume() }))
	case "step":
		c.cmdStep(args)
	case "gpus":
		c.cmdGPUs()
	case "clocks":
		c.cmdClocks(args, false)
	case "max-clocks":
		c.cmdClocks(args, true)
	case "mode":
		c.cmdMode(args)
	case "settings", "set":
		c.cmdSettings(args)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Developer Bus Console Commands:
  Discovery:
    find [protocol]         - Find the first client serving a protocol
    connect [client-id]     - Open driver control and settings sessions
    disconnect              - Close the sessions

  Driver Control:
    status                  - Show driver status
    pause                   - Pause at the next frame
    resume                  - Resume a paused or halted driver
    step [n]                - Run n frames (default 1), then pause
    gpus                    - Show the number of GPUs
    clocks [gpu]            - Show current clocks
    max-clocks [gpu]        - Show maximum clocks
    mode [gpu] [mode]       - Show or set the clock mode

  Settings:
    settings list           - List all settings
    settings get <name>     - Show one setting
    settings set <name> <v> - Change a setting

  General:
    help                    - Show this help
    quit                    - Exit console

  Client IDs are written prefix:local, e.g. 1:2`)
}

// cmdFind handles the find command.
func (c *Console) cmdFind(args []string) {
	filter := wire.ClientMetadata{Protocols: wire.ProtocolFlagDriverControl}
	if len(args) > 0 {
		p, err := parseProtocol(args[0])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		filter = wire.ClientMetadata{Protocols: p.Flag()}
	}

	id, md, err := c.ch.FindFirstClient(filter, c.timeout)
	if err != nil {
		fmt.Fprintf(c.out, "No client found: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Found %s: %s\n", id, formatMetadata(md))
}

// cmdConnect handles the connect command.
func (c *Console) cmdConnect(args []string) {
	var (
		id  wire.ClientID
		md  wire.ClientMetadata
		err error
	)
	if len(args) > 0 {
		id, err = ParseClientID(args[0])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		md.Protocols = wire.ProtocolFlagDriverControl | wire.ProtocolFlagSettings
	} else {
		id, md, err = c.ch.FindFirstClient(wire.ClientMetadata{Component: wire.ComponentDriver}, c.timeout)
		if err != nil {
			fmt.Fprintf(c.out, "No driver found: %v\n", err)
			return
		}
	}

	c.disconnect()
	c.target = id

	if md.Protocols&wire.ProtocolFlagDriverControl != 0 {
		dc := drivercontrol.NewClient(c.timeout)
		if err := c.ch.ConnectProtocolClient(dc, id); err != nil {
			fmt.Fprintf(c.out, "Driver control: %v\n", err)
		} else {
			c.dc = dc
		}
	}
	if md.Protocols&wire.ProtocolFlagSettings != 0 {
		st := settings.NewClient(c.timeout)
		if err := c.ch.ConnectProtocolClient(st, id); err != nil {
			fmt.Fprintf(c.out, "Settings: %v\n", err)
		} else {
			c.st = st
		}
	}

	if c.dc == nil && c.st == nil {
		fmt.Fprintf(c.out, "Could not connect to %s\n", id)
		return
	}
	var opened []string
	if c.dc != nil {
		opened = append(opened, "driver-control")
	}
	if c.st != nil {
		opened = append(opened, "settings")
	}
	fmt.Fprintf(c.out, "Connected to %s (%s)\n", id, strings.Join(opened, ", "))
}

func (c *Console) disconnect() {
	if c.dc != nil {
		_ = c.dc.Disconnect()
		c.dc = nil
	}
	if c.st != nil {
		_ = c.st.Disconnect()
		c.st = nil
	}
	c.target = wire.BroadcastClientID
}

var errNoDriver = errors.New("not connected to a driver (use 'connect')")

// withDriver runs fn with the driver control client.
func (c *Console) withDriver(fn func(*drivercontrol.Client) error) error {
	if c.dc == nil || !c.dc.IsConnected() {
		return errNoDriver
	}
	return fn(c.dc)
}

func (c *Console) report(what string, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "Error: %s: %v\n", what, err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

// cmdStatus handles the status command.
func (c *Console) cmdStatus() {
	fmt.Fprintf(c.out, "Console:  %s\n", c.ch.ClientID())
	if c.target.IsBroadcast() {
		fmt.Fprintln(c.out, "Target:   none")
		return
	}
	fmt.Fprintf(c.out, "Target:   %s\n", c.target)
	err := c.withDriver(func(dc *drivercontrol.Client) error {
		status, err := dc.QueryStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Driver:   %s\n", status)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

// cmdStep handles the step command.
func (c *Console) cmdStep(args []string) {
	count := uint64(1)
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || n == 0 {
			fmt.Fprintln(c.out, "Usage: step [n]  (n >= 1)")
			return
		}
		count = n
	}
	c.report("step", c.withDriver(func(dc *drivercontrol.Client) error { return dc.Step(uint32(count)) }))
}

// cmdGPUs handles the gpus command.
func (c *Console) cmdGPUs() {
	err := c.withDriver(func(dc *drivercontrol.Client) error {
		n, err := dc.QueryNumGPUs()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "GPUs: %d\n", n)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

// cmdClocks handles the clocks and max-clocks commands.
func (c *Console) cmdClocks(args []string, max bool) {
	gpu, ok := c.gpuArg(args)
	if !ok {
		return
	}
	err := c.withDriver(func(dc *drivercontrol.Client) error {
		query := dc.QueryDeviceClock
		label := "Clocks"
		if max {
			query = dc.QueryMaxDeviceClock
			label = "Max clocks"
		}
		clk, err := query(gpu)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s (gpu %d): engine %.0f MHz, memory %.0f MHz\n", label, gpu, clk.GPU, clk.Memory)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

// cmdMode handles the mode command.
func (c *Console) cmdMode(args []string) {
	gpu, ok := c.gpuArg(args)
	if !ok {
		return
	}
	err := c.withDriver(func(dc *drivercontrol.Client) error {
		if len(args) < 2 {
			mode, err := dc.QueryDeviceClockMode(gpu)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Clock mode (gpu %d): %s\n", gpu, mode)
			return nil
		}
		mode, err := drivercontrol.ParseClockMode(args[1])
		if err != nil {
			return err
		}
		if err := dc.SetDeviceClockMode(gpu, mode); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Clock mode (gpu %d) set to %s\n", gpu, mode)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) gpuArg(args []string) (uint32, bool) {
	if len(args) == 0 {
		return 0, true
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid GPU index: %s\n", args[0])
		return 0, false
	}
	return uint32(n), true
}

// cmdSettings handles the settings command.
func (c *Console) cmdSettings(args []string) {
	if c.st == nil || !c.st.IsConnected() {
		fmt.Fprintln(c.out, "Error: not connected to a settings server (use 'connect')")
		return
	}
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch strings.ToLower(args[0]) {
	case "list", "ls":
		all, err := c.st.QuerySettings()
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		for _, s := range all {
			fmt.Fprintln(c.out, formatSetting(s))
		}
		fmt.Fprintf(c.out, "(%d settings)\n", len(all))

	case "get":
		if len(args) < 2 {
			fmt.Fprintln(c.out, "Usage: settings get <name>")
			return
		}
		s, err := c.st.QuerySetting(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(c.out, formatSetting(s))

	case "set":
		if len(args) < 3 {
			fmt.Fprintln(c.out, "Usage: settings set <name> <value>")
			return
		}
		value := strings.Trim(strings.Join(args[2:], " "), "\"'")
		s, err := c.st.SetSetting(args[1], value)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(c.out, formatSetting(s))

	default:
		fmt.Fprintf(c.out, "Unknown settings command: %s\n", args[0])
	}
}

func formatSetting(s settings.Setting) string {
	line := fmt.Sprintf("  %-20s %-6s = %q", s.Name, s.Type, s.Value)
	if s.Description != "" {
		line += "  # " + s.Description
	}
	return line
}

func formatMetadata(md wire.ClientMetadata) string {
	var protos []string
	for p := wire.Protocol(0); p < 16; p++ {
		if md.Protocols&p.Flag() != 0 {
			protos = append(protos, p.String())
		}
	}
	return fmt.Sprintf("component=%s protocols=[%s] status=%#x", md.Component, strings.Join(protos, " "), uint32(md.Status))
}

// parseProtocol accepts a protocol name such as "settings" or
// "driver-control", or its number.
func parseProtocol(s string) (wire.Protocol, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return wire.Protocol(n), nil
	}
	want := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for p := 0; p < 256; p++ {
		if wire.Protocol(p).String() == want {
			return wire.Protocol(p), nil
		}
	}
	return 0, fmt.Errorf("unknown protocol: %s", s)
}

// ParseClientID parses "prefix:local" or a raw number.
func ParseClientID(s string) (wire.ClientID, error) {
	if prefix, local, ok := strings.Cut(s, ":"); ok {
		p, err1 := strconv.ParseUint(prefix, 10, 8)
		l, err2 := strconv.ParseUint(local, 10, 16)
		if err1 != nil || err2 != nil || p > uint64(wire.MaxRouterPrefix) || l > uint64(wire.MaxLocalID) {
			return 0, fmt.Errorf("invalid client id: %s", s)
		}
		return wire.MakeClientID(uint8(p), uint16(l)), nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid client id: %s", s)
	}
	return wire.ClientID(n), nil
}
