package interactive

import (
	"bytes"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/protocols/drivercontrol"
	"github.com/devbus/devbus-go/pkg/protocols/settings"
	"github.com/devbus/devbus-go/pkg/router"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func newChannel(t *testing.T, r *router.Router, component wire.Component, servers ...bus.ProtocolServer) *bus.Channel {
	t.Helper()
	cfg := bus.DefaultConfig()
	cfg.BackgroundUpdate = true
	cfg.Component = component
	ch := bus.New(r.NewLocalTransport(), cfg)
	for _, srv := range servers {
		require.NoError(t, ch.RegisterProtocolServer(srv))
	}
	require.NoError(t, ch.Register(testTimeout))
	t.Cleanup(func() { ch.Unregister() })
	return ch
}

type fixture struct {
	dc      *drivercontrol.Server
	st      *settings.Server
	driver  *bus.Channel
	console *Console
	out     *bytes.Buffer
}

// newFixture puts a running driver and a console on an in-process router.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := router.New(router.Config{Prefix: 1})
	t.Cleanup(func() { r.Close() })

	dc := drivercontrol.NewServer(drivercontrol.ServerConfig{
		GPUs: []drivercontrol.GPU{drivercontrol.DefaultGPU(), drivercontrol.DefaultGPU()},
	})
	dc.FinishEarlyInit(false)
	dc.FinishLateInit()

	st, err := settings.NewServer(settings.ServerConfig{Settings: []settings.Setting{
		{Name: "frame_limit", Type: settings.TypeUint, Value: "0", Description: "fps cap"},
		{Name: "shader_cache", Type: settings.TypeBool, Value: "true"},
	}})
	require.NoError(t, err)

	driver := newChannel(t, r, wire.ComponentDriver, dc, st)
	tool := newChannel(t, r, wire.ComponentTool)

	out := &bytes.Buffer{}
	c := NewWithWriter(tool, testTimeout, out)
	t.Cleanup(c.disconnect)
	return &fixture{dc: dc, st: st, driver: driver, console: c, out: out}
}

// run executes line and returns what it printed.
func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.True(t, f.console.Execute(line))
	return f.out.String()
}

func TestConsoleRequiresConnection(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run(t, "pause"), "not connected to a driver")
	assert.Contains(t, f.run(t, "settings list"), "not connected to a settings server")
	assert.Contains(t, f.run(t, "status"), "Target:   none")
}

func TestConsoleFindAndConnect(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "find settings")
	assert.Contains(t, out, "Found "+f.driver.ClientID().String())
	assert.Contains(t, out, "component=DRIVER")
	assert.Contains(t, out, "SETTINGS")

	out = f.run(t, "connect")
	assert.Contains(t, out, "Connected to "+f.driver.ClientID().String())
	assert.Contains(t, out, "driver-control, settings")

	assert.Contains(t, f.run(t, "status"), "Driver:   RUNNING")
}

func TestConsoleConnectByID(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "connect "+f.driver.ClientID().String())
	assert.Contains(t, out, "Connected to")
	assert.Contains(t, f.run(t, "gpus"), "GPUs: 2")

	assert.Contains(t, f.run(t, "connect bogus"), "invalid client id")
}

func TestConsoleDriverControl(t *testing.T) {
	f := newFixture(t)
	f.run(t, "connect")

	assert.Contains(t, f.run(t, "pause"), "OK")
	assert.Equal(t, drivercontrol.StatusPaused, f.dc.Status())
	assert.Contains(t, f.run(t, "status"), "PAUSED")

	assert.Contains(t, f.run(t, "resume"), "OK")
	assert.Equal(t, drivercontrol.StatusRunning, f.dc.Status())

	assert.Contains(t, f.run(t, "step 0"), "Usage: step")
	assert.Contains(t, f.run(t, "step"), "Error: step")

	assert.Contains(t, f.run(t, "max-clocks 1"), "Max clocks (gpu 1)")
	assert.Contains(t, f.run(t, "clocks"), "Clocks (gpu 0)")
	assert.Contains(t, f.run(t, "clocks 9"), "Error:")
	assert.Contains(t, f.run(t, "clocks x"), "Invalid GPU index")

	assert.Contains(t, f.run(t, "mode 0 peak"), "set to peak")
	assert.Contains(t, f.run(t, "mode 0"), "Clock mode (gpu 0): peak")
	assert.Contains(t, f.run(t, "mode 0 turbo"), "Error:")
}

func TestConsoleSettings(t *testing.T) {
	f := newFixture(t)
	f.run(t, "connect")

	out := f.run(t, "settings")
	assert.Contains(t, out, "frame_limit")
	assert.Contains(t, out, "shader_cache")
	assert.Contains(t, out, "(2 settings)")

	assert.Contains(t, f.run(t, "settings set frame_limit 60"), `"60"`)
	assert.Contains(t, f.run(t, "settings get frame_limit"), `"60"`)

	assert.Contains(t, f.run(t, "settings set frame_limit fast"), "Error:")
	assert.Contains(t, f.run(t, "settings get nope"), "Error:")
	assert.Contains(t, f.run(t, "settings get"), "Usage: settings get")
	assert.Contains(t, f.run(t, "settings frob"), "Unknown settings command")
}

func TestConsoleMisc(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run(t, "help"), "Driver Control:")
	assert.Contains(t, f.run(t, "frobnicate"), "Unknown command: frobnicate")
	assert.Empty(t, f.run(t, "   "))
	assert.Contains(t, f.run(t, "find rgp"), "No client found")
	assert.False(t, f.console.Execute("quit"))
}

func TestParseClientID(t *testing.T) {
	id, err := ParseClientID("1:2")
	require.NoError(t, err)
	assert.Equal(t, wire.MakeClientID(1, 2), id)

	id, err = ParseClientID("0x2001")
	require.NoError(t, err)
	assert.Equal(t, wire.MakeClientID(1, 1), id)

	for _, bad := range []string{"8:1", "1:9000", "a:b", "nope"} {
		_, err := ParseClientID(bad)
		assert.Error(t, err, bad)
	}
}
