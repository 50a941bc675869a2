package drivercontrol

import (
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/bus"
	"github.com/devbus/devbus-go/pkg/router"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func newChannel(t *testing.T, r *router.Router, component wire.Component) *bus.Channel {
	t.Helper()
	cfg := bus.DefaultConfig()
	cfg.BackgroundUpdate = true
	cfg.Component = component
	ch := bus.New(r.NewLocalTransport(), cfg)
	require.NoError(t, ch.Register(testTimeout))
	t.Cleanup(func() { ch.Unregister() })
	return ch
}

// setup connects a client to a fresh server over an in-process router.
func setup(t *testing.T, cfg ServerConfig) (*Server, *Client) {
	t.Helper()
	r := router.New(router.Config{})
	t.Cleanup(func() { r.Close() })

	srv := NewServer(cfg)
	driver := newChannel(t, r, wire.ComponentDriver)
	require.NoError(t, driver.RegisterProtocolServer(srv))

	tool := newChannel(t, r, wire.ComponentTool)
	id, _, err := tool.FindFirstClient(wire.ClientMetadata{Protocols: wire.ProtocolDriverControl.Flag()}, testTimeout)
	require.NoError(t, err)
	require.Equal(t, driver.ClientID(), id)

	client := NewClient(testTimeout)
	require.NoError(t, tool.ConnectProtocolClient(client, id))
	t.Cleanup(func() { client.Disconnect() })
	return srv, client
}

func running(t *testing.T, cfg ServerConfig) (*Server, *Client) {
	srv, client := setup(t, cfg)
	srv.FinishEarlyInit(false)
	srv.FinishLateInit()
	require.Equal(t, StatusRunning, srv.Status())
	return srv, client
}

func TestLifecycle(t *testing.T) {
	srv := NewServer(ServerConfig{})
	assert.Equal(t, StatusEarlyInit, srv.Status())
	assert.False(t, srv.IsHalted())

	srv.FinishLateInit()
	assert.Equal(t, StatusEarlyInit, srv.Status())

	srv.FinishEarlyInit(true)
	assert.Equal(t, StatusHaltedOnStart, srv.Status())
	assert.True(t, srv.IsHalted())

	srv.FinishEarlyInit(false)
	assert.Equal(t, StatusHaltedOnStart, srv.Status())
}

func TestResumeFromHaltedOnStart(t *testing.T) {
	srv, client := setup(t, ServerConfig{})
	srv.FinishEarlyInit(true)

	status, err := client.QueryStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusHaltedOnStart, status)

	require.NoError(t, client.Resume())
	assert.Equal(t, StatusLateInit, srv.Status())

	srv.FinishLateInit()
	status, err = client.QueryStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
}

func TestPauseAndResume(t *testing.T) {
	srv, client := running(t, ServerConfig{})

	require.NoError(t, client.Pause())
	assert.Equal(t, StatusPaused, srv.Status())
	require.NoError(t, client.Pause())

	require.NoError(t, client.Resume())
	assert.Equal(t, StatusRunning, srv.Status())
}

func TestPauseBeforeRunningIsRejected(t *testing.T) {
	_, client := setup(t, ServerConfig{})
	err := client.Pause()
	assert.ErrorIs(t, err, wire.ErrRejected)
}

func TestStepPausesAfterCount(t *testing.T) {
	srv, client := running(t, ServerConfig{})
	require.NoError(t, client.Pause())

	done := make(chan error, 1)
	go func() { done <- client.Step(3) }()

	require.Eventually(t, func() bool { return srv.Status() == StatusRunning }, testTimeout, time.Millisecond)
	srv.FrameBoundary()
	srv.FrameBoundary()
	assert.Equal(t, StatusRunning, srv.Status())
	select {
	case err := <-done:
		t.Fatalf("step returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	srv.FrameBoundary()
	assert.Equal(t, StatusPaused, srv.Status())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("step did not return after the driver paused")
	}
	assert.Equal(t, uint64(3), srv.Frames())

	srv.FrameBoundary()
	assert.Equal(t, StatusPaused, srv.Status())
}

func TestStepRequiresPause(t *testing.T) {
	_, client := running(t, ServerConfig{})
	assert.ErrorIs(t, client.Step(1), wire.ErrRejected)

	require.NoError(t, client.Pause())
	assert.ErrorIs(t, client.Step(0), wire.ErrError)
}

func TestDeviceClocks(t *testing.T) {
	gpu := GPU{
		Max:    Clocks{GPU: 2000, Memory: 1000},
		Stable: Clocks{GPU: 1500, Memory: 800},
		Min:    Clocks{GPU: 300, Memory: 100},
	}
	_, client := running(t, ServerConfig{GPUs: []GPU{DefaultGPU(), gpu}})

	n, err := client.QueryNumGPUs()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	peak, err := client.QueryMaxDeviceClock(1)
	require.NoError(t, err)
	assert.Equal(t, gpu.Max, peak)

	tests := []struct {
		mode ClockMode
		want Clocks
	}{
		{ClockModeProfiling, gpu.Stable},
		{ClockModeMinimumMemory, Clocks{GPU: 2000, Memory: 100}},
		{ClockModeMinimumEngine, Clocks{GPU: 300, Memory: 1000}},
		{ClockModePeak, gpu.Max},
		{ClockModeDefault, gpu.Max},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			require.NoError(t, client.SetDeviceClockMode(1, tt.mode))
			mode, err := client.QueryDeviceClockMode(1)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)

			clocks, err := client.QueryDeviceClock(1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, clocks)
		})
	}

	mode, err := client.QueryDeviceClockMode(0)
	require.NoError(t, err)
	assert.Equal(t, ClockModeDefault, mode)
}

func TestInvalidGPU(t *testing.T) {
	_, client := running(t, ServerConfig{})

	_, err := client.QueryDeviceClock(7)
	assert.ErrorIs(t, err, wire.ErrError)
	_, err = client.QueryMaxDeviceClock(7)
	assert.ErrorIs(t, err, wire.ErrError)
	assert.ErrorIs(t, client.SetDeviceClockMode(7, ClockModePeak), wire.ErrError)
	assert.ErrorIs(t, client.SetDeviceClockMode(0, ClockMode(99)), wire.ErrError)
}

func TestParseClockMode(t *testing.T) {
	for m := ClockModeDefault; m < clockModeCount; m++ {
		got, err := ParseClockMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseClockMode("turbo")
	assert.Error(t, err)
}
