package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTCPEcho runs a server that writes every frame back.
func startTCPEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				f := NewFramer(conn)
				for {
					msg, err := f.ReadFrame()
					if err != nil {
						return
					}
					if err := f.WriteFrame(msg); err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestTCPTransportEcho(t *testing.T) {
	addr := startTCPEcho(t)
	tr := NewTCP(addr, Options{}, LogConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, StateConnected, tr.State())
	assert.ErrorIs(t, tr.Connect(ctx), ErrAlreadyConnected)

	sent := testMessage(t, []byte("ping"))
	require.NoError(t, tr.WriteMessage(sent))

	got, err := tr.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, sent.Header, got.Header)
	assert.Equal(t, sent.Payload, got.Payload)

	_, err = tr.ReadMessage(0)
	assert.ErrorIs(t, err, wire.ErrNotReady)

	require.NoError(t, tr.Disconnect())
	assert.NoError(t, tr.Disconnect())
	assert.ErrorIs(t, tr.WriteMessage(sent), ErrNotConnected)
}

func TestTCPTransportPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	tr := NewTCP(ln.Addr().String(), Options{}, LogConfig{})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	_, err = tr.ReadMessage(2 * time.Second)
	assert.ErrorIs(t, err, wire.ErrEndOfStream)
}

func TestTCPTransportFailedWriteCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	tr := NewTCP(ln.Addr().String(), Options{WriteTimeout: 20 * time.Millisecond}, LogConfig{})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	peer := <-accepted
	defer peer.Close()

	// The peer never reads, so the socket buffers fill and a write times out.
	msg := testMessage(t, bytes.Repeat([]byte{0x11}, 1300))
	var werr error
	for i := 0; i < 100000 && werr == nil; i++ {
		werr = tr.WriteMessage(msg)
	}
	require.ErrorIs(t, werr, ErrNotConnected)

	// The connection is gone rather than left holding a torn frame.
	for {
		_, err := tr.ReadMessage(2 * time.Second)
		if errors.Is(err, wire.ErrNotReady) {
			t.Fatal("connection still open after failed write")
		}
		if err != nil {
			assert.ErrorIs(t, err, wire.ErrEndOfStream)
			break
		}
	}
	assert.Error(t, tr.WriteMessage(msg))
}

func TestTCPTransportDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTCP(addr, Options{}, LogConfig{})
	assert.Error(t, tr.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestWebSocketTransportEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultWebSocketPath
	tr := NewWebSocket(url, Options{}, LogConfig{ProtocolLogger: &captureLogger{}})
	require.NoError(t, tr.Connect(context.Background()))

	sent := testMessage(t, []byte("over websocket"))
	require.NoError(t, tr.WriteMessage(sent))

	got, err := tr.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, sent.Header, got.Header)
	assert.Equal(t, sent.Payload, got.Payload)

	require.NoError(t, tr.Disconnect())
	_, err = tr.ReadMessage(time.Second)
	assert.ErrorIs(t, err, wire.ErrEndOfStream)
}

func TestNewTransportKinds(t *testing.T) {
	tr, err := New(ConnectionInfo{Kind: KindTCP, Host: "bus.local", Port: 1234}, Options{}, LogConfig{})
	require.NoError(t, err)
	assert.IsType(t, &TCP{}, tr)

	tr, err = New(ConnectionInfo{Kind: KindWebSocket}, Options{}, LogConfig{})
	require.NoError(t, err)
	assert.IsType(t, &WebSocket{}, tr)

	_, err = New(ConnectionInfo{Kind: KindLocal}, Options{}, LogConfig{})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestConnectionInfoAddress(t *testing.T) {
	assert.Equal(t, "localhost:27300", ConnectionInfo{}.Address())
	assert.Equal(t, "ws://10.0.0.1:80/bus", ConnectionInfo{Host: "10.0.0.1", Port: 80}.URL())
	assert.Equal(t, "ws://h:1/x", ConnectionInfo{Host: "h", Port: 1, Path: "/x"}.URL())
}
