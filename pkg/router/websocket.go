package router

import (
	"net/http"
	"sync"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades HTTP requests to bus connections. Every binary
// WebSocket message carries exactly one frame.
type WebSocketHandler struct {
	router       *Router
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewWebSocketHandler returns an http.Handler attaching WebSocket clients
// to r.
func NewWebSocketHandler(r *Router) *WebSocketHandler {
	return &WebSocketHandler{
		router: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wire.MaxMessageSize,
			WriteBufferSize: wire.MaxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: 2 * time.Second,
	}
}

// ServeHTTP runs one WebSocket connection until it closes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.router.logger.Debug("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(wire.MaxMessageSize)

	link := &wsLink{
		conn:         ws,
		connID:       uuid.New().String(),
		remote:       req.RemoteAddr,
		writeTimeout: h.writeTimeout,
		plog:         h.router.cfg.ProtocolLogger,
	}
	link.out = newOutbox(h.router.cfg.QueueSize, link.writeFrame, link.abort)
	c, err := h.router.attach(link)
	if err != nil {
		link.abort()
		link.Close()
		return
	}
	defer func() {
		h.router.detach(c)
		link.Close()
	}()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.router.logger.Debug("websocket read failed", "conn_id", link.connID, "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg := &wire.MessageBuffer{}
		if err := msg.UnmarshalBinary(data); err != nil {
			h.router.logger.Debug("malformed websocket frame", "conn_id", link.connID, "error", err)
			return
		}
		if link.plog != nil {
			link.plog.Log(log.Event{
				Time:   time.Now(),
				Conn:   link.connID,
				Dir:    log.In,
				Layer:  log.LayerTransport,
				Kind:   log.KindTraffic,
				Role:   log.RoleRouter,
				Remote: link.remote,
				Header: log.HeaderOf(msg),
			})
		}
		h.router.handle(c, msg)
	}
}

// wsLink is the router side of a WebSocket client connection.
type wsLink struct {
	conn         *websocket.Conn
	connID       string
	remote       string
	writeTimeout time.Duration
	plog         log.Logger
	out          *outbox

	closeOnce sync.Once
}

func (l *wsLink) writeFrame(msg *wire.MessageBuffer) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	return l.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Send queues msg for the writer goroutine.
func (l *wsLink) Send(msg *wire.MessageBuffer) error {
	return l.out.push(msg)
}

// Close flushes queued frames and says goodbye.
func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.out.close(l.writeTimeout)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(l.writeTimeout))
		err = l.conn.Close()
	})
	return err
}

func (l *wsLink) abort() {
	_ = l.conn.Close()
}

func (l *wsLink) ID() string {
	return l.connID
}

func (l *wsLink) RemoteAddr() string {
	return l.remote
}
