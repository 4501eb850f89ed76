package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var errBinaryFrame = errors.New("binary frames are not supported")

// wsTransport carries JSON text frames over a gorilla WebSocket.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) kind() string { return "websocket" }

func (t *wsTransport) write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) acknowledges() bool { return true }

func (t *wsTransport) backpressure() bool { return true }

func (t *wsTransport) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.conn.Close()
}

// ServeWebSocket upgrades the request and serves one live connection until
// the transport closes.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(s.config.MaxMessageSize)

	c := s.track(newConn(s, "", &wsTransport{conn: ws}))
	if c == nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}

	ws.SetPongHandler(func(string) error {
		c.heartbeat.acked(time.Now())
		s.extendReadDeadline(ws)
		return nil
	})

	c.start()
	c.readLoop(ws)
	c.finish()
}

func (s *Server) extendReadDeadline(ws *websocket.Conn) {
	if s.config.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
}

// readLoop feeds inbound frames to the connection until the socket fails
// or a protocol error drops it.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		c.srv.extendReadDeadline(ws)

		mt, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.protocolError(&ProtocolError{ConnID: c.id, Op: "read", Err: err})
			case websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived):
				if c.State() < StateDraining {
					c.logger.Debug("read error", "error", err)
				}
			}
			return
		}

		if mt != websocket.TextMessage {
			c.protocolError(&ProtocolError{ConnID: c.id, Op: "read", Err: errBinaryFrame})
			return
		}

		if err := c.receive(data); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				c.protocolError(perr)
			}
			return
		}
	}
}
