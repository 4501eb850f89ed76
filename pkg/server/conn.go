package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/protocol"
	"golang.org/x/time/rate"
)

// ResumeParam is the connect parameter naming a session to resume. It is
// not passed to Mount.
const ResumeParam = "liveview_id"

// CloseSessionTakeover is the close code sent to a connection whose
// session was resumed by another connection.
const CloseSessionTakeover = 4001

// ConnState is the server-observed lifecycle of a connection.
type ConnState int32

const (
	// StateHandshaking means the transport is open but no session is attached.
	StateHandshaking ConnState = iota
	// StateActive means a session is attached and events are processed.
	StateActive
	// StateDraining means the connection is closing.
	StateDraining
	// StateClosed means the session has been detached and the connection is gone.
	StateClosed
)

// String returns the string representation of the ConnState.
func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transport is one physical channel to a client.
type transport interface {
	kind() string
	write(ctx context.Context, data []byte) error
	ping(ctx context.Context) error
	// acknowledges reports whether pings are answered by the peer.
	acknowledges() bool
	// backpressure reports whether a full event queue may stall the reader.
	// A stalled WebSocket reader slows the client through TCP flow control;
	// SSE posts are independent requests and are refused instead.
	backpressure() bool
	close(code int, reason string)
}

// Conn is one client connection. Inbound connect and event messages go
// through a single FIFO queue drained by one goroutine, so a connection's
// events are applied and answered in receipt order.
type Conn struct {
	id     string
	srv    *Server
	tr     transport
	logger *slog.Logger

	state      atomic.Int32
	superseded atomic.Bool

	queue   chan protocol.ClientMessage
	limiter *rate.Limiter

	heartbeat HeartbeatRecord

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	closeOnce    sync.Once
	writeMu      sync.Mutex
	connectTimer *time.Timer

	sessMu  sync.Mutex
	session *LiveSession
}

func newConn(srv *Server, id string, tr transport) *Conn {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:       id,
		srv:      srv,
		tr:       tr,
		logger:   srv.logger.With("conn_id", id, "transport", tr.kind()),
		queue:    make(chan protocol.ClientMessage, srv.config.MaxEventQueue),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	if srv.config.EventRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(srv.config.EventRate), srv.config.EventBurst)
	}
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// State returns the connection's lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Session returns the attached session, or nil before connect.
func (c *Conn) Session() *LiveSession {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.session
}

// Heartbeat returns the connection's heartbeat record.
func (c *Conn) Heartbeat() *HeartbeatRecord { return &c.heartbeat }

// start launches the event and heartbeat loops.
func (c *Conn) start() {
	if d := c.srv.config.ConnectTimeout; d > 0 {
		c.connectTimer = time.AfterFunc(d, func() {
			if c.State() == StateHandshaking {
				c.logger.Warn("no connect message before timeout")
				c.Close(websocket.ClosePolicyViolation, "connect timeout")
			}
		})
	}
	go c.eventLoop()
	go c.heartbeatLoop()
	c.logger.Debug("connection opened")
}

// receive decodes one inbound message. A *ProtocolError means the
// connection must be dropped.
func (c *Conn) receive(data []byte) error {
	if c.State() >= StateDraining {
		return ErrConnectionClosed
	}

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return &ProtocolError{ConnID: c.id, Op: "decode", Err: err}
	}

	switch msg.(type) {
	case *protocol.Heartbeat:
		c.heartbeat.received(time.Now())
		c.send(&protocol.HeartbeatAck{})
		return nil

	case *protocol.Event:
		if c.limiter != nil && !c.limiter.Allow() {
			c.srv.metrics.limited()
			c.logger.Debug("event rate exceeded")
			c.send(&protocol.Error{Message: ErrRateLimited.Error()})
			return nil
		}
	}

	if c.tr.backpressure() {
		select {
		case c.queue <- msg:
			return nil
		case <-c.ctx.Done():
			return ErrConnectionClosed
		}
	}

	select {
	case c.queue <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("event queue full, refusing message", "type", msg.Type())
		return ErrEventQueueFull
	}
}

func (c *Conn) eventLoop() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.queue:
			if c.ctx.Err() != nil {
				return
			}
			switch m := msg.(type) {
			case *protocol.Connect:
				c.handleConnect(m)
			case *protocol.Event:
				c.handleEvent(m)
			}
		}
	}
}

func (c *Conn) handleConnect(m *protocol.Connect) {
	if c.Session() != nil {
		c.send(&protocol.Error{Message: ErrAlreadyConnected.Error()})
		return
	}

	params := make(live.Params, len(m.Params))
	var resumeID string
	for k, v := range m.Params {
		if k == ResumeParam {
			resumeID = v
			continue
		}
		params[k] = v
	}

	if resumeID != "" {
		sess, prev, err := c.srv.registry.Resume(c.ctx, resumeID, c)
		switch {
		case err == nil:
			result := "resumed"
			if prev != nil && prev != c {
				result = "takeover"
				prev.supersede()
			}
			c.attach(sess)
			c.srv.metrics.connected(result)
			c.send(&protocol.Render{LiveViewID: sess.ID(), HTML: sess.LastRendered()})
			return
		case errors.Is(err, ErrRegistryClosed):
			c.Close(websocket.CloseGoingAway, "server shutting down")
			return
		default:
			c.logger.Debug("resume failed, mounting fresh session", "session_id", resumeID, "error", err)
		}
	}

	sess, err := c.srv.dispatcher.Mount(c.ctx, params)
	if err != nil {
		out := c.srv.dispatcher.fail(err)
		c.send(out.Message)
		return
	}
	if err := c.srv.registry.Add(sess, c); err != nil {
		c.logger.Warn("session rejected", "error", err)
		c.send(&protocol.Error{Message: err.Error()})
		c.Close(websocket.CloseTryAgainLater, "session limit reached")
		return
	}

	c.attach(sess)
	c.srv.metrics.connected("mounted")
	c.send(&protocol.Render{LiveViewID: sess.ID(), HTML: sess.LastRendered()})
}

func (c *Conn) attach(sess *LiveSession) {
	c.sessMu.Lock()
	c.session = sess
	c.sessMu.Unlock()

	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.state.CompareAndSwap(int32(StateHandshaking), int32(StateActive))
	c.logger.Info("session attached", "session_id", sess.ID())
}

func (c *Conn) handleEvent(m *protocol.Event) {
	if c.superseded.Load() {
		return
	}
	sess := c.Session()
	if sess == nil {
		c.send(&protocol.Error{Message: ErrNotConnected.Error()})
		return
	}
	if m.LiveViewID != "" && m.LiveViewID != sess.ID() {
		c.send(&protocol.Error{Message: "unknown liveview_id " + m.LiveViewID})
		return
	}

	out, ok := c.srv.dispatcher.dispatchFrom(c.ctx, sess, c, live.Event{
		Name:   m.Event,
		Params: m.Params,
		Target: m.Target,
	})
	if !ok {
		return
	}
	sess.touch(time.Now())
	c.srv.metrics.dispatched(out.Kind)

	if out.Message != nil {
		c.send(out.Message)
	}
}

// send encodes and writes one message. A failed write closes the
// connection; the transport's reader then finishes it.
func (c *Conn) send(msg protocol.ServerMessage) error {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		c.logger.Error("encode failed", "type", msg.Type(), "error", err)
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.srv.config.WriteTimeout)
	defer cancel()
	if err := c.tr.write(ctx, data); err != nil {
		c.logger.Debug("write failed", "error", err)
		c.Close(websocket.CloseInternalServerErr, "write failed")
		return err
	}
	c.srv.metrics.sent(msg.Type())
	return nil
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.srv.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.tr.acknowledges() && c.heartbeat.pending() {
				c.heartbeat.missed.Add(1)
				c.srv.metrics.missedHeartbeat()
				c.logger.Warn("heartbeat not acknowledged", "last_sent", c.heartbeat.LastSent())
			}
			ctx, cancel := context.WithTimeout(c.ctx, c.srv.config.WriteTimeout)
			err := c.tr.ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
				return
			}
			c.heartbeat.sent(time.Now())
		}
	}
}

// protocolError logs a malformed message and drops the connection.
func (c *Conn) protocolError(err *ProtocolError) {
	c.srv.metrics.protocolError()
	c.logger.Warn("protocol error", "op", err.Op, "error", err.Err)
	code := websocket.CloseProtocolError
	if errors.Is(err, websocket.ErrReadLimit) || errors.Is(err, protocol.ErrMessageTooLarge) {
		code = websocket.CloseMessageTooBig
	}
	c.Close(code, "protocol error")
}

// supersede closes a connection whose session was taken over. Events
// still queued on it are dropped.
func (c *Conn) supersede() {
	c.superseded.Store(true)
	c.logger.Info("session taken over by another connection")
	c.Close(CloseSessionTakeover, "session resumed elsewhere")
}

// Close starts closing the connection. It does not wait; the goroutine
// that owns the transport finishes the connection and detaches its session.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDraining))
		c.cancel()
		c.tr.close(code, reason)
	})
}

// finish runs once the transport is done: it waits for the event loop,
// detaches the session (never deleting it) and forgets the connection.
func (c *Conn) finish() {
	c.Close(websocket.CloseNormalClosure, "")
	<-c.loopDone
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}

	if sess := c.Session(); sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.srv.config.WriteTimeout)
		c.srv.registry.Detach(ctx, sess, c)
		cancel()
	}

	c.writeMu.Lock()
	c.state.Store(int32(StateClosed))
	c.writeMu.Unlock()

	c.srv.forget(c)
	c.logger.Info("connection closed")
}
