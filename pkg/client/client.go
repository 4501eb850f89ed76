package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/vdom"
)

// ResumeParam is the connect parameter carrying the session to resume.
const ResumeParam = "liveview_id"

// Close codes after which the client does not reconnect.
const closeSessionTakeover = 4001

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("client: not connected")

	// ErrStarted is returned by Connect when the client is already
	// connected or reconnecting.
	ErrStarted = errors.New("client: already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")

	// ErrNoBinding is returned by Trigger when nothing binds the
	// interaction.
	ErrNoBinding = errors.New("client: no binding for interaction")
)

// ServerError is an error message sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "client: server error: " + e.Message
}

// Config configures a Client.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/live/ws.
	URL string

	// Params are sent with every connect message.
	Params map[string]string

	// Header is sent with the WebSocket handshake.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Backoff governs reconnects.
	Backoff Backoff

	// Scheduler runs reconnect timers. Default: RealScheduler.
	Scheduler Scheduler

	// HeartbeatInterval between client heartbeats. Zero disables them.
	HeartbeatInterval time.Duration

	// HandshakeTimeout bounds dialing plus the first render.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each message write.
	WriteTimeout time.Duration

	// IDAttr is the element identifier attribute used to apply patches.
	IDAttr string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config for url with default timings.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Backoff:           DefaultBackoff(),
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IDAttr:            vdom.DefaultIDAttr,
	}
}

// Handlers receive client notifications. All fields are optional. They
// are called from client goroutines and must not block for long.
type Handlers struct {
	// OnRender is called after a full render replaced the region.
	OnRender func(liveViewID, html string)

	// OnPatch is called after a patch was applied, with the new region.
	OnPatch func(html string)

	// OnRedirect is called when the server asks to navigate away.
	OnRedirect func(url string)

	// OnError is called for error messages from the server.
	OnError func(message string)

	// OnState is called on every connection state transition.
	OnState func(from, to State)

	// OnFatal is called once when reconnect attempts are exhausted.
	OnFatal func(err error)
}

// Client is a Go implementation of the browser side of the protocol. It
// keeps a local copy of the live region, applies patches to it, and
// reconnects with exponential backoff, resuming its session.
type Client struct {
	config   Config
	handlers Handlers
	logger   *slog.Logger
	ctl      *Controller

	mu     sync.Mutex // guards fields below
	doc    *vdom.Document
	binder *Binder
	id     string
	link   *link
	closed bool
}

// link is one physical connection.
type link struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	ackMu   sync.Mutex
	lastAck time.Time
	sentAt  time.Time
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

// New creates a disconnected client.
func New(config Config, handlers Handlers) *Client {
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.IDAttr == "" {
		config.IDAttr = vdom.DefaultIDAttr
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config:   config,
		handlers: handlers,
		logger:   logger.With("component", "liveview-client"),
		binder:   NewBinder(),
	}
	c.ctl = NewController(config.Backoff, config.Scheduler, c.redial, ControllerHooks{
		OnState: handlers.OnState,
		OnRetry: func(attempt int, delay time.Duration) {
			c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		},
		OnFatal: func(err error) {
			c.logger.Error("giving up", "error", err)
			if handlers.OnFatal != nil {
				handlers.OnFatal(err)
			}
		},
	})
	return c
}

// Connect opens the first connection and waits for the initial render.
// A failed first connection is returned and not retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.ctl.Begin() {
		return ErrStarted
	}
	if err := c.dial(ctx); err != nil {
		c.ctl.Stop()
		return err
	}
	c.ctl.Connected()
	return nil
}

// redial is the controller's retry callback.
func (c *Client) redial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()
	if err := c.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Warn("reconnect failed", "error", err)
		c.ctl.Lost(err)
		return
	}
	c.ctl.Connected()
}

// dial opens a connection, sends connect (with the resume id when one is
// known) and waits for the first render.
func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, c.config.Header)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.config.URL, err)
	}
	l := &link{conn: conn, done: make(chan struct{})}

	c.mu.Lock()
	params := maps.Clone(c.config.Params)
	if params == nil {
		params = make(map[string]string)
	}
	if c.id != "" {
		params[ResumeParam] = c.id
	}
	c.mu.Unlock()

	if err := c.write(ctx, l, &protocol.Connect{Params: params}); err != nil {
		conn.Close()
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	msg, err := readMessage(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch m := msg.(type) {
	case *protocol.Render:
	case *protocol.Error:
		conn.Close()
		return &ServerError{Message: m.Message}
	default:
		conn.Close()
		return fmt.Errorf("client: handshake: unexpected %s message", msg.Type())
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.link = l
	c.mu.Unlock()

	c.handle(l, msg)
	go c.readLoop(l)
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeatLoop(l)
	}
	return nil
}

func readMessage(conn *websocket.Conn) (protocol.ServerMessage, error) {
	typ, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected frame type %d", typ)
	}
	return protocol.DecodeServerMessage(data)
}

func (c *Client) readLoop(l *link) {
	defer l.stop()
	for {
		msg, err := readMessage(l.conn)
		if err != nil {
			c.lost(l, err)
			return
		}
		c.handle(l, msg)
	}
}

// lost reacts to the end of l.
func (c *Client) lost(l *link, err error) {
	l.conn.Close()

	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if !current || closed {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, closeSessionTakeover) {
		c.logger.Info("connection closed by server", "error", err)
		c.ctl.Stop()
		return
	}
	c.logger.Warn("connection lost", "error", err)
	c.ctl.Lost(err)
}

func (c *Client) handle(l *link, msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case *protocol.Render:
		c.mu.Lock()
		err := c.reset(m.HTML)
		if err == nil {
			c.id = m.LiveViewID
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("invalid render", "error", err)
			return
		}
		if c.handlers.OnRender != nil {
			c.handlers.OnRender(m.LiveViewID, m.HTML)
		}

	case *protocol.Patch:
		c.mu.Lock()
		var (
			out string
			err = errNoDocument
		)
		if c.doc != nil {
			err = c.doc.Apply(toVDOM(m.Diff)...)
			out = c.doc.HTML()
		}
		c.mu.Unlock()
		if err != nil {
			// The snapshot diverged. Dropping the link resumes the
			// session, which answers with a full render.
			c.logger.Warn("patch failed, resyncing", "error", err)
			l.conn.Close()
			return
		}
		if c.handlers.OnPatch != nil {
			c.handlers.OnPatch(out)
		}

	case *protocol.Redirect:
		if c.handlers.OnRedirect != nil {
			c.handlers.OnRedirect(m.URL)
		}

	case *protocol.Error:
		c.logger.Debug("server error", "message", m.Message)
		if c.handlers.OnError != nil {
			c.handlers.OnError(m.Message)
		}

	case *protocol.HeartbeatAck:
		l.ack()
	}
}

var errNoDocument = errors.New("client: patch before render")

// reset replaces the local region. Must be called with c.mu held.
func (c *Client) reset(src string) error {
	if c.doc == nil {
		doc, err := vdom.ParseDocument(src, c.config.IDAttr)
		if err != nil {
			return err
		}
		c.doc = doc
	} else if err := c.doc.Reset(src); err != nil {
		return err
	}
	c.binder.Reset()
	c.binder.Bind(c.doc)
	return nil
}

func toVDOM(diff []protocol.PatchInstruction) []vdom.Patch {
	out := make([]vdom.Patch, len(diff))
	for i, p := range diff {
		op := vdom.PatchReplace
		switch p.Type {
		case protocol.PatchAdd:
			op = vdom.PatchAdd
		case protocol.PatchRemove:
			op = vdom.PatchRemove
		}
		out[i] = vdom.Patch{Op: op, Old: p.Old, New: p.New}
	}
	return out
}

func (l *link) ack() {
	l.ackMu.Lock()
	l.lastAck = time.Now()
	l.ackMu.Unlock()
}

// heartbeatLoop sends heartbeats. A heartbeat that was not acknowledged
// by the next tick is logged; only the transport decides liveness.
func (c *Client) heartbeatLoop(l *link) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		l.ackMu.Lock()
		missed := !l.sentAt.IsZero() && l.lastAck.Before(l.sentAt)
		l.sentAt = time.Now()
		l.ackMu.Unlock()
		if missed {
			c.logger.Warn("heartbeat not acknowledged")
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
		err := c.write(ctx, l, &protocol.Heartbeat{})
		cancel()
		if err != nil {
			return
		}
	}
}

func (c *Client) write(ctx context.Context, l *link, msg protocol.ClientMessage) error {
	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Send sends ev addressed to the current session.
func (c *Client) Send(ctx context.Context, ev protocol.Event) error {
	c.mu.Lock()
	l, id, closed := c.link, c.id, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if l == nil || c.ctl.State() != StateConnected {
		return ErrNotConnected
	}
	if ev.LiveViewID == "" {
		ev.LiveViewID = id
	}
	return c.write(ctx, l, &ev)
}

// Trigger resolves in against the local region and sends the bound event.
func (c *Client) Trigger(ctx context.Context, in Interaction) error {
	c.mu.Lock()
	ev, ok, err := c.binder.Event(in)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on %q", ErrNoBinding, in.Trigger, in.ID)
	}
	return c.Send(ctx, ev)
}

// Close closes the connection cleanly. The client does not reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	c.ctl.Stop()
	if l == nil {
		return nil
	}
	l.writeMu.Lock()
	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.config.WriteTimeout))
	l.writeMu.Unlock()
	l.stop()
	return l.conn.Close()
}

// State returns the connection state.
func (c *Client) State() State {
	return c.ctl.State()
}

// LiveViewID returns the id of the session, once rendered.
func (c *Client) LiveViewID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// HTML returns the current local region.
func (c *Client) HTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return ""
	}
	return c.doc.HTML()
}
