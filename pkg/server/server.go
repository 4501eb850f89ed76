package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/session"
)

// Server serves one live view over WebSocket and SSE. It owns the session
// registry and the dispatcher shared by every connection.
type Server struct {
	config     *Config
	view       *live.View
	registry   *SessionRegistry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	metrics    *Metrics
	handler    http.Handler

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	sse     map[string]*Conn
	closing atomic.Bool
	wg      sync.WaitGroup
}

type options struct {
	logger     *slog.Logger
	store      session.Store
	registerer prometheus.Registerer
	namespace  string
	middleware []Middleware
	clock      func() time.Time
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSessionStore persists detached sessions to store so they survive
// eviction from memory and process restarts. It takes effect only when
// the view has a Codec.
func WithSessionStore(store session.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithMetrics registers Prometheus collectors with reg under namespace.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// WithMiddleware installs dispatch middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithServerClock replaces time.Now in the session registry, for tests.
func WithServerClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// New creates a Server for view. A nil config uses DefaultConfig.
func New(view *live.View, config *Config, opts ...Option) (*Server, error) {
	if view == nil {
		return nil, fmt.Errorf("%w: nil view", ErrInvalidConfig)
	}
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := options{namespace: "liveview"}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher, err := NewDispatcher(view, config.IDAttr, logger)
	if err != nil {
		return nil, err
	}
	dispatcher.Use(o.middleware...)

	s := &Server{
		config:     config,
		view:       view,
		dispatcher: dispatcher,
		logger:     logger.With("component", "server"),
		conns:      make(map[*Conn]struct{}),
		sse:        make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  config.HandshakeTimeout,
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin:       config.CheckOrigin,
		},
	}

	regOpts := []RegistryOption{
		WithEvictHook(func(_ *LiveSession, reason string) { s.metrics.evicted(reason) }),
	}
	if o.store != nil {
		regOpts = append(regOpts, WithStore(o.store))
		if view.Codec == nil {
			logger.Warn("session store configured but view has no state codec; persistence disabled")
		}
	}
	if view.Codec != nil {
		regOpts = append(regOpts, WithStateCodec(view.Codec))
	}
	if o.clock != nil {
		regOpts = append(regOpts, WithClock(o.clock))
	}
	s.registry = NewSessionRegistry(config, logger, regOpts...)

	if o.registerer != nil {
		s.metrics = newMetrics(o.registerer, o.namespace, s.registry.Stats)
	}

	r := chi.NewRouter()
	r.Get("/ws", s.ServeWebSocket)
	r.Get("/sse", s.ServeSSE)
	r.Post("/sse/{cid}", s.ServeSSEPost)
	s.handler = r

	return s, nil
}

// Handler returns the HTTP handler serving GET /ws, GET /sse and
// POST /sse/{cid}.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Mount attaches the server's routes to r under prefix.
func (s *Server) Mount(r chi.Router, prefix string) {
	r.Mount(prefix, s.handler)
}

// Use appends dispatch middleware.
func (s *Server) Use(mw ...Middleware) {
	s.dispatcher.Use(mw...)
}

// Registry returns the session registry.
func (s *Server) Registry() *SessionRegistry {
	return s.registry
}

// Dispatcher returns the event dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Config returns a copy of the server configuration.
func (s *Server) Config() *Config {
	return s.config.Clone()
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// track registers c, or returns nil once shutdown has begun.
func (s *Server) track(c *Conn) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return nil
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.metrics.connOpened(c.tr.kind())
	return c
}

func (s *Server) forget(c *Conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		s.metrics.connClosed(c.tr.kind())
		s.wg.Done()
	}
}

// Shutdown stops accepting connections, closes the open ones with a
// going-away code so clients reconnect elsewhere, waits for them to
// detach and then shuts the registry down, persisting sessions when a
// store is configured.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	s.mu.Lock()
	s.closing.Store(true)
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "connections", len(conns))
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	var errs []error
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
