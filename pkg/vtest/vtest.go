package vtest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/liveview/pkg/client"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/server"
	"github.com/vango-dev/liveview/pkg/session"
	"github.com/vango-dev/liveview/pkg/vdom"
)

// Config configures a Live harness.
type Config struct {
	// Params are passed to Mount.
	Params map[string]string

	// ResumeWindow is how long a disconnected session survives.
	ResumeWindow time.Duration

	// Store persists detached sessions. If nil, an in-memory store driven
	// by the harness clock is used.
	Store session.Store

	// IDAttr is the element identifier attribute.
	IDAttr string

	// Middleware wraps the dispatcher.
	Middleware []server.Middleware
}

// Option configures a Live harness.
type Option func(*Config)

// WithParams sets the Mount params.
func WithParams(params map[string]string) Option {
	return func(c *Config) {
		c.Params = params
	}
}

// WithResumeWindow sets the resume window.
func WithResumeWindow(d time.Duration) Option {
	return func(c *Config) {
		c.ResumeWindow = d
	}
}

// WithStore sets a custom session store for persistence tests.
func WithStore(store session.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithIDAttr sets the element identifier attribute.
func WithIDAttr(attr string) Option {
	return func(c *Config) {
		c.IDAttr = attr
	}
}

// WithMiddleware adds dispatcher middleware.
func WithMiddleware(mw ...server.Middleware) Option {
	return func(c *Config) {
		c.Middleware = append(c.Middleware, mw...)
	}
}

// Live drives a view without a network. Every outcome is applied to a
// client-side copy of the region, and the harness fails the test when
// that copy diverges from what the server rendered.
type Live struct {
	tb     testing.TB
	view   *live.View
	config Config
	clock  *clock

	serverConfig *server.Config
	dispatcher   *server.Dispatcher
	registry     *server.SessionRegistry
	store        session.Store

	sess  *server.LiveSession
	owner *server.Conn

	doc    *vdom.Document
	binder *client.Binder

	messages []protocol.ServerMessage
}

// Mount creates a harness and mounts a session of view.
//
// Example:
//
//	lv := vtest.Mount(t, counter.View(), vtest.WithParams(map[string]string{"start": "3"}))
//	lv.Click("inc")
//	vtest.ExpectContains(t, lv.HTML(), `<span id="count">4</span>`)
func Mount(tb testing.TB, view *live.View, opts ...Option) *Live {
	tb.Helper()

	config := Config{
		ResumeWindow: 5 * time.Minute,
		IDAttr:       vdom.DefaultIDAttr,
	}
	for _, opt := range opts {
		opt(&config)
	}

	l := &Live{
		tb:     tb,
		view:   view,
		config: config,
		clock:  &clock{},
		binder: client.NewBinder(),
	}
	l.store = config.Store
	if l.store == nil {
		store := session.NewMemoryStore(session.WithClock(l.clock.Now))
		tb.Cleanup(func() { store.Close() })
		l.store = store
	}

	l.serverConfig = server.DefaultConfig().
		WithResumeWindow(config.ResumeWindow).
		WithIDAttr(config.IDAttr)
	l.serverConfig.SweepInterval = time.Hour

	d, err := server.NewDispatcher(view, config.IDAttr, nil)
	if err != nil {
		tb.Fatalf("vtest: invalid view: %v", err)
	}
	d.Use(config.Middleware...)
	l.dispatcher = d
	l.registry = l.newRegistry()
	tb.Cleanup(func() { l.registry.Shutdown(context.Background()) })

	l.mount()
	return l
}

func (l *Live) newRegistry() *server.SessionRegistry {
	opts := []server.RegistryOption{
		server.WithClock(l.clock.Now),
		server.WithStore(l.store),
	}
	if l.view.Codec != nil {
		opts = append(opts, server.WithStateCodec(l.view.Codec))
	}
	return server.NewSessionRegistry(l.serverConfig, nil, opts...)
}

func (l *Live) mount() {
	l.tb.Helper()
	sess, err := l.dispatcher.Mount(context.Background(), live.Params(l.config.Params))
	if err != nil {
		l.tb.Fatalf("vtest: mount failed: %v", err)
	}
	l.owner = &server.Conn{}
	if err := l.registry.Add(sess, l.owner); err != nil {
		l.tb.Fatalf("vtest: add session: %v", err)
	}
	l.attach(sess)
}

// attach adopts sess and seeds the client copy from its last render, as
// a connect or resume does.
func (l *Live) attach(sess *server.LiveSession) {
	l.tb.Helper()
	l.sess = sess
	l.applyRender(&protocol.Render{LiveViewID: sess.ID(), HTML: sess.LastRendered()})
}

func (l *Live) applyRender(m *protocol.Render) {
	l.tb.Helper()
	if l.doc == nil {
		doc, err := vdom.ParseDocument(m.HTML, l.config.IDAttr)
		if err != nil {
			l.tb.Fatalf("vtest: parse render: %v", err)
		}
		l.doc = doc
	} else if err := l.doc.Reset(m.HTML); err != nil {
		l.tb.Fatalf("vtest: parse render: %v", err)
	}
	l.binder.Reset()
	l.binder.Bind(l.doc)
	l.messages = append(l.messages, m)
}

// Send dispatches an event by name and applies the outcome.
func (l *Live) Send(name string, params map[string]string) server.Outcome {
	l.tb.Helper()
	return l.dispatch(live.Event{Name: name, Params: params})
}

// Trigger resolves an interaction through the region's bindings, exactly
// as the browser client would, and dispatches the bound event.
func (l *Live) Trigger(in client.Interaction) server.Outcome {
	l.tb.Helper()
	ev, ok, err := l.binder.Event(in)
	if err != nil {
		l.tb.Fatalf("vtest: %s on %q: %v", in.Trigger, in.ID, err)
	}
	if !ok {
		l.tb.Fatalf("vtest: nothing binds %s on %q", in.Trigger, in.ID)
	}
	return l.dispatch(live.Event{Name: ev.Event, Params: ev.Params, Target: ev.Target})
}

// Click triggers a click on the element with id.
func (l *Live) Click(id string) server.Outcome {
	l.tb.Helper()
	return l.Trigger(client.Interaction{Trigger: client.Click, ID: id})
}

// Submit triggers a submit of the form with id.
func (l *Live) Submit(id string) server.Outcome {
	l.tb.Helper()
	return l.Trigger(client.Interaction{Trigger: client.Submit, ID: id})
}

// Change triggers a change of the control with id to value.
func (l *Live) Change(id, value string) server.Outcome {
	l.tb.Helper()
	return l.Trigger(client.Interaction{Trigger: client.Change, ID: id, Value: &value})
}

func (l *Live) dispatch(ev live.Event) server.Outcome {
	l.tb.Helper()
	out := l.dispatcher.Dispatch(context.Background(), l.sess, ev)

	switch m := out.Message.(type) {
	case *protocol.Render:
		l.applyRender(m)
	case *protocol.Patch:
		if err := l.doc.Apply(out.Patches...); err != nil {
			l.tb.Fatalf("vtest: patch for %q does not apply: %v", ev.Name, err)
		}
		l.messages = append(l.messages, m)
	case nil:
	default:
		l.messages = append(l.messages, m)
	}

	if want := l.sess.LastRendered(); !vdom.Equivalent(l.doc.HTML(), want) {
		l.tb.Errorf("vtest: client copy diverged after %q:\n got: %s\nwant: %s",
			ev.Name, truncate(l.doc.HTML(), 500), truncate(want, 500))
	}
	return out
}

// HTML returns the client-side copy of the region.
func (l *Live) HTML() string {
	return l.doc.HTML()
}

// State returns the session state.
func (l *Live) State() live.State {
	return l.sess.State()
}

// Session returns the live session.
func (l *Live) Session() *server.LiveSession {
	return l.sess
}

// Messages returns every message the client would have received.
func (l *Live) Messages() []protocol.ServerMessage {
	return l.messages
}

// Dispatcher returns the underlying dispatcher.
func (l *Live) Dispatcher() *server.Dispatcher {
	return l.dispatcher
}

// Registry returns the underlying session registry.
func (l *Live) Registry() *server.SessionRegistry {
	return l.registry
}

// Advance moves the harness clock forward.
func (l *Live) Advance(d time.Duration) {
	l.clock.Advance(d)
}

// clock is wall time plus a settable offset, shared by the registry and
// the default store.
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// ExpectContains asserts that html contains expected.
//
// Example:
//
//	vtest.ExpectContains(t, lv.HTML(), "Welcome Admin")
func ExpectContains(t testing.TB, html, expected string) {
	t.Helper()
	if !strings.Contains(html, expected) {
		t.Errorf("expected rendered output to contain %q, got:\n%s", expected, truncate(html, 500))
	}
}

// ExpectNotContains asserts that html does not contain unexpected.
func ExpectNotContains(t testing.TB, html, unexpected string) {
	t.Helper()
	if strings.Contains(html, unexpected) {
		t.Errorf("expected rendered output to NOT contain %q, got:\n%s", unexpected, truncate(html, 500))
	}
}

// ExpectElement asserts that html contains a tag.
func ExpectElement(t testing.TB, html, tag string) {
	t.Helper()
	if !strings.Contains(html, "<"+tag) {
		t.Errorf("expected rendered output to contain <%s> element, got:\n%s", tag, truncate(html, 500))
	}
}

// ExpectAttribute asserts that html contains an attribute value.
//
// Example:
//
//	vtest.ExpectAttribute(t, lv.HTML(), "class", "btn-primary")
func ExpectAttribute(t testing.TB, html, attr, value string) {
	t.Helper()
	needle := attr + `="` + value + `"`
	if !strings.Contains(html, needle) {
		t.Errorf("expected attribute %s=%q not found, got:\n%s", attr, value, truncate(html, 500))
	}
}

// ExpectEquivalent asserts that two renders are structurally equivalent.
func ExpectEquivalent(t testing.TB, got, want string) {
	t.Helper()
	if !vdom.Equivalent(got, want) {
		t.Errorf("renders differ:\n got: %s\nwant: %s", truncate(got, 500), truncate(want, 500))
	}
}

// ExpectOutcome asserts the kind of a dispatch outcome.
func ExpectOutcome(t testing.TB, out server.Outcome, want server.OutcomeKind) {
	t.Helper()
	if out.Kind != want {
		t.Errorf("outcome = %s (err %v), want %s", out.Kind, out.Err, want)
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
