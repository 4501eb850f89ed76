package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/vdom"
)

// OutcomeKind classifies the result of dispatching one event.
type OutcomeKind uint8

const (
	// OutcomeNoChange sends nothing.
	OutcomeNoChange OutcomeKind = iota
	// OutcomeRender sends the whole region as a render message.
	OutcomeRender
	// OutcomePatch sends an ordered patch sequence.
	OutcomePatch
	// OutcomeRedirect sends a redirect message.
	OutcomeRedirect
	// OutcomeError sends an error message; state is untouched.
	OutcomeError
)

// String returns the string representation of the OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeRender:
		return "render"
	case OutcomePatch:
		return "patch"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is what one dispatched event produced.
type Outcome struct {
	Kind OutcomeKind

	// Message is the server message to send; nil for OutcomeNoChange.
	Message protocol.ServerMessage

	// Patches are the diff behind an OutcomePatch or degraded OutcomeRender.
	Patches []vdom.Patch

	// Err is set for OutcomeError.
	Err error
}

// DispatchFunc processes one event for a session. It runs with the
// session's dispatch lock held.
type DispatchFunc func(ctx context.Context, sess *LiveSession, ev live.Event) Outcome

// Middleware wraps a DispatchFunc.
type Middleware func(next DispatchFunc) DispatchFunc

// Dispatcher routes events to the view's handlers, renders the new state
// and diffs it against the session's last render. Events for one session
// are serialized; different sessions dispatch concurrently.
type Dispatcher struct {
	view   *live.View
	differ *vdom.Differ
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	middleware []Middleware
	chain      DispatchFunc
}

// NewDispatcher creates a Dispatcher for view, keying blocks on idAttr.
func NewDispatcher(view *live.View, idAttr string, logger *slog.Logger) (*Dispatcher, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		view:   view,
		differ: vdom.NewDiffer(idAttr),
		logger: logger.With("component", "dispatcher"),
		now:    time.Now,
	}
	d.chain = d.dispatch
	return d, nil
}

// Use appends middleware. The first middleware added is the outermost.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw...)

	chain := DispatchFunc(d.dispatch)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		chain = d.middleware[i](chain)
	}
	d.chain = chain
}

// View returns the dispatched view.
func (d *Dispatcher) View() *live.View {
	return d.view
}

// Mount creates a new session from connect parameters and renders it for
// the first time.
func (d *Dispatcher) Mount(ctx context.Context, params live.Params) (*LiveSession, error) {
	id := uuid.NewString()

	var state live.State
	err := d.guard(id, "", "mount", func() error {
		var err error
		state, err = d.view.Mount(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	html, err := d.render(id, "", state)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("session mounted", "session_id", id)
	return newLiveSession(id, state, html, d.now()), nil
}

// Dispatch applies ev to sess and returns the message to send.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *LiveSession, ev live.Event) Outcome {
	d.mu.RLock()
	chain := d.chain
	d.mu.RUnlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ev.SessionID = sess.id
	return chain(ctx, sess, ev)
}

// dispatchFrom runs ev on behalf of connection c. It reports false without
// running anything when c no longer owns sess. Ownership is checked under
// the session lock, so once a resuming connection has read LastRendered no
// event from the superseded connection can change the session.
func (d *Dispatcher) dispatchFrom(ctx context.Context, sess *LiveSession, c *Conn, ev live.Event) (Outcome, bool) {
	d.mu.RLock()
	chain := d.chain
	d.mu.RUnlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.ownedBy(c) {
		return Outcome{}, false
	}
	ev.SessionID = sess.id
	return chain(ctx, sess, ev), true
}

// dispatch is the innermost DispatchFunc. The caller holds sess.mu.
func (d *Dispatcher) dispatch(ctx context.Context, sess *LiveSession, ev live.Event) Outcome {
	handler, ok := d.view.Handlers.Lookup(ev.Name)
	if !ok {
		d.logger.Debug("no handler for event", "session_id", sess.id, "event", ev.Name)
		return Outcome{Kind: OutcomeNoChange}
	}

	var res live.Result
	err := d.guard(sess.id, ev.Name, "handle", func() error {
		var err error
		res, err = handler(ctx, sess.state, ev)
		return err
	})
	if err != nil {
		return d.fail(err)
	}

	switch res.Kind {
	case live.ResultNoChange:
		return Outcome{Kind: OutcomeNoChange}

	case live.ResultRedirect:
		return Outcome{Kind: OutcomeRedirect, Message: &protocol.Redirect{URL: res.URL}}

	case live.ResultUpdate:
		html, err := d.render(sess.id, ev.Name, res.State)
		if err != nil {
			return d.fail(err)
		}
		patches := d.differ.Diff(sess.lastRendered, html)
		sess.state = res.State
		sess.lastRendered = html
		return outcomeFor(sess.id, html, patches)

	default:
		return d.fail(&HandlerError{
			SessionID: sess.id,
			Event:     ev.Name,
			Op:        "handle",
			Err:       fmt.Errorf("unknown result kind %d", res.Kind),
		})
	}
}

// outcomeFor maps a diff onto the message that carries it.
func outcomeFor(id, html string, patches []vdom.Patch) Outcome {
	switch {
	case len(patches) == 0:
		return Outcome{Kind: OutcomeNoChange}
	case vdom.IsFull(patches):
		return Outcome{
			Kind:    OutcomeRender,
			Message: &protocol.Render{LiveViewID: id, HTML: html},
			Patches: patches,
		}
	default:
		return Outcome{
			Kind:    OutcomePatch,
			Message: &protocol.Patch{Diff: toInstructions(patches)},
			Patches: patches,
		}
	}
}

func toInstructions(patches []vdom.Patch) []protocol.PatchInstruction {
	out := make([]protocol.PatchInstruction, 0, len(patches))
	for _, p := range patches {
		switch p.Op {
		case vdom.PatchReplace:
			out = append(out, protocol.Replace(p.Old, p.New))
		case vdom.PatchAdd:
			out = append(out, protocol.Add(p.Old, p.New))
		case vdom.PatchRemove:
			out = append(out, protocol.Remove(p.Old))
		}
	}
	return out
}

func (d *Dispatcher) render(id, event string, state live.State) (string, error) {
	var html string
	err := d.guard(id, event, "render", func() error {
		var err error
		html, err = d.view.Render(state)
		return err
	})
	return html, err
}

// guard runs fn, converting errors and panics into a *HandlerError.
func (d *Dispatcher) guard(id, event, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			d.logger.Error("handler panic",
				"session_id", id,
				"event", event,
				"op", op,
				"panic", r,
				"stack", string(stack))
			err = &HandlerError{SessionID: id, Event: event, Op: op, Panic: r, Stack: stack}
		}
	}()
	if err := fn(); err != nil {
		return &HandlerError{SessionID: id, Event: event, Op: op, Err: err}
	}
	return nil
}

func (d *Dispatcher) fail(err error) Outcome {
	msg := err.Error()
	var he *HandlerError
	if errors.As(err, &he) {
		msg = he.ClientMessage()
		if he.Panic == nil {
			d.logger.Error("handler failed", "session_id", he.SessionID, "event", he.Event, "op", he.Op, "error", he.Err)
		}
	}
	return Outcome{Kind: OutcomeError, Message: &protocol.Error{Message: msg}, Err: err}
}
