// Package live defines the contract between an application and the live
// view engine: how state is created (Mount), turned into HTML (Render) and
// changed by events (a Registry of handlers).
//
// State is opaque to the engine. It is only ever touched by the engine's
// dispatcher, one event at a time per session, so handlers may treat it as
// exclusively owned for the duration of a call.
//
//	reg := live.NewRegistry()
//	reg.Handle("increment", func(ctx context.Context, s live.State, e live.Event) (live.Result, error) {
//	    c := s.(Counter)
//	    c.Count++
//	    return live.Update(c), nil
//	})
//
//	view := &live.View{
//	    Mount:    func(ctx context.Context, p live.Params) (live.State, error) { return Counter{}, nil },
//	    Render:   renderCounter,
//	    Handlers: reg,
//	}
package live

import (
	"context"
	"errors"
)

// State is the application state of one live session.
type State any

// Params are the string parameters of a connect message.
type Params map[string]string

// Get returns the value for key, or "".
func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Event is an inbound interaction routed to a handler.
type Event struct {
	// Name is the event name ("increment").
	Name string

	// SessionID is the live session the event targets.
	SessionID string

	// Params are the collected value attributes.
	Params map[string]string

	// Target is the name of the originating element, if any.
	Target string
}

// Param returns the value of an event parameter, or "".
func (e Event) Param(key string) string {
	if e.Params == nil {
		return ""
	}
	return e.Params[key]
}

// MountFunc produces the first state of a session from connect parameters.
type MountFunc func(ctx context.Context, params Params) (State, error)

// RenderFunc turns state into the HTML of the live region.
type RenderFunc func(state State) (string, error)

// View bundles everything the engine needs to run one kind of live region.
type View struct {
	// Mount is invoked on first connect and whenever a resume fails.
	Mount MountFunc

	// Render is invoked after every state change.
	Render RenderFunc

	// Handlers routes event names to handlers.
	Handlers *Registry

	// Codec, when set, lets detached sessions be persisted to a store.
	Codec StateCodec
}

// Errors returned by View validation.
var (
	ErrNoMount    = errors.New("live: view has no Mount function")
	ErrNoRender   = errors.New("live: view has no Render function")
	ErrNoHandlers = errors.New("live: view has no handler registry")
)

// Validate checks that the view can be served.
func (v *View) Validate() error {
	switch {
	case v == nil || v.Mount == nil:
		return ErrNoMount
	case v.Render == nil:
		return ErrNoRender
	case v.Handlers == nil:
		return ErrNoHandlers
	}
	return nil
}

// StateCodec serializes state for session persistence.
type StateCodec interface {
	Encode(state State) ([]byte, error)
	Decode(data []byte) (State, error)
}
