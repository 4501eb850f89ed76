package live

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// HandlerFunc handles one event against the current state.
// Returning an error leaves the state and rendered snapshot untouched.
type HandlerFunc func(ctx context.Context, state State, ev Event) (Result, error)

// Registry maps event names to handlers. It is constructed by the
// application and passed to the engine; there is no process-wide table.
// A Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for name, replacing any previous handler.
// It returns the registry for chaining.
func (r *Registry) Handle(name string, fn HandlerFunc) *Registry {
	if name == "" || fn == nil {
		panic("live: Handle requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return r
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered event names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// JSONCodec is a StateCodec for JSON-serializable state of type T.
type JSONCodec[T any] struct{}

// Encode implements StateCodec.
func (JSONCodec[T]) Encode(state State) ([]byte, error) {
	return json.Marshal(state)
}

// Decode implements StateCodec.
func (JSONCodec[T]) Decode(data []byte) (State, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
