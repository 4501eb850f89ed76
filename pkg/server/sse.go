package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/vango-dev/liveview/pkg/protocol"
)

// sseTransport pushes server messages down a text/event-stream response.
// Client messages arrive on separate POST requests.
type sseTransport struct {
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSETransport(depth int) *sseTransport {
	return &sseTransport{
		out:  make(chan []byte, depth),
		done: make(chan struct{}),
	}
}

func (t *sseTransport) kind() string { return "sse" }

func (t *sseTransport) write(ctx context.Context, data []byte) error {
	select {
	case t.out <- data:
		return nil
	case <-t.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ping queues a comment line that keeps intermediaries from idling out
// the stream. Clients cannot acknowledge it.
func (t *sseTransport) ping(ctx context.Context) error {
	return t.write(ctx, nil)
}

func (t *sseTransport) acknowledges() bool { return false }

func (t *sseTransport) backpressure() bool { return false }

func (t *sseTransport) close(int, string) {
	t.closeOnce.Do(func() { close(t.done) })
}

// ServeSSE opens the push half of the fallback transport. The query
// carries the client-chosen connection id (cid) and, optionally, the
// connect parameters as a JSON object (params). The connect message is
// implied by opening the stream.
func (s *Server) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if check := s.config.CheckOrigin; check != nil && !check(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	cid := q.Get("cid")
	if cid == "" {
		http.Error(w, "missing cid", http.StatusBadRequest)
		return
	}
	connect, err := sseConnectMessage(q.Get("params"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tr := newSSETransport(s.config.MaxEventQueue)
	c := newConn(s, cid, tr)
	if !s.registerSSE(c) {
		http.Error(w, "connection id in use", http.StatusConflict)
		return
	}
	if s.track(c) == nil {
		s.unregisterSSE(c)
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c.start()
	if err := c.receive(connect); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			c.protocolError(perr)
		}
	}

	c.streamSSE(r.Context(), w, flusher, tr)
	c.finish()
	s.unregisterSSE(c)
}

// streamSSE writes queued messages until the client goes away or the
// connection closes.
func (c *Conn) streamSSE(ctx context.Context, w io.Writer, flusher http.Flusher, tr *sseTransport) {
	for {
		select {
		case data := <-tr.out:
			var err error
			if data == nil {
				_, err = io.WriteString(w, ": ping\n\n")
			} else {
				_, err = fmt.Fprintf(w, "data: %s\n\n", data)
			}
			if err != nil {
				c.logger.Debug("sse write failed", "error", err)
				return
			}
			flusher.Flush()
		case <-tr.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func sseConnectMessage(params string) ([]byte, error) {
	if params == "" {
		params = "{}"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(params), &obj); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return json.Marshal(struct {
		Type   protocol.MessageType       `json:"type"`
		Params map[string]json.RawMessage `json:"params"`
	}{protocol.TypeConnect, obj})
}

// ServeSSEPost accepts one client message for the SSE connection named by
// the {cid} route parameter.
func (s *Server) ServeSSEPost(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	c := s.lookupSSE(cid)
	if c == nil {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxMessageSize))
	if err != nil {
		c.protocolError(&ProtocolError{ConnID: cid, Op: "read", Err: protocol.ErrMessageTooLarge})
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := c.receive(body); err != nil {
		var perr *ProtocolError
		switch {
		case errors.As(err, &perr):
			c.protocolError(perr)
			http.Error(w, perr.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrConnectionClosed):
			http.Error(w, "connection closed", http.StatusGone)
		case errors.Is(err, ErrEventQueueFull):
			w.Header().Set("Retry-After", "1")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) registerSSE(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sse[c.id]; exists {
		return false
	}
	s.sse[c.id] = c
	return true
}

func (s *Server) unregisterSSE(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sse[c.id] == c {
		delete(s.sse, c.id)
	}
}

func (s *Server) lookupSSE(cid string) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sse[cid]
}
