package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type counter struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

var errBoom = errors.New("boom")

func renderCounter(s live.State) (string, error) {
	c := s.(counter)
	return fmt.Sprintf(`<div id="root"><h1 id="label">%s</h1><span id="count">%d</span><button lv-click="inc">+</button></div>`,
		c.Label, c.Count), nil
}

// counterView mounts a counter labelled by the "label" param.
func counterView() *live.View {
	reg := live.NewRegistry().
		Handle("inc", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			c := s.(counter)
			c.Count++
			return live.Update(c), nil
		}).
		Handle("set", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			c := s.(counter)
			c.Label = e.Param("label")
			return live.Update(c), nil
		}).
		Handle("noop", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			return live.Update(s), nil
		}).
		Handle("boom", func(context.Context, live.State, live.Event) (live.Result, error) {
			return live.Result{}, errBoom
		}).
		Handle("panic", func(context.Context, live.State, live.Event) (live.Result, error) {
			panic("kaboom")
		}).
		Handle("leave", func(context.Context, live.State, live.Event) (live.Result, error) {
			return live.Redirect("/bye"), nil
		}).
		Handle("slow", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			time.Sleep(20 * time.Millisecond)
			c := s.(counter)
			c.Count++
			return live.Update(c), nil
		})

	return &live.View{
		Mount: func(_ context.Context, p live.Params) (live.State, error) {
			if p.Get("fail") != "" {
				return nil, errBoom
			}
			label := p.Get("label")
			if label == "" {
				label = "counter"
			}
			return counter{Label: label}, nil
		},
		Render:   renderCounter,
		Handlers: reg,
		Codec:    live.JSONCodec[counter]{},
	}
}

// testClock is a settable clock shared by registry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func newTestServer(t *testing.T, cfg *Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	return newViewServer(t, counterView(), cfg, opts...)
}

func newViewServer(t *testing.T, view *live.View, cfg *Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	srv, err := New(view, cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeMsg(t *testing.T, c *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		t.Fatalf("EncodeClientMessage() error = %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func readMsg(t *testing.T, c *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("DecodeServerMessage(%s) error = %v", data, err)
	}
	return msg
}

func readAs[T protocol.ServerMessage](t *testing.T, c *websocket.Conn) T {
	t.Helper()
	msg := readMsg(t, c)
	m, ok := msg.(T)
	if !ok {
		t.Fatalf("received %T (%+v), want %T", msg, msg, *new(T))
	}
	return m
}

// connectWS dials and connects, returning the socket and the initial render.
func connectWS(t *testing.T, ts *httptest.Server, params map[string]string) (*websocket.Conn, *protocol.Render) {
	t.Helper()
	c := dialWS(t, ts)
	writeMsg(t, c, &protocol.Connect{Params: params})
	return c, readAs[*protocol.Render](t, c)
}

// expectClose reads until the socket fails and returns the close code.
func expectClose(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		t.Fatalf("ReadMessage() error = %v, want close error", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
