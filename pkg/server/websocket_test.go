package server

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/liveview/pkg/protocol"
)

func countFragment(n int) string {
	return fmt.Sprintf(`<span id="count">%d</span>`, n)
}

func serverConns(srv *Server) []*Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*Conn, 0, len(srv.conns))
	for c := range srv.conns {
		out = append(out, c)
	}
	return out
}

func TestWebSocketConnectRendersRegion(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	_, render := connectWS(t, ts, map[string]string{"label": "hello"})

	if render.LiveViewID == "" {
		t.Fatal("render should carry the liveview id")
	}
	if !strings.Contains(render.HTML, `<h1 id="label">hello</h1>`) {
		t.Errorf("render html = %q, want mount params applied", render.HTML)
	}
	sess := srv.Registry().Get(render.LiveViewID)
	if sess == nil || !sess.Attached() {
		t.Fatal("session should be registered and attached")
	}
}

func TestWebSocketCountToThree(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, render := connectWS(t, ts, nil)

	for i := 1; i <= 3; i++ {
		writeMsg(t, c, &protocol.Event{Event: "inc", LiveViewID: render.LiveViewID})
	}
	// One message per event, in order.
	for i := 1; i <= 3; i++ {
		patch := readAs[*protocol.Patch](t, c)
		if len(patch.Diff) != 1 {
			t.Fatalf("patch %d has %d instructions, want 1", i, len(patch.Diff))
		}
		want := protocol.Replace(countFragment(i-1), countFragment(i))
		if patch.Diff[0] != want {
			t.Errorf("patch %d = %+v, want %+v", i, patch.Diff[0], want)
		}
	}
}

func TestWebSocketEventsApplyInReceiptOrder(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Event{Event: "inc"})
	writeMsg(t, c, &protocol.Event{Event: "set", Params: map[string]string{"label": "second"}})
	writeMsg(t, c, &protocol.Event{Event: "inc"})

	first := readAs[*protocol.Patch](t, c)
	second := readAs[*protocol.Patch](t, c)
	third := readAs[*protocol.Patch](t, c)

	if first.Diff[0].New != countFragment(1) {
		t.Errorf("first patch = %+v, want count 1", first.Diff[0])
	}
	if !strings.Contains(second.Diff[0].New, "second") {
		t.Errorf("second patch = %+v, want label update", second.Diff[0])
	}
	if third.Diff[0].New != countFragment(2) {
		t.Errorf("third patch = %+v, want count 2", third.Diff[0])
	}
}

func TestWebSocketFullQueueStallsReader(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEventQueue = 2
	srv, ts := newTestServer(t, cfg)
	c, render := connectWS(t, ts, nil)

	const n = 10
	for i := 0; i < n; i++ {
		writeMsg(t, c, &protocol.Event{Event: "slow"})
	}
	// Every event is applied and answered even though the queue holds two.
	for i := 1; i <= n; i++ {
		patch := readAs[*protocol.Patch](t, c)
		if got, want := patch.Diff[0].New, countFragment(i); got != want {
			t.Fatalf("patch %d = %q, want %q", i, got, want)
		}
	}
	if got := srv.Registry().Get(render.LiveViewID).State().(counter).Count; got != n {
		t.Errorf("Count = %d, want %d", got, n)
	}
}

func TestWebSocketNoChangeSendsNothing(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Event{Event: "noop"})
	writeMsg(t, c, &protocol.Event{Event: "missing"})
	writeMsg(t, c, &protocol.Event{Event: "inc"})

	// The first reply belongs to the third event.
	patch := readAs[*protocol.Patch](t, c)
	if patch.Diff[0].New != countFragment(1) {
		t.Errorf("patch = %+v, want count 1", patch.Diff[0])
	}
}

func TestWebSocketHandlerErrorKeepsConnection(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Event{Event: "panic"})
	msg := readAs[*protocol.Error](t, c)
	if msg.Message != `event "panic" failed: internal error` {
		t.Errorf("error = %q", msg.Message)
	}

	writeMsg(t, c, &protocol.Event{Event: "inc"})
	readAs[*protocol.Patch](t, c)
}

func TestWebSocketRedirect(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Event{Event: "leave"})
	if got := readAs[*protocol.Redirect](t, c); got.URL != "/bye" {
		t.Errorf("redirect url = %q, want /bye", got.URL)
	}
}

func TestWebSocketEventBeforeConnect(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialWS(t, ts)

	writeMsg(t, c, &protocol.Event{Event: "inc"})
	if got := readAs[*protocol.Error](t, c); got.Message != ErrNotConnected.Error() {
		t.Errorf("error = %q, want %q", got.Message, ErrNotConnected.Error())
	}

	// The connection stays usable.
	writeMsg(t, c, &protocol.Connect{})
	readAs[*protocol.Render](t, c)
}

func TestWebSocketSecondConnect(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Connect{})
	if got := readAs[*protocol.Error](t, c); got.Message != ErrAlreadyConnected.Error() {
		t.Errorf("error = %q, want %q", got.Message, ErrAlreadyConnected.Error())
	}
}

func TestWebSocketUnknownLiveViewID(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Event{Event: "inc", LiveViewID: "someone-else"})
	if got := readAs[*protocol.Error](t, c); got.Message != "unknown liveview_id someone-else" {
		t.Errorf("error = %q", got.Message)
	}
}

func TestWebSocketMountFailure(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialWS(t, ts)

	writeMsg(t, c, &protocol.Connect{Params: map[string]string{"fail": "1"}})
	if got := readAs[*protocol.Error](t, c); !strings.Contains(got.Message, "mount failed") {
		t.Errorf("error = %q, want mount failure", got.Message)
	}

	writeMsg(t, c, &protocol.Connect{})
	readAs[*protocol.Render](t, c)
}

func TestWebSocketResume(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c1, render := connectWS(t, ts, nil)
	id := render.LiveViewID

	writeMsg(t, c1, &protocol.Event{Event: "inc"})
	readAs[*protocol.Patch](t, c1)
	c1.Close()

	sess := srv.Registry().Get(id)
	eventually(t, "session detach", func() bool { return !sess.Attached() })

	c2 := dialWS(t, ts)
	writeMsg(t, c2, &protocol.Connect{Params: map[string]string{ResumeParam: id}})
	resumed := readAs[*protocol.Render](t, c2)
	if resumed.LiveViewID != id {
		t.Errorf("resumed id = %q, want %q", resumed.LiveViewID, id)
	}
	if !strings.Contains(resumed.HTML, countFragment(1)) {
		t.Errorf("resumed html = %q, want count 1", resumed.HTML)
	}

	writeMsg(t, c2, &protocol.Event{Event: "inc", LiveViewID: id})
	patch := readAs[*protocol.Patch](t, c2)
	if patch.Diff[0].New != countFragment(2) {
		t.Errorf("patch after resume = %+v, want count 2", patch.Diff[0])
	}
}

func TestWebSocketResumeUnknownMountsFresh(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := dialWS(t, ts)

	writeMsg(t, c, &protocol.Connect{Params: map[string]string{ResumeParam: "gone", "label": "fresh"}})
	render := readAs[*protocol.Render](t, c)
	if render.LiveViewID == "gone" {
		t.Error("unknown session must not be resumed")
	}
	if !strings.Contains(render.HTML, "fresh") || !strings.Contains(render.HTML, countFragment(0)) {
		t.Errorf("render = %q, want freshly mounted region", render.HTML)
	}
}

func TestWebSocketTakeover(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c1, render := connectWS(t, ts, nil)
	id := render.LiveViewID

	c2 := dialWS(t, ts)
	writeMsg(t, c2, &protocol.Connect{Params: map[string]string{ResumeParam: id}})
	readAs[*protocol.Render](t, c2)

	if code := expectClose(t, c1); code != CloseSessionTakeover {
		t.Errorf("old connection close code = %d, want %d", code, CloseSessionTakeover)
	}

	writeMsg(t, c2, &protocol.Event{Event: "inc"})
	readAs[*protocol.Patch](t, c2)

	// The superseded connection's teardown must not detach the session.
	eventually(t, "old connection gone", func() bool { return srv.ConnCount() == 1 })
	if !srv.Registry().Get(id).Attached() {
		t.Error("session should remain attached to the new connection")
	}
}

func TestWebSocketProtocolErrorDropsConnection(t *testing.T) {
	tests := []struct {
		name  string
		frame func(*websocket.Conn) error
		code  int
	}{
		{"malformed json", func(c *websocket.Conn) error {
			return c.WriteMessage(websocket.TextMessage, []byte(`{"type":`))
		}, websocket.CloseProtocolError},
		{"unknown type", func(c *websocket.Conn) error {
			return c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
		}, websocket.CloseProtocolError},
		{"binary frame", func(c *websocket.Conn) error {
			return c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		}, websocket.CloseProtocolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ts := newTestServer(t, nil)
			c, render := connectWS(t, ts, nil)

			if err := tt.frame(c); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if code := expectClose(t, c); code != tt.code {
				t.Errorf("close code = %d, want %d", code, tt.code)
			}

			// The session survives for resume.
			sess := srv.Registry().Get(render.LiveViewID)
			eventually(t, "session detach", func() bool { return !sess.Attached() })
		})
	}
}

func TestWebSocketMessageTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 128
	_, ts := newTestServer(t, cfg)
	c, _ := connectWS(t, ts, nil)

	big := strings.Repeat("x", 1024)
	writeMsg(t, c, &protocol.Event{Event: "set", Params: map[string]string{"label": big}})
	if code := expectClose(t, c); code != websocket.CloseMessageTooBig {
		t.Errorf("close code = %d, want %d", code, websocket.CloseMessageTooBig)
	}
}

func TestWebSocketHeartbeat(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, _ := connectWS(t, ts, nil)

	writeMsg(t, c, &protocol.Heartbeat{})
	readAs[*protocol.HeartbeatAck](t, c)
}

func TestWebSocketServerPingsAreAcknowledged(t *testing.T) {
	cfg := testConfig().WithHeartbeatInterval(20 * time.Millisecond)
	srv, ts := newTestServer(t, cfg)
	c, _ := connectWS(t, ts, nil)

	// The client's default ping handler answers while it reads.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventually(t, "pong recorded", func() bool {
		for _, conn := range serverConns(srv) {
			if !conn.Heartbeat().LastAcked().IsZero() {
				return true
			}
		}
		return false
	})
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig().WithEventRate(0.001, 1)
	_, ts := newTestServer(t, cfg)
	c, _ := connectWS(t, ts, nil)

	for i := 0; i < 3; i++ {
		writeMsg(t, c, &protocol.Event{Event: "inc"})
	}

	var patches, limited int
	for i := 0; i < 3; i++ {
		switch m := readMsg(t, c).(type) {
		case *protocol.Patch:
			patches++
		case *protocol.Error:
			if m.Message == ErrRateLimited.Error() {
				limited++
			}
		}
	}
	if patches != 1 || limited != 2 {
		t.Errorf("got %d patches and %d rate-limit errors, want 1 and 2", patches, limited)
	}
}

func TestWebSocketConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	_, ts := newTestServer(t, cfg)
	c := dialWS(t, ts)

	if code := expectClose(t, c); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}

func TestWebSocketMaxSessions(t *testing.T) {
	cfg := testConfig().WithMaxSessions(1)
	_, ts := newTestServer(t, cfg)
	connectWS(t, ts, nil)

	c := dialWS(t, ts)
	writeMsg(t, c, &protocol.Connect{})
	if got := readAs[*protocol.Error](t, c); got.Message != ErrMaxSessionsReached.Error() {
		t.Errorf("error = %q, want %q", got.Message, ErrMaxSessionsReached.Error())
	}
	if code := expectClose(t, c); code != websocket.CloseTryAgainLater {
		t.Errorf("close code = %d, want %d", code, websocket.CloseTryAgainLater)
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	_, ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("cross-origin upgrade should be rejected")
	}
}

func TestServerShutdown(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, render := connectWS(t, ts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if code := expectClose(t, c); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	if srv.ConnCount() != 0 {
		t.Errorf("ConnCount() = %d, want 0", srv.ConnCount())
	}
	if sess := srv.Registry().Get(render.LiveViewID); sess == nil || sess.Attached() {
		t.Error("session should be detached, not deleted, on shutdown")
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("dial after shutdown should fail")
	}
}
