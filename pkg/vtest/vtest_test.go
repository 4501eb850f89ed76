package vtest_test

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"testing"

	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/server"
	"github.com/vango-dev/liveview/pkg/vtest"
)

type item struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type todos struct {
	Items  []item `json:"items"`
	Draft  string `json:"draft"`
	NextID int    `json:"next_id"`
}

func renderTodos(s live.State) (string, error) {
	t := s.(todos)
	var b strings.Builder
	b.WriteString(`<div id="todos">`)
	fmt.Fprintf(&b, `<form id="new" lv-submit="add"><input id="title" name="title" value="%s" lv-change="draft"></form>`,
		html.EscapeString(t.Draft))
	b.WriteString(`<ul id="list">`)
	for _, it := range t.Items {
		fmt.Fprintf(&b, `<li id="item-%d">%s<button id="del-%d" lv-click="delete" lv-value-id="%d">x</button></li>`,
			it.ID, html.EscapeString(it.Title), it.ID, it.ID)
	}
	b.WriteString(`</ul>`)
	fmt.Fprintf(&b, `<p id="left">%d left</p></div>`, len(t.Items))
	return b.String(), nil
}

func todoView() *live.View {
	reg := live.NewRegistry().
		Handle("draft", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(todos)
			t.Draft = e.Param("title")
			return live.Update(t), nil
		}).
		Handle("add", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(todos)
			title := strings.TrimSpace(e.Param("title"))
			if title == "" {
				return live.Result{}, errors.New("invalid title")
			}
			t.NextID++
			t.Items = append(append([]item(nil), t.Items...), item{ID: t.NextID, Title: title})
			t.Draft = ""
			return live.Update(t), nil
		}).
		Handle("delete", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(todos)
			id, err := strconv.Atoi(e.Param("id"))
			if err != nil {
				return live.Result{}, err
			}
			var kept []item
			for _, it := range t.Items {
				if it.ID != id {
					kept = append(kept, it)
				}
			}
			t.Items = kept
			return live.Update(t), nil
		}).
		Handle("none", func(context.Context, live.State, live.Event) (live.Result, error) {
			return live.NoChange(), nil
		}).
		Handle("done", func(context.Context, live.State, live.Event) (live.Result, error) {
			return live.Redirect("/done"), nil
		})

	return &live.View{
		Mount: func(_ context.Context, p live.Params) (live.State, error) {
			t := todos{}
			if first := p.Get("first"); first != "" {
				t.NextID = 1
				t.Items = []item{{ID: 1, Title: first}}
			}
			return t, nil
		},
		Render:   renderTodos,
		Handlers: reg,
		Codec:    live.JSONCodec[todos]{},
	}
}

func TestMount(t *testing.T) {
	lv := vtest.Mount(t, todoView(), vtest.WithParams(map[string]string{"first": "milk"}))

	vtest.ExpectContains(t, lv.HTML(), "milk")
	vtest.ExpectContains(t, lv.HTML(), "1 left")
	vtest.ExpectElement(t, lv.HTML(), "form")
	vtest.ExpectAttribute(t, lv.HTML(), "lv-click", "delete")

	if n := len(lv.Messages()); n != 1 {
		t.Fatalf("messages = %d, want the initial render", n)
	}
	if _, ok := lv.Messages()[0].(*protocol.Render); !ok {
		t.Errorf("first message = %T, want *protocol.Render", lv.Messages()[0])
	}
}

func TestInteractions(t *testing.T) {
	lv := vtest.Mount(t, todoView())

	lv.Change("title", "eggs")
	vtest.ExpectAttribute(t, lv.HTML(), "value", "eggs")

	out := lv.Submit("new")
	vtest.ExpectOutcome(t, out, server.OutcomePatch)
	vtest.ExpectContains(t, lv.HTML(), "eggs")
	vtest.ExpectContains(t, lv.HTML(), "1 left")
	vtest.ExpectAttribute(t, lv.HTML(), "value", "")

	lv.Change("title", "bread")
	lv.Submit("new")
	vtest.ExpectContains(t, lv.HTML(), "2 left")

	lv.Click("del-1")
	vtest.ExpectNotContains(t, lv.HTML(), "eggs")
	vtest.ExpectContains(t, lv.HTML(), "bread")
	vtest.ExpectContains(t, lv.HTML(), "1 left")

	if got := lv.State().(todos); len(got.Items) != 1 || got.Items[0].Title != "bread" {
		t.Errorf("state = %+v, want only bread", got)
	}
	want, _ := renderTodos(lv.State())
	vtest.ExpectEquivalent(t, lv.HTML(), want)
}

func TestSendOutcomes(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	before := len(lv.Messages())

	vtest.ExpectOutcome(t, lv.Send("none", nil), server.OutcomeNoChange)
	vtest.ExpectOutcome(t, lv.Send("unknown", nil), server.OutcomeNoChange)
	if len(lv.Messages()) != before {
		t.Errorf("no-change events produced %d messages", len(lv.Messages())-before)
	}

	out := lv.Send("add", map[string]string{"title": "  "})
	vtest.ExpectOutcome(t, out, server.OutcomeError)
	vtest.ExpectContains(t, lv.HTML(), "0 left")

	out = lv.Send("done", nil)
	vtest.ExpectOutcome(t, out, server.OutcomeRedirect)
	if r, ok := out.Message.(*protocol.Redirect); !ok || r.URL != "/done" {
		t.Errorf("redirect message = %+v, want /done", out.Message)
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.Send("add", map[string]string{"title": "milk"})
	id := lv.Session().ID()

	lv.SimulateDisconnect()
	if lv.Session().Attached() {
		t.Error("session should be detached")
	}
	lv.AssertPersisted(t)

	if err := lv.SimulateReconnect(); err != nil {
		t.Fatalf("SimulateReconnect() error = %v", err)
	}
	if lv.Session().ID() != id {
		t.Errorf("session id = %s after resume, want %s", lv.Session().ID(), id)
	}
	vtest.ExpectContains(t, lv.HTML(), "milk")
	lv.AssertNotPersisted(t)

	if err := lv.SimulateReconnect(); !errors.Is(err, vtest.ErrStillAttached) {
		t.Errorf("reconnect while attached error = %v, want ErrStillAttached", err)
	}
}

func TestTimeoutMountsFresh(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.Send("add", map[string]string{"title": "milk"})
	id := lv.Session().ID()

	lv.SimulateDisconnect()
	if n := lv.SimulateTimeout(); n != 1 {
		t.Errorf("SimulateTimeout() evicted %d, want 1", n)
	}
	lv.AssertNotPersisted(t)

	if err := lv.SimulateReconnect(); !errors.Is(err, server.ErrSessionNotFound) {
		t.Errorf("SimulateReconnect() error = %v, want ErrSessionNotFound", err)
	}
	if lv.Session().ID() == id {
		t.Error("expired session should not be resumed")
	}
	vtest.ExpectContains(t, lv.HTML(), "0 left")
}

func TestServerRestart(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.Send("add", map[string]string{"title": "milk"})
	id := lv.Session().ID()

	if err := lv.SimulateServerRestart(); err != nil {
		t.Fatalf("SimulateServerRestart() error = %v", err)
	}
	if lv.Session().ID() != id {
		t.Errorf("session id = %s after restart, want %s", lv.Session().ID(), id)
	}
	vtest.ExpectContains(t, lv.HTML(), "milk")

	// The restored session keeps working.
	lv.Send("add", map[string]string{"title": "eggs"})
	vtest.ExpectContains(t, lv.HTML(), "2 left")
}

func TestEviction(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.SimulateEviction()
	if err := lv.SimulateReconnect(); !errors.Is(err, server.ErrSessionNotFound) {
		t.Errorf("SimulateReconnect() after eviction error = %v, want ErrSessionNotFound", err)
	}
}

func TestTakeover(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.Send("add", map[string]string{"title": "milk"})
	id := lv.Session().ID()

	lv.SimulateTakeover()
	if lv.Session().ID() != id || !lv.Session().Attached() {
		t.Errorf("takeover session = %s attached %v, want %s attached", lv.Session().ID(), lv.Session().Attached(), id)
	}
	if got := lv.Registry().Stats().TotalResumed; got != 1 {
		t.Errorf("Stats().TotalResumed = %d, want 1", got)
	}
}

func TestRemount(t *testing.T) {
	lv := vtest.Mount(t, todoView())
	lv.Remount(live.Params{"first": "tea"})
	vtest.ExpectContains(t, lv.HTML(), "tea")
	if lv.Registry().Count() != 1 {
		t.Errorf("Count() = %d, want 1", lv.Registry().Count())
	}
}

func TestMiddlewareOption(t *testing.T) {
	var seen []string
	mw := func(next server.DispatchFunc) server.DispatchFunc {
		return func(ctx context.Context, sess *server.LiveSession, ev live.Event) server.Outcome {
			seen = append(seen, ev.Name)
			return next(ctx, sess, ev)
		}
	}
	lv := vtest.Mount(t, todoView(), vtest.WithMiddleware(mw))
	lv.Send("none", nil)
	if len(seen) != 1 || seen[0] != "none" {
		t.Errorf("middleware saw %v, want [none]", seen)
	}
}
