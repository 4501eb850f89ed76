package demo_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-dev/liveview/internal/demo"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/server"
	"github.com/vango-dev/liveview/pkg/vtest"
)

func TestCounter(t *testing.T) {
	lv := vtest.Mount(t, demo.Counter(), vtest.WithParams(map[string]string{"start": "5", "step": "2"}))
	vtest.ExpectContains(t, lv.HTML(), `<h1 id="count">5</h1>`)

	vtest.ExpectOutcome(t, lv.Click("inc"), server.OutcomePatch)
	vtest.ExpectOutcome(t, lv.Click("inc"), server.OutcomePatch)
	vtest.ExpectContains(t, lv.HTML(), `<h1 id="count">9</h1>`)

	lv.Click("dec")
	if got := lv.State().(demo.CounterState).Count; got != 7 {
		t.Errorf("Count = %d, want 7", got)
	}

	vtest.ExpectOutcome(t, lv.Click("reset"), server.OutcomePatch)
	vtest.ExpectOutcome(t, lv.Click("reset"), server.OutcomeNoChange)
	vtest.ExpectContains(t, lv.HTML(), `<h1 id="count">0</h1>`)
}

func TestCounterMountParams(t *testing.T) {
	view := demo.Counter()
	tests := []struct {
		name    string
		params  live.Params
		wantErr bool
	}{
		{"defaults", nil, false},
		{"start", live.Params{"start": "-3"}, false},
		{"bad start", live.Params{"start": "x"}, true},
		{"zero step", live.Params{"step": "0"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := view.Mount(context.Background(), tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("Mount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTodos(t *testing.T) {
	lv := vtest.Mount(t, demo.Todos(), vtest.WithParams(map[string]string{"items": "milk, eggs"}))
	vtest.ExpectContains(t, lv.HTML(), `<p id="summary">2 left</p>`)

	lv.Change("title", "<b>bread</b>")
	vtest.ExpectAttribute(t, lv.HTML(), "value", "&lt;b&gt;bread&lt;/b&gt;")

	vtest.ExpectOutcome(t, lv.Submit("new"), server.OutcomePatch)
	vtest.ExpectContains(t, lv.HTML(), `<span id="item-3-title" lv-click="toggle" lv-value-id="3">&lt;b&gt;bread&lt;/b&gt;</span>`)
	vtest.ExpectContains(t, lv.HTML(), `<p id="summary">3 left</p>`)
	if got := lv.State().(demo.TodoState).Draft; got != "" {
		t.Errorf("Draft = %q, want cleared", got)
	}

	lv.Click("item-1-title")
	vtest.ExpectContains(t, lv.HTML(), `<li id="item-1" class="done">`)
	vtest.ExpectContains(t, lv.HTML(), `<p id="summary">2 left</p>`)

	lv.Click("item-2-delete")
	vtest.ExpectNotContains(t, lv.HTML(), `id="item-2"`)

	vtest.ExpectOutcome(t, lv.Click("clear"), server.OutcomePatch)
	vtest.ExpectNotContains(t, lv.HTML(), `id="item-1"`)
	vtest.ExpectOutcome(t, lv.Click("clear"), server.OutcomeNoChange)

	if n := len(lv.State().(demo.TodoState).Items); n != 1 {
		t.Errorf("len(Items) = %d, want 1", n)
	}
}

func TestTodosEmptySubmit(t *testing.T) {
	lv := vtest.Mount(t, demo.Todos())
	vtest.ExpectOutcome(t, lv.Submit("new"), server.OutcomeNoChange)
}

func TestTodosUnknownItem(t *testing.T) {
	lv := vtest.Mount(t, demo.Todos())
	out := lv.Send("toggle", map[string]string{"id": "42"})
	vtest.ExpectOutcome(t, out, server.OutcomeError)
}

func TestTodosSurviveReconnect(t *testing.T) {
	lv := vtest.Mount(t, demo.Todos())
	lv.Change("title", "walk dog")
	lv.Submit("new")

	lv.SimulateDisconnect()
	lv.AssertPersisted(t)
	if err := lv.SimulateServerRestart(); err != nil {
		t.Fatalf("SimulateServerRestart() error = %v", err)
	}
	vtest.ExpectContains(t, lv.HTML(), "walk dog")
}

func TestIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	demo.Index("/live/", demo.Views()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"/live/counter/ws", "/live/todos/sse", `<div id="counter">`, `<div id="todos">`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestLoad(t *testing.T) {
	lv := vtest.Mount(t, demo.Load(5))
	vtest.ExpectContains(t, lv.HTML(), `<li id="row-4">`)

	vtest.ExpectOutcome(t, lv.Send("input", map[string]string{"token": "t-1"}), server.OutcomePatch)
	vtest.ExpectContains(t, lv.HTML(), `<p id="token">t-1</p>`)
	lv.Send("input", map[string]string{"token": "t-2"})
	vtest.ExpectContains(t, lv.HTML(), `<p id="token">t-2</p>`)

	if _, err := demo.Load(-1).Mount(context.Background(), nil); err == nil {
		t.Error("Mount() with negative items should fail")
	}
}
