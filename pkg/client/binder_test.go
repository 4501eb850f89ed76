package client

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/vdom"
)

const todoRegion = `<div id="todos">
<ul id="list">
  <li id="item-1"><span id="title-1">milk</span><button id="del-1" lv-click="delete" lv-value-id="1" lv-value-kind="todo">x</button></li>
</ul>
<form id="add" name="add-form" lv-submit="add" lv-value-list="home">
  <input id="title" name="title" value="eggs" lv-keydown="typing">
  <input id="urgent" type="checkbox" name="urgent" checked>
  <input id="later" type="checkbox" name="later">
  <select id="prio" name="prio" lv-change="prioritize"><option value="low">Low</option><option value="high" selected>High</option></select>
  <textarea id="notes" name="notes">free range</textarea>
  <input id="off" name="off" value="x" disabled>
  <button id="go" type="submit">Add</button>
</form>
<p id="plain">nothing bound</p>
</div>`

func boundBinder(t *testing.T, src string) (*Binder, *vdom.Document) {
	t.Helper()
	doc, err := vdom.ParseDocument(src, "id")
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	b := NewBinder()
	b.Bind(doc)
	return b, doc
}

func strPtr(s string) *string { return &s }

func TestBinderEvents(t *testing.T) {
	b, _ := boundBinder(t, todoRegion)

	tests := []struct {
		name string
		in   Interaction
		want protocol.Event
	}{
		{
			name: "click collects value attributes",
			in:   Interaction{Trigger: Click, ID: "del-1"},
			want: protocol.Event{Event: "delete", Params: map[string]string{"id": "1", "kind": "todo"}},
		},
		{
			name: "submit collects named controls",
			in:   Interaction{Trigger: Submit, ID: "add"},
			want: protocol.Event{
				Event:  "add",
				Target: "add-form",
				Params: map[string]string{
					"list":   "home",
					"title":  "eggs",
					"urgent": "on",
					"prio":   "high",
					"notes":  "free range",
				},
			},
		},
		{
			name: "submit bubbles from the submit button",
			in:   Interaction{Trigger: Submit, ID: "go"},
			want: protocol.Event{
				Event:  "add",
				Target: "add-form",
				Params: map[string]string{
					"list":   "home",
					"title":  "eggs",
					"urgent": "on",
					"prio":   "high",
					"notes":  "free range",
				},
			},
		},
		{
			name: "change uses the typed value",
			in:   Interaction{Trigger: Change, ID: "prio", Value: strPtr("low")},
			want: protocol.Event{Event: "prioritize", Target: "prio", Params: map[string]string{"prio": "low"}},
		},
		{
			name: "keydown reports the key",
			in:   Interaction{Trigger: KeyDown, ID: "title", Key: "Enter"},
			want: protocol.Event{Event: "typing", Target: "title", Params: map[string]string{"title": "eggs", "key": "Enter"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := b.Event(tt.in)
			if err != nil || !ok {
				t.Fatalf("Event() = ok %v, err %v", ok, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBinderUnbound(t *testing.T) {
	b, _ := boundBinder(t, todoRegion)

	if _, ok, err := b.Event(Interaction{Trigger: Click, ID: "plain"}); ok || err != nil {
		t.Errorf("click on unbound element = ok %v, err %v; want no event", ok, err)
	}
	if _, ok, err := b.Event(Interaction{Trigger: Blur, ID: "del-1"}); ok || err != nil {
		t.Errorf("blur without lv-blur = ok %v, err %v; want no event", ok, err)
	}
	if _, _, err := b.Event(Interaction{Trigger: Click, ID: "missing"}); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("missing element error = %v, want ErrElementNotFound", err)
	}
	if _, _, err := NewBinder().Event(Interaction{Trigger: Click, ID: "del-1"}); !errors.Is(err, ErrNotBound) {
		t.Errorf("unbound binder error = %v, want ErrNotBound", err)
	}
}

func TestBinderScansOncePerRender(t *testing.T) {
	b, doc := boundBinder(t, todoRegion)

	if !b.Bound() {
		t.Fatal("Bound() = false after Bind")
	}
	if b.Bindings() != 4 {
		t.Errorf("Bindings() = %d, want 4", b.Bindings())
	}
	if b.Bind(doc) {
		t.Error("Bind() rescanned an already bound region")
	}

	// A patch adds a bound element without a rescan.
	err := doc.Apply(vdom.Patch{
		Op:  vdom.PatchAdd,
		Old: `<li id="item-1"><span id="title-1">milk</span><button id="del-1" lv-click="delete" lv-value-id="1" lv-value-kind="todo">x</button></li>`,
		New: `<li id="item-2"><button id="del-2" lv-click="delete" lv-value-id="2">x</button></li>`,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	ev, ok, err := b.Event(Interaction{Trigger: Click, ID: "del-2"})
	if err != nil || !ok {
		t.Fatalf("Event() on patched element = ok %v, err %v", ok, err)
	}
	if ev.Params["id"] != "2" {
		t.Errorf("params = %v, want id=2", ev.Params)
	}
	if b.Bindings() != 4 {
		t.Errorf("Bindings() = %d after patch, want unchanged 4", b.Bindings())
	}

	// A full render clears the flag and the next Bind rescans.
	if err := doc.Reset(`<div id="r"><a id="a" lv-click="go">go</a></div>`); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	b.Reset()
	if b.Bound() {
		t.Error("Bound() = true after Reset")
	}
	if !b.Bind(doc) {
		t.Error("Bind() after Reset should rescan")
	}
	if b.Bindings() != 1 {
		t.Errorf("Bindings() = %d, want 1", b.Bindings())
	}
}

func TestTriggerAttr(t *testing.T) {
	for _, tr := range Triggers {
		if got, want := tr.Attr(), "lv-"+string(tr); got != want {
			t.Errorf("%s.Attr() = %q, want %q", tr, got, want)
		}
	}
}
