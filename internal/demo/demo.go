// Package demo holds the example views served by "liveview serve".
package demo

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/vango-dev/liveview/pkg/live"
)

// Views returns the demo views keyed by the path they are mounted at.
func Views() map[string]*live.View {
	return map[string]*live.View{
		"counter": Counter(),
		"todos":   Todos(),
	}
}

// render executes t with state into a string.
func render(t *template.Template, state any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, state); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CounterState is the state of the counter view.
type CounterState struct {
	Count int `json:"count"`
	Step  int `json:"step"`
}

var counterTemplate = template.Must(template.New("counter").Parse(
	`<div id="counter">` +
		`<h1 id="count">{{.Count}}</h1>` +
		`<button id="dec" lv-click="dec">-{{.Step}}</button>` +
		`<button id="inc" lv-click="inc">+{{.Step}}</button>` +
		`<button id="reset" lv-click="reset">Reset</button>` +
		`</div>`))

// Counter returns a view holding a single integer. The "start" and
// "step" connect params set the initial value and increment.
func Counter() *live.View {
	handlers := live.NewRegistry().
		Handle("inc", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			c := s.(CounterState)
			c.Count += c.Step
			return live.Update(c), nil
		}).
		Handle("dec", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			c := s.(CounterState)
			c.Count -= c.Step
			return live.Update(c), nil
		}).
		Handle("reset", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			c := s.(CounterState)
			if c.Count == 0 {
				return live.NoChange(), nil
			}
			c.Count = 0
			return live.Update(c), nil
		})

	return &live.View{
		Mount: func(_ context.Context, p live.Params) (live.State, error) {
			c := CounterState{Step: 1}
			if v := p.Get("start"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("demo: invalid start %q", v)
				}
				c.Count = n
			}
			if v := p.Get("step"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("demo: invalid step %q", v)
				}
				c.Step = n
			}
			return c, nil
		},
		Render: func(s live.State) (string, error) {
			return render(counterTemplate, s.(CounterState))
		},
		Handlers: handlers,
		Codec:    live.JSONCodec[CounterState]{},
	}
}

// Item is one entry of the todo list.
type Item struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// TodoState is the state of the todo view.
type TodoState struct {
	Items  []Item `json:"items"`
	Draft  string `json:"draft"`
	NextID int    `json:"next_id"`
}

// Remaining counts the items not yet done.
func (t TodoState) Remaining() int {
	n := 0
	for _, it := range t.Items {
		if !it.Done {
			n++
		}
	}
	return n
}

func (t TodoState) index(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return -1
	}
	for i, it := range t.Items {
		if it.ID == n {
			return i
		}
	}
	return -1
}

// clone copies the item slice so handlers never mutate a rendered state.
func (t TodoState) clone() TodoState {
	t.Items = append([]Item(nil), t.Items...)
	return t
}

var todoTemplate = template.Must(template.New("todos").Parse(
	`<div id="todos">` +
		`<form id="new" lv-submit="add">` +
		`<input id="title" name="title" value="{{.Draft}}" lv-change="draft">` +
		`<button id="add" type="submit">Add</button>` +
		`</form>` +
		`<ul id="items">` +
		`{{range .Items}}` +
		`<li id="item-{{.ID}}"{{if .Done}} class="done"{{end}}>` +
		`<span id="item-{{.ID}}-title" lv-click="toggle" lv-value-id="{{.ID}}">{{.Title}}</span>` +
		`<button id="item-{{.ID}}-delete" lv-click="delete" lv-value-id="{{.ID}}">x</button>` +
		`</li>` +
		`{{end}}` +
		`</ul>` +
		`<p id="summary">{{.Remaining}} left</p>` +
		`<button id="clear" lv-click="clear">Clear done</button>` +
		`</div>`))

// Todos returns a todo list view. The comma separated "items" connect
// param seeds the list.
func Todos() *live.View {
	handlers := live.NewRegistry().
		Handle("draft", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(TodoState)
			t.Draft = e.Param("title")
			return live.Update(t), nil
		}).
		Handle("add", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(TodoState).clone()
			title := strings.TrimSpace(e.Param("title"))
			if title == "" {
				return live.NoChange(), nil
			}
			t.NextID++
			t.Items = append(t.Items, Item{ID: t.NextID, Title: title})
			t.Draft = ""
			return live.Update(t), nil
		}).
		Handle("toggle", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(TodoState).clone()
			i := t.index(e.Param("id"))
			if i < 0 {
				return live.Result{}, fmt.Errorf("demo: item %q not found", e.Param("id"))
			}
			t.Items[i].Done = !t.Items[i].Done
			return live.Update(t), nil
		}).
		Handle("delete", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			t := s.(TodoState).clone()
			i := t.index(e.Param("id"))
			if i < 0 {
				return live.Result{}, fmt.Errorf("demo: item %q not found", e.Param("id"))
			}
			t.Items = append(t.Items[:i], t.Items[i+1:]...)
			return live.Update(t), nil
		}).
		Handle("clear", func(_ context.Context, s live.State, _ live.Event) (live.Result, error) {
			t := s.(TodoState)
			kept := make([]Item, 0, len(t.Items))
			for _, it := range t.Items {
				if !it.Done {
					kept = append(kept, it)
				}
			}
			if len(kept) == len(t.Items) {
				return live.NoChange(), nil
			}
			t.Items = kept
			return live.Update(t), nil
		})

	return &live.View{
		Mount: func(_ context.Context, p live.Params) (live.State, error) {
			var t TodoState
			for _, title := range strings.Split(p.Get("items"), ",") {
				if title = strings.TrimSpace(title); title != "" {
					t.NextID++
					t.Items = append(t.Items, Item{ID: t.NextID, Title: title})
				}
			}
			return t, nil
		},
		Render: func(s live.State) (string, error) {
			return render(todoTemplate, s.(TodoState))
		},
		Handlers: handlers,
		Codec:    live.JSONCodec[TodoState]{},
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>liveview</title></head>
<body>
<h1>liveview demo</h1>
{{range .}}
<section>
<h2>{{.Name}}</h2>
<p>WebSocket: <code>{{.Prefix}}/ws</code> &middot; SSE: <code>{{.Prefix}}/sse</code></p>
{{.HTML}}
</section>
{{end}}
</body>
</html>
`))

type indexEntry struct {
	Name   string
	Prefix string
	HTML   template.HTML
}

// Index serves a page listing each view with its endpoints and its
// server-rendered initial markup.
func Index(prefix string, views map[string]*live.View) http.Handler {
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries := make([]indexEntry, 0, len(names))
		for _, name := range names {
			v := views[name]
			state, err := v.Mount(r.Context(), nil)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			html, err := v.Render(state)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			entries = append(entries, indexEntry{
				Name:   name,
				Prefix: strings.TrimSuffix(prefix, "/") + "/" + name,
				HTML:   template.HTML(html),
			})
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
