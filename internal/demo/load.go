package demo

import (
	"context"
	"fmt"
	"html/template"

	"github.com/vango-dev/liveview/pkg/live"
)

// LoadState is the state of the load-test view.
type LoadState struct {
	Token string `json:"token"`
	Seq   int    `json:"seq"`
	Items int    `json:"items"`
}

var loadTemplate = template.Must(template.New("load").Funcs(template.FuncMap{
	"rows": func(n, seq int) []int {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = (i*31 + seq) % 97
		}
		return rows
	},
}).Parse(
	`<div id="load">` +
		`<p id="token">{{.Token}}</p>` +
		`<ul id="rows">{{range $i, $v := rows .Items .Seq}}<li id="row-{{$i}}">{{$v}}</li>{{end}}</ul>` +
		`</div>`))

// Load returns a view that echoes the "token" param of each "input" event
// above a list of items rows, some of which change on every event.
func Load(items int) *live.View {
	handlers := live.NewRegistry().
		Handle("input", func(_ context.Context, s live.State, e live.Event) (live.Result, error) {
			l := s.(LoadState)
			l.Token = e.Param("token")
			l.Seq++
			return live.Update(l), nil
		})

	return &live.View{
		Mount: func(context.Context, live.Params) (live.State, error) {
			if items < 0 {
				return nil, fmt.Errorf("demo: negative item count %d", items)
			}
			return LoadState{Items: items}, nil
		},
		Render: func(s live.State) (string, error) {
			return render(loadTemplate, s.(LoadState))
		},
		Handlers: handlers,
		Codec:    live.JSONCodec[LoadState]{},
	}
}
