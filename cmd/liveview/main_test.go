package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/liveview/internal/config"
	"github.com/vango-dev/liveview/internal/demo"
	"github.com/vango-dev/liveview/internal/errors"
	"github.com/vango-dev/liveview/pkg/client"
	"github.com/vango-dev/liveview/pkg/protocol"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestParseCommand(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{"", command{}, false},
		{"click inc", command{interaction: &client.Interaction{Trigger: client.Click, ID: "inc"}}, false},
		{"submit new", command{interaction: &client.Interaction{Trigger: client.Submit, ID: "new"}}, false},
		{"change title walk the dog", command{interaction: &client.Interaction{Trigger: client.Change, ID: "title", Value: str("walk the dog")}}, false},
		{"key title Enter", command{interaction: &client.Interaction{Trigger: client.KeyDown, ID: "title", Key: "Enter"}}, false},
		{"send toggle id=3", command{event: &protocol.Event{Event: "toggle", Params: map[string]string{"id": "3"}}}, false},
		{"send reset", command{event: &protocol.Event{Event: "reset"}}, false},
		{"html", command{html: true}, false},
		{"quit", command{quit: true}, false},
		{"click", command{}, true},
		{"key title", command{}, true},
		{"send toggle id", command{}, true},
		{"dance", command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(command{})); diff != "" {
				t.Errorf("parseCommand(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestVersionShort(t *testing.T) {
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.String(); got != "dev\n" {
		t.Errorf("version --short = %q, want %q", got, "dev\n")
	}
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveview.yaml")
	if err := os.WriteFile(path, []byte("store:\n  kind: sqlite\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	cfg, err := config.Parse(out.Bytes())
	if err != nil {
		t.Fatalf("output is not a config: %v\n%s", err, out.String())
	}
	if cfg.Store.Kind != config.StoreSQLite {
		t.Errorf("Store.Kind = %q, want sqlite", cfg.Store.Kind)
	}
}

func TestConfigMissingFile(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"config", "check", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	err := root.Execute()

	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.CodeConfigNotFound {
		t.Errorf("Execute() error = %v, want %s", err, errors.CodeConfigNotFound)
	}
}

func TestServeRejectsUnknownStore(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"serve", "--store", "etcd"})
	err := root.Execute()

	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.CodeStoreUnknown {
		t.Errorf("Execute() error = %v, want %s", err, errors.CodeStoreUnknown)
	}
}

func TestServeAndConnect(t *testing.T) {
	cfg := config.New()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.Store.Kind = config.StoreSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "sessions.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, demo.Views(), ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("runServe() error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	if code, body := get(t, base+"/"); code != http.StatusOK || !strings.Contains(body, "/live/counter/ws") {
		t.Errorf("GET / = %d, body %q", code, body)
	}
	if code, _ := get(t, base+"/healthz"); code != http.StatusNoContent {
		t.Errorf("GET /healthz = %d, want 204", code)
	}

	inR, inW := io.Pipe()
	var out syncBuffer
	connected := make(chan error, 1)
	go func() {
		connected <- runConnect(ctx, "ws://"+addr+"/live/counter/ws", map[string]string{"start": "41"},
			testLogger(), inR, &out)
	}()

	eventually(t, "first render", func() bool { return strings.Contains(out.String(), `<h1 id="count">41</h1>`) })
	io.WriteString(inW, "click inc\n")
	eventually(t, "patch", func() bool { return strings.Contains(out.String(), `<h1 id="count">42</h1>`) })
	io.WriteString(inW, "quit\n")
	inW.Close()
	if err := <-connected; err != nil {
		t.Errorf("runConnect() error = %v", err)
	}

	_, metrics := get(t, base+"/metrics")
	want := `liveview_dispatch_events_total{event="inc",outcome="patch",view="counter"} 1`
	if !strings.Contains(metrics, want) {
		t.Errorf("metrics missing %q", want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
