package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/vango-dev/liveview/internal/demo"
	"github.com/vango-dev/liveview/pkg/client"
	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/server"
)

type profile struct {
	Name     string
	Clients  int
	Duration time.Duration
	RPS      float64
	ListSize int
}

var profiles = map[string]profile{
	"fast":     {Name: "fast", Clients: 50, Duration: 10 * time.Second, RPS: 2, ListSize: 20},
	"standard": {Name: "standard", Clients: 200, Duration: 30 * time.Second, RPS: 5, ListSize: 50},
	"stress":   {Name: "stress", Clients: 500, Duration: 60 * time.Second, RPS: 10, ListSize: 100},
}

type benchConfig struct {
	profile
	URL          string
	JSONOutput   string
	EventTimeout time.Duration
}

type benchCounters struct {
	eventsSent     atomic.Uint64
	eventsComplete atomic.Uint64
	patches        atomic.Uint64
	reconnects     atomic.Uint64
}

type benchErrors struct {
	connectFailures atomic.Uint64
	sendFailures    atomic.Uint64
	serverErrors    atomic.Uint64
	tokenMissing    atomic.Uint64
}

func benchCmd() *cobra.Command {
	var (
		cfg     benchConfig
		name    string
		clients int
		rps     float64
		list    int
		dur     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure event round trips under load",
		Long: `Run concurrent clients that each send "input" events at a fixed
rate and wait for the echoed token to appear in a patch.

Without --url an in-process server hosting the load view is started.

Examples:
  liveview bench --profile fast
  liveview bench --clients 20 --rps 10 --duration 5s --json report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := profiles[name]
			if !ok {
				return fmt.Errorf("unknown profile %q (fast, standard, stress)", name)
			}
			cfg.profile = p
			if clients > 0 {
				cfg.Clients = clients
			}
			if rps > 0 {
				cfg.RPS = rps
			}
			if list >= 0 {
				cfg.ListSize = list
			}
			if dur > 0 {
				cfg.Duration = dur
			}
			if cfg.EventTimeout <= 0 {
				cfg.EventTimeout = eventTimeout(cfg.RPS)
			}

			report, err := runBench(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			writeSummary(cmd.ErrOrStderr(), report)
			return writeJSON(cmd.OutOrStdout(), cfg.JSONOutput, report)
		},
	}

	cmd.Flags().StringVar(&name, "profile", "fast", "Profile: fast, standard or stress")
	cmd.Flags().IntVar(&clients, "clients", 0, "Concurrent clients (overrides profile)")
	cmd.Flags().Float64Var(&rps, "rps", 0, "Events per second per client (overrides profile)")
	cmd.Flags().IntVar(&list, "list", -1, "Rows rendered per session (overrides profile)")
	cmd.Flags().DurationVar(&dur, "duration", 0, "Run time (overrides profile)")
	cmd.Flags().StringVar(&cfg.URL, "url", "", "WebSocket endpoint of a running load view")
	cmd.Flags().StringVar(&cfg.JSONOutput, "json", "", "Write a JSON report to this path ('-' for stdout)")
	cmd.Flags().DurationVar(&cfg.EventTimeout, "event-timeout", 0, "Round-trip timeout (default: derived from rps)")

	return cmd
}

// eventTimeout allows a few send periods for a round trip, at least 2s.
func eventTimeout(rps float64) time.Duration {
	if rps <= 0 {
		return 5 * time.Second
	}
	d := time.Duration(4 * float64(time.Second) / rps)
	if d < 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// startLoadServer serves the load view on a loopback listener.
func startLoadServer(listSize int) (url string, stop func(), err error) {
	sc := server.DefaultConfig().WithCheckOrigin(server.AllowAllOrigins)
	srv, err := server.New(demo.Load(listSize), sc, server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return "", nil, err
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		srv.Shutdown(context.Background())
		return "", nil, err
	}
	hs := &http.Server{Handler: srv.Handler()}
	go hs.Serve(ln)

	stop = func() {
		srv.Shutdown(context.Background())
		hs.Shutdown(context.Background())
	}
	return "ws://" + ln.Addr().String() + "/ws", stop, nil
}

func runBench(ctx context.Context, cfg benchConfig) (benchReport, error) {
	url := cfg.URL
	if url == "" {
		u, stop, err := startLoadServer(cfg.ListSize)
		if err != nil {
			return benchReport{}, err
		}
		defer stop()
		url = u
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		counters  benchCounters
		errCounts benchErrors
		samplesMu sync.Mutex
		samples   []time.Duration
	)
	record := func(rtt time.Duration) {
		samplesMu.Lock()
		samples = append(samples, rtt)
		samplesMu.Unlock()
	}

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		go func(id int) {
			defer wg.Done()
			runClient(ctx, url, id, cfg, &counters, &errCounts, record)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return buildReport(cfg, elapsed, samples, &counters, &errCounts, before, after), nil
}

func runClient(
	ctx context.Context,
	url string,
	id int,
	cfg benchConfig,
	counters *benchCounters,
	errCounts *benchErrors,
	record func(time.Duration),
) {
	// Patched regions are delivered here; only the latest matters.
	patched := make(chan string, 1)
	deliver := func(html string) {
		select {
		case <-patched:
		default:
		}
		patched <- html
	}

	ccfg := client.DefaultConfig(url)
	ccfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.New(ccfg, client.Handlers{
		OnPatch: func(html string) {
			counters.patches.Add(1)
			deliver(html)
		},
		OnRender: func(_, html string) { deliver(html) },
		OnError:  func(string) { errCounts.serverErrors.Add(1) },
		OnState: func(_, to client.State) {
			if to == client.StateReconnecting {
				counters.reconnects.Add(1)
			}
		},
	})
	if err := c.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			errCounts.connectFailures.Add(1)
		}
		return
	}
	defer c.Close()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	for seq := 1; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		token := fmt.Sprintf("c%d-%d", id, seq)

		start := time.Now()
		err := c.Send(ctx, protocol.Event{Event: "input", Params: map[string]string{"token": token}})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCounts.sendFailures.Add(1)
			continue
		}
		counters.eventsSent.Add(1)

		if !waitForToken(ctx, patched, token, cfg.EventTimeout) {
			if ctx.Err() != nil {
				return
			}
			errCounts.tokenMissing.Add(1)
			continue
		}
		counters.eventsComplete.Add(1)
		record(time.Since(start))
	}
}

func waitForToken(ctx context.Context, patched <-chan string, token string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	want := `<p id="token">` + token + `</p>`
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case html := <-patched:
			if strings.Contains(html, want) {
				return true
			}
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	Version   string `json:"liveview_version"`
}

type workloadInfo struct {
	Profile        string  `json:"profile"`
	Clients        int     `json:"clients"`
	DurationMS     int64   `json:"duration_ms"`
	RPSPerClient   float64 `json:"rps_per_client"`
	ListSize       int     `json:"list_size"`
	EventTimeoutMS int64   `json:"event_timeout_ms"`
	External       bool    `json:"external"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	EventsSent         uint64  `json:"events_sent"`
	EventsTotal        uint64  `json:"events_total"`
	EventsPerSec       float64 `json:"events_per_sec"`
	EventsPerSecClient float64 `json:"events_per_sec_per_client"`
	Patches            uint64  `json:"patches"`
	Reconnects         uint64  `json:"reconnects"`
}

type gcInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	HeapLiveMB   float64 `json:"heap_live_mb"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMS float64 `json:"pause_total_ms"`
}

type errorInfo struct {
	TotalErrors     uint64 `json:"total_errors"`
	ConnectFailures uint64 `json:"connect_failures"`
	SendFailures    uint64 `json:"send_failures"`
	ServerErrors    uint64 `json:"server_errors"`
	TokenMissing    uint64 `json:"token_missing"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errs *benchErrors,
	before, after runtime.MemStats,
) benchReport {
	eventsTotal := counters.eventsComplete.Load()
	eventsPerSec := float64(eventsTotal) / math.Max(0.001, elapsed.Seconds())
	perClient := 0.0
	if cfg.Clients > 0 {
		perClient = eventsPerSec / float64(cfg.Clients)
	}

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	e := errorInfo{
		ConnectFailures: errs.connectFailures.Load(),
		SendFailures:    errs.sendFailures.Load(),
		ServerErrors:    errs.serverErrors.Load(),
		TokenMissing:    errs.tokenMissing.Load(),
	}
	e.TotalErrors = e.ConnectFailures + e.SendFailures + e.ServerErrors + e.TokenMissing

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			Version:   version,
		},
		Workload: workloadInfo{
			Profile:        cfg.Name,
			Clients:        cfg.Clients,
			DurationMS:     cfg.Duration.Milliseconds(),
			RPSPerClient:   cfg.RPS,
			ListSize:       cfg.ListSize,
			EventTimeoutMS: cfg.EventTimeout.Milliseconds(),
			External:       cfg.URL != "",
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			EventsSent:         counters.eventsSent.Load(),
			EventsTotal:        eventsTotal,
			EventsPerSec:       eventsPerSec,
			EventsPerSecClient: perClient,
			Patches:            counters.patches.Load(),
			Reconnects:         counters.reconnects.Load(),
		},
		GC: gcInfo{
			AllocMB:      float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:   float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:        after.NumGC - before.NumGC,
			PauseTotalMS: ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
		},
		Errors: e,
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== liveview benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f events/s\n", report.Workload.RPSPerClient)
	fmt.Fprintf(w, "List size: %d\n", report.Workload.ListSize)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total events: %d of %d sent\n", report.Throughput.EventsTotal, report.Throughput.EventsSent)
	fmt.Fprintf(w, "Throughput: %.1f events/s (%.2f per client)\n", report.Throughput.EventsPerSec, report.Throughput.EventsPerSecClient)
	fmt.Fprintf(w, "Reconnects: %d\n", report.Throughput.Reconnects)
	fmt.Fprintf(w, "Errors: %d\n", report.Errors.TotalErrors)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "RTT (send -> dispatch -> patch applied):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
}

func writeJSON(stdout io.Writer, path string, report benchReport) error {
	if path == "" {
		return nil
	}
	out := stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
