package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/liveview/internal/config"
	"github.com/vango-dev/liveview/internal/demo"
	"github.com/vango-dev/liveview/internal/errors"
	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/middleware"
	"github.com/vango-dev/liveview/pkg/server"
)

type serveFlags struct {
	config string
	addr   string
	store  string
}

func serveCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo views",
		Long: `Serve the demo counter and todo views.

Each view is mounted under the configured prefix with its own
WebSocket (/ws) and SSE (/sse) endpoints. The index page at /
lists them.

Examples:
  liveview serve
  liveview serve --config liveview.yaml
  liveview serve --addr :9000 --store sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.config)
			if err != nil {
				return err
			}
			if flags.addr != "" {
				cfg.Server.Addr = flags.addr
			}
			if flags.store != "" {
				cfg.Store.Kind = flags.store
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, demo.Views(), nil)
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Path to liveview.yaml (default: ./liveview.yaml if present)")
	cmd.Flags().StringVarP(&flags.addr, "addr", "a", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&flags.store, "store", "", "Session store: memory, redis, sqlite or s3 (overrides config)")

	return cmd
}

// loadConfig loads path, falling back to ./liveview.yaml and then to
// defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err == nil {
			path = config.ConfigFileName
		}
	}
	return config.Load(path)
}

// runServe serves views until ctx is done. When ready is non-nil it
// receives the bound listener address once the server accepts connections.
func runServe(ctx context.Context, cfg *config.Config, views map[string]*live.View, ready chan<- string) error {
	logger := cfg.Logger(os.Stderr)

	backend, err := openStores(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	prefix := strings.TrimSuffix(cfg.Server.Prefix, "/")
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]*server.Server, 0, len(names))
	abort := func(err error) error {
		for _, srv := range servers {
			srv.Shutdown(context.Background())
		}
		return err
	}
	for _, name := range names {
		srv, err := newViewServer(ctx, cfg, name, views[name], backend, reg, logger)
		if err != nil {
			return abort(err)
		}
		servers = append(servers, srv)
		srv.Mount(r, prefix+"/"+name)
	}

	r.Method(http.MethodGet, "/", demo.Index(prefix, views))
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return abort(errors.New(errors.CodeListen).WithDetail(cfg.Server.Addr).Wrap(err))
	}
	hs := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("listening",
		"addr", ln.Addr().String(),
		"prefix", prefix,
		"views", names,
		"store", cfg.Store.Kind,
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New(errors.CodeListen).WithDetail(cfg.Server.Addr).Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Live servers first so sessions are persisted while the store is open.
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, hs.Shutdown(shutdownCtx))
		if err := stderrors.Join(errs...); err != nil {
			return errors.New(errors.CodeShutdown).Wrap(err)
		}
		return nil
	})
	return g.Wait()
}

// newViewServer builds the live server for one view.
func newViewServer(
	ctx context.Context,
	cfg *config.Config,
	name string,
	view *live.View,
	backend *stores,
	reg *prometheus.Registry,
	logger *slog.Logger,
) (*server.Server, error) {
	store, err := backend.For(ctx, name)
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.WithLogger(logger.With("view", name)),
		server.WithSessionStore(store),
	}
	if cfg.Tracing.Enabled {
		opts = append(opts, server.WithMiddleware(middleware.OpenTelemetry(
			middleware.WithTracerName("liveview/"+name),
			middleware.WithIncludeParams(cfg.Tracing.IncludeParams),
		)))
	}
	if cfg.Metrics.Enabled {
		viewReg := prometheus.WrapRegistererWith(prometheus.Labels{"view": name}, reg)
		opts = append(opts,
			server.WithMetrics(viewReg, cfg.Metrics.Namespace),
			server.WithMiddleware(middleware.Prometheus(
				middleware.WithRegistry(viewReg),
				middleware.WithNamespace(cfg.Metrics.Namespace),
				middleware.WithHandlers(view.Handlers),
			)),
		)
	}

	srv, err := server.New(view, cfg.ServerConfig(), opts...)
	if err != nil {
		return nil, errors.New(errors.CodeConfigValue).WithDetail("view " + name).Wrap(err)
	}
	return srv, nil
}
