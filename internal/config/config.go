package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/liveview/internal/errors"
	"github.com/vango-dev/liveview/pkg/server"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "liveview.yaml"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "LIVEVIEW_"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

// Config is the complete liveview.yaml configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    LiveConfig    `yaml:"live"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	path string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// Prefix is the path the live endpoints are mounted under.
	Prefix string `yaml:"prefix"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists extra origins allowed to connect. "*" allows
	// every origin. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LiveConfig mirrors server.Config.
type LiveConfig struct {
	ResumeWindow        time.Duration `yaml:"resume_window"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	MaxMessageSize      int64         `yaml:"max_message_size"`
	MaxEventQueue       int           `yaml:"max_event_queue"`
	MaxSessions         int           `yaml:"max_sessions"`
	MaxDetachedSessions int           `yaml:"max_detached_sessions"`
	EventRate           float64       `yaml:"event_rate"`
	EventBurst          int           `yaml:"event_burst"`
	IDAttr              string        `yaml:"id_attr"`
	Compression         bool          `yaml:"compression"`
}

// StoreConfig selects where detached sessions are persisted.
type StoreConfig struct {
	// Kind is memory, redis, sqlite or s3.
	Kind string `yaml:"kind"`

	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	S3     S3Config     `yaml:"s3"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// S3Config configures the S3 store. Credentials come from the default
// AWS chain.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures the OpenTelemetry middleware.
type TracingConfig struct {
	Enabled       bool `yaml:"enabled"`
	IncludeParams bool `yaml:"include_params"`
}

// New returns a Config with default values, matching server.DefaultConfig.
func New() *Config {
	d := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			Prefix:          "/live",
			ShutdownTimeout: d.ShutdownTimeout,
		},
		Live: LiveConfig{
			ResumeWindow:        d.ResumeWindow,
			HeartbeatInterval:   d.HeartbeatInterval,
			ConnectTimeout:      d.ConnectTimeout,
			ReadTimeout:         d.ReadTimeout,
			WriteTimeout:        d.WriteTimeout,
			SweepInterval:       d.SweepInterval,
			MaxMessageSize:      d.MaxMessageSize,
			MaxEventQueue:       d.MaxEventQueue,
			MaxSessions:         d.MaxSessions,
			MaxDetachedSessions: d.MaxDetachedSessions,
			EventRate:           d.EventRate,
			EventBurst:          d.EventBurst,
			IDAttr:              d.IDAttr,
			Compression:         d.EnableCompression,
		},
		Store: StoreConfig{
			Kind:   StoreMemory,
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "liveview:session:"},
			SQLite: SQLiteConfig{Path: "liveview.db", Table: "liveview_sessions"},
			S3:     S3Config{Prefix: "liveview/sessions/"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "liveview",
		},
	}
}

// Load reads path, or returns defaults when path is empty, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("no file at " + path)
		}
		return nil, errors.New(errors.CodeConfigNotFound).Wrap(err)
	}

	cfg, err := Parse(data)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Code == errors.CodeConfigSyntax {
			e.WithLocationFromYAML(path, e.Wrapped)
		}
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := New()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.New(errors.CodeConfigSyntax).Wrap(err)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv applies LIVEVIEW_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	type binding struct {
		name string
		set  func(string) error
	}
	str := func(p *string) func(string) error {
		return func(v string) error { *p = v; return nil }
	}
	dur := func(p *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*p = d
			return nil
		}
	}
	num := func(p *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*p = n
			return nil
		}
	}
	flt := func(p *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*p = f
			return nil
		}
	}
	boolean := func(p *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*p = b
			return nil
		}
	}
	list := func(p *[]string) func(string) error {
		return func(v string) error {
			*p = nil
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					*p = append(*p, s)
				}
			}
			return nil
		}
	}

	bindings := []binding{
		{"ADDR", str(&c.Server.Addr)},
		{"PREFIX", str(&c.Server.Prefix)},
		{"SHUTDOWN_TIMEOUT", dur(&c.Server.ShutdownTimeout)},
		{"ALLOWED_ORIGINS", list(&c.Server.AllowedOrigins)},
		{"RESUME_WINDOW", dur(&c.Live.ResumeWindow)},
		{"HEARTBEAT_INTERVAL", dur(&c.Live.HeartbeatInterval)},
		{"CONNECT_TIMEOUT", dur(&c.Live.ConnectTimeout)},
		{"READ_TIMEOUT", dur(&c.Live.ReadTimeout)},
		{"WRITE_TIMEOUT", dur(&c.Live.WriteTimeout)},
		{"MAX_SESSIONS", num(&c.Live.MaxSessions)},
		{"MAX_DETACHED_SESSIONS", num(&c.Live.MaxDetachedSessions)},
		{"EVENT_RATE", flt(&c.Live.EventRate)},
		{"EVENT_BURST", num(&c.Live.EventBurst)},
		{"STORE", str(&c.Store.Kind)},
		{"REDIS_ADDR", str(&c.Store.Redis.Addr)},
		{"REDIS_PASSWORD", str(&c.Store.Redis.Password)},
		{"SQLITE_PATH", str(&c.Store.SQLite.Path)},
		{"S3_BUCKET", str(&c.Store.S3.Bucket)},
		{"S3_REGION", str(&c.Store.S3.Region)},
		{"S3_ENDPOINT", str(&c.Store.S3.Endpoint)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FORMAT", str(&c.Log.Format)},
		{"METRICS", boolean(&c.Metrics.Enabled)},
		{"TRACING", boolean(&c.Tracing.Enabled)},
	}
	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(v); err != nil {
			return errors.New(errors.CodeConfigEnv).
				WithDetail(fmt.Sprintf("%s%s=%q", EnvPrefix, b.name, v)).
				Wrap(err)
		}
	}
	return nil
}

// Validate checks the config and its conversion to server.Config.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeConfigValue).WithDetail(fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	if c.Server.Prefix != "" && !strings.HasPrefix(c.Server.Prefix, "/") {
		return invalid("server.prefix %q must start with /", c.Server.Prefix)
	}
	for _, o := range c.Server.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("server.allowed_origins entry %q is not an origin", o)
		}
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr is required")
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return invalid("store.sqlite.path is required")
		}
	case StoreS3:
		if c.Store.S3.Bucket == "" {
			return invalid("store.s3.bucket is required")
		}
	default:
		return errors.New(errors.CodeStoreUnknown).WithDetail(fmt.Sprintf("%q", c.Store.Kind))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format %q must be text or json", c.Log.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path %q must start with /", c.Metrics.Path)
	}

	if err := c.ServerConfig().Validate(); err != nil {
		return errors.New(errors.CodeConfigValue).WithDetail("live: " + err.Error()).Wrap(err)
	}
	return nil
}

// ServerConfig converts the config to a server.Config.
func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.ResumeWindow = c.Live.ResumeWindow
	sc.HeartbeatInterval = c.Live.HeartbeatInterval
	sc.ConnectTimeout = c.Live.ConnectTimeout
	sc.ReadTimeout = c.Live.ReadTimeout
	sc.WriteTimeout = c.Live.WriteTimeout
	sc.SweepInterval = c.Live.SweepInterval
	sc.MaxMessageSize = c.Live.MaxMessageSize
	sc.MaxEventQueue = c.Live.MaxEventQueue
	sc.MaxSessions = c.Live.MaxSessions
	sc.MaxDetachedSessions = c.Live.MaxDetachedSessions
	sc.EventRate = c.Live.EventRate
	sc.EventBurst = c.Live.EventBurst
	sc.IDAttr = c.Live.IDAttr
	sc.EnableCompression = c.Live.Compression
	sc.ShutdownTimeout = c.Server.ShutdownTimeout
	sc.CheckOrigin = c.originCheck()
	return sc
}

// originCheck allows same-origin requests plus the configured origins.
func (c *Config) originCheck() func(*http.Request) bool {
	if len(c.Server.AllowedOrigins) == 0 {
		return server.SameOriginCheck
	}
	allowed := make(map[string]bool, len(c.Server.AllowedOrigins))
	for _, o := range c.Server.AllowedOrigins {
		if o == "*" {
			return server.AllowAllOrigins
		}
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		if server.SameOriginCheck(r) {
			return true
		}
		return allowed[strings.ToLower(r.Header.Get("Origin"))]
	}
}

// Logger builds the slog logger described by the config.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
