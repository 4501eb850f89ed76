package server

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/liveview/pkg/vdom"
)

// Config holds configuration for the live view server, its connections and
// its session registry.
type Config struct {
	// Timeouts

	// HandshakeTimeout bounds the WebSocket upgrade.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// ConnectTimeout is how long a new connection may stay without sending
	// its connect message before it is closed.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum silence tolerated on a connection.
	// Zero disables it: only transport closure ends a connection.
	// Default: 0.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between server heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Resume

	// ResumeWindow is how long a detached session stays resumable.
	// Default: 5 minutes.
	ResumeWindow time.Duration

	// SweepInterval is how often expired detached sessions are evicted.
	// Default: 30 seconds.
	SweepInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an inbound message.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxEventQueue is the depth of each connection's event queue.
	// Default: 256.
	MaxEventQueue int

	// MaxSessions caps live sessions, attached and detached. 0 means no limit.
	// Default: 0.
	MaxSessions int

	// MaxDetachedSessions caps detached sessions; the least recently
	// detached is evicted first. 0 means no limit.
	// Default: 10000.
	MaxDetachedSessions int

	// EventRate is the sustained number of events per second accepted per
	// connection. 0 disables rate limiting.
	// Default: 0.
	EventRate float64

	// EventBurst is the token bucket size used with EventRate.
	// Default: 50.
	EventBurst int

	// WebSocket

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// EnableCompression negotiates per-message deflate.
	// Default: false.
	EnableCompression bool

	// CheckOrigin validates the request origin of WebSocket upgrades and
	// SSE streams.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Rendering

	// IDAttr is the attribute that makes an element an addressable block.
	// Default: "id".
	IDAttr string

	// Lifecycle

	// ShutdownTimeout bounds graceful shutdown when the caller's context
	// has no deadline.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
// SECURITY: CheckOrigin enforces same-origin by default.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:    10 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         0,
		WriteTimeout:        10 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		ResumeWindow:        5 * time.Minute,
		SweepInterval:       30 * time.Second,
		MaxMessageSize:      64 * 1024,
		MaxEventQueue:       256,
		MaxSessions:         0,
		MaxDetachedSessions: 10000,
		EventRate:           0,
		EventBurst:          50,
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
		CheckOrigin:         SameOriginCheck,
		IDAttr:              vdom.DefaultIDAttr,
		ShutdownTimeout:     30 * time.Second,
	}
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host equals the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && u.Host == r.Host
}

// AllowAllOrigins accepts every origin. Intended for development.
func AllowAllOrigins(*http.Request) bool { return true }

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: WriteTimeout must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: HeartbeatInterval must be positive", ErrInvalidConfig)
	case c.ResumeWindow <= 0:
		return fmt.Errorf("%w: ResumeWindow must be positive", ErrInvalidConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: SweepInterval must be positive", ErrInvalidConfig)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: MaxMessageSize must be positive", ErrInvalidConfig)
	case c.MaxEventQueue <= 0:
		return fmt.Errorf("%w: MaxEventQueue must be positive", ErrInvalidConfig)
	case c.MaxSessions < 0 || c.MaxDetachedSessions < 0:
		return fmt.Errorf("%w: session limits must not be negative", ErrInvalidConfig)
	case c.EventRate < 0:
		return fmt.Errorf("%w: EventRate must not be negative", ErrInvalidConfig)
	case c.EventRate > 0 && c.EventBurst <= 0:
		return fmt.Errorf("%w: EventBurst must be positive when EventRate is set", ErrInvalidConfig)
	case c.IDAttr == "":
		return fmt.Errorf("%w: IDAttr must not be empty", ErrInvalidConfig)
	}
	return nil
}

// WithResumeWindow sets the resume window and returns the config for chaining.
func (c *Config) WithResumeWindow(d time.Duration) *Config {
	c.ResumeWindow = d
	return c
}

// WithHeartbeatInterval sets the heartbeat interval and returns the config for chaining.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	c.HeartbeatInterval = d
	return c
}

// WithMaxSessions sets the session cap and returns the config for chaining.
func (c *Config) WithMaxSessions(n int) *Config {
	c.MaxSessions = n
	return c
}

// WithMaxDetachedSessions sets the detached session cap and returns the config for chaining.
func (c *Config) WithMaxDetachedSessions(n int) *Config {
	c.MaxDetachedSessions = n
	return c
}

// WithEventRate sets the per-connection event rate limit and returns the config for chaining.
func (c *Config) WithEventRate(perSecond float64, burst int) *Config {
	c.EventRate = perSecond
	c.EventBurst = burst
	return c
}

// WithIDAttr sets the block identifier attribute and returns the config for chaining.
func (c *Config) WithIDAttr(attr string) *Config {
	c.IDAttr = attr
	return c
}

// WithCheckOrigin sets the origin check and returns the config for chaining.
func (c *Config) WithCheckOrigin(fn func(*http.Request) bool) *Config {
	c.CheckOrigin = fn
	return c
}
