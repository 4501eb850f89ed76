package server

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ResumeWindow != 5*time.Minute {
		t.Errorf("ResumeWindow = %v, want 5m", cfg.ResumeWindow)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ReadTimeout != 0 {
		t.Errorf("ReadTimeout = %v, want 0", cfg.ReadTimeout)
	}
	if cfg.IDAttr != "id" {
		t.Errorf("IDAttr = %q, want id", cfg.IDAttr)
	}
	if cfg.CheckOrigin == nil {
		t.Error("CheckOrigin should default to a same-origin check")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigChaining(t *testing.T) {
	cfg := DefaultConfig().
		WithResumeWindow(time.Minute).
		WithHeartbeatInterval(5*time.Second).
		WithMaxSessions(10).
		WithMaxDetachedSessions(3).
		WithEventRate(20, 5).
		WithIDAttr("data-id").
		WithCheckOrigin(AllowAllOrigins)

	if cfg.ResumeWindow != time.Minute || cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("durations not applied: %v %v", cfg.ResumeWindow, cfg.HeartbeatInterval)
	}
	if cfg.MaxSessions != 10 || cfg.MaxDetachedSessions != 3 {
		t.Errorf("limits not applied: %d %d", cfg.MaxSessions, cfg.MaxDetachedSessions)
	}
	if cfg.EventRate != 20 || cfg.EventBurst != 5 {
		t.Errorf("rate not applied: %v %d", cfg.EventRate, cfg.EventBurst)
	}
	if cfg.IDAttr != "data-id" {
		t.Errorf("IDAttr = %q, want data-id", cfg.IDAttr)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.ResumeWindow = time.Second

	if cfg.ResumeWindow == time.Second {
		t.Error("Clone should not share state with the original")
	}
	var nilCfg *Config
	if nilCfg.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"resume window", func(c *Config) { c.ResumeWindow = -time.Second }},
		{"sweep", func(c *Config) { c.SweepInterval = 0 }},
		{"message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"queue", func(c *Config) { c.MaxEventQueue = 0 }},
		{"negative sessions", func(c *Config) { c.MaxSessions = -1 }},
		{"negative rate", func(c *Config) { c.EventRate = -1 }},
		{"rate without burst", func(c *Config) { c.EventRate = 1; c.EventBurst = 0 }},
		{"empty id attr", func(c *Config) { c.IDAttr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://example.com:8080", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://example.com/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := SameOriginCheck(r); got != tt.want {
			t.Errorf("SameOriginCheck(origin=%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IDAttr = ""
	if _, err := New(counterView(), cfg, WithLogger(testLogger())); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(nil) error = %v, want ErrInvalidConfig", err)
	}
}
