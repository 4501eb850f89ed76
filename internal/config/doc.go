// Package config loads the liveview command's configuration.
//
// Configuration is read from liveview.yaml, overridden by LIVEVIEW_*
// environment variables, validated, and converted to a server.Config.
//
// # Configuration File Structure
//
//	server:
//	  addr: ":8080"
//	  prefix: /live
//	  shutdown_timeout: 30s
//	  allowed_origins: ["https://app.example.com"]
//	live:
//	  resume_window: 5m
//	  heartbeat_interval: 30s
//	  max_sessions: 10000
//	  event_rate: 20
//	  event_burst: 50
//	store:
//	  kind: redis          # memory, redis, sqlite or s3
//	  redis:
//	    addr: localhost:6379
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  enabled: true
//	  path: /metrics
//	tracing:
//	  enabled: false
//
// Durations use Go syntax ("250ms", "5m"). Unknown keys are rejected.
//
// # Environment
//
// Every common setting has an override, for example LIVEVIEW_ADDR,
// LIVEVIEW_RESUME_WINDOW, LIVEVIEW_STORE, LIVEVIEW_REDIS_ADDR and
// LIVEVIEW_LOG_LEVEL. LIVEVIEW_ALLOWED_ORIGINS is comma separated.
//
// # Usage
//
//	cfg, err := config.Load("liveview.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(view, cfg.ServerConfig())
package config
