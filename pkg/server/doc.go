// Package server serves live views: it accepts WebSocket and SSE
// connections, mounts or resumes a session per connection, dispatches
// client events to the view's handlers and answers each event with at
// most one render, patch, redirect or error message.
//
// # Lifecycle
//
// A connection starts Handshaking. Its first connect message either
// resumes the session named by the liveview_id parameter or mounts a new
// one, and the connection becomes Active. When the transport closes the
// session is detached, not deleted: it stays resumable for
// Config.ResumeWindow. Resuming a session that is still attached to
// another connection closes the old connection (a takeover).
//
// # Ordering
//
// Each connection drains its events through one FIFO queue, and the
// Dispatcher holds a per-session lock for the duration of an event, so
// a session's state transitions are strictly sequential while different
// sessions proceed in parallel.
//
// # Usage
//
//	srv, err := server.New(view, server.DefaultConfig(),
//	    server.WithLogger(logger),
//	    server.WithMetrics(prometheus.DefaultRegisterer, "liveview"),
//	)
//	if err != nil {
//	    return err
//	}
//	r := chi.NewRouter()
//	srv.Mount(r, "/live")
//	// ...
//	defer srv.Shutdown(ctx)
package server
