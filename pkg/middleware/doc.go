// Package middleware provides production-grade dispatch middleware for
// live views.
//
// This package includes:
//   - OpenTelemetry tracing of every dispatched event
//   - Prometheus metrics for event throughput, latency and outcomes
//
// Middleware wraps server.DispatchFunc, so it runs inside the session's
// dispatch lock and sees the outcome of each event.
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware starts one span per event, named after the
// event, and passes the span's context to the handler:
//
//	srv, _ := server.New(view, cfg,
//	    server.WithMiddleware(
//	        middleware.OpenTelemetry(
//	            middleware.WithTracerName("my-app"),
//	        ),
//	    ),
//	)
//
// Handlers reach the span with trace.SpanFromContext(ctx).
//
// # Prometheus Metrics
//
// The Prometheus middleware collects:
//   - liveview_dispatch_events_total: events by name and outcome
//   - liveview_dispatch_event_duration_seconds: dispatch latency by name
//   - liveview_dispatch_event_errors_total: failed events by error category
//   - liveview_dispatch_patches_sent_total: patch instructions produced
//
// Install it next to the tracer:
//
//	server.WithMiddleware(
//	    middleware.Prometheus(
//	        middleware.WithRegistry(reg),
//	        middleware.WithHandlers(view.Handlers),
//	    ),
//	)
//
// Event names come from clients. Without WithHandlers every event is
// labelled "all"; with it, names the view does not handle are labelled
// "unknown".
package middleware
