package middleware

import (
	"context"

	"github.com/vango-dev/liveview/pkg/live"
	"github.com/vango-dev/liveview/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for live view servers.
const defaultTracerName = "liveview"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "liveview").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider (otel.GetTracerProvider).
	TracerProvider trace.TracerProvider

	// IncludeParams records event params as span attributes.
	// Params may carry user input - disabled by default.
	IncludeParams bool

	// Filter determines which events to trace.
	// Return true to trace the event, false to skip.
	// If nil, all events are traced.
	Filter func(ev live.Event) bool

	// AttributeExtractor adds custom attributes for each traced event.
	AttributeExtractor func(ev live.Event) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeParams enables recording event params on spans.
func WithIncludeParams(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeParams = include
	}
}

// WithEventFilter sets a filter function for events.
func WithEventFilter(filter func(ev live.Event) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ev live.Event) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every dispatched event.
//
// The middleware:
//   - Creates a span per event with the event name, target and session ID
//   - Passes the span context to the handler for downstream calls
//   - Records handler errors and sets span status
//   - Records the outcome and patch count as span attributes
//
// The tracer comes from the global OpenTelemetry provider unless
// WithTracerProvider is given. Configure it in main() before starting the
// server.
func OpenTelemetry(opts ...OTelOption) server.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next server.DispatchFunc) server.DispatchFunc {
		return func(ctx context.Context, sess *server.LiveSession, ev live.Event) server.Outcome {
			if config.Filter != nil && !config.Filter(ev) {
				return next(ctx, sess, ev)
			}

			attrs := []attribute.KeyValue{
				attribute.String("liveview.session_id", ev.SessionID),
				attribute.String("liveview.event", ev.Name),
			}
			if ev.Target != "" {
				attrs = append(attrs, attribute.String("liveview.target", ev.Target))
			}
			if config.IncludeParams {
				for k, v := range ev.Params {
					attrs = append(attrs, attribute.String("liveview.param."+k, v))
				}
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(ev)...)
			}

			ctx, span := tracer.Start(ctx, "liveview."+ev.Name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			out := next(ctx, sess, ev)

			span.SetAttributes(
				attribute.String("liveview.outcome", out.Kind.String()),
				attribute.Int("liveview.patch_count", len(out.Patches)),
			)
			if out.Kind == server.OutcomeError && out.Err != nil {
				span.RecordError(out.Err)
				span.SetStatus(codes.Error, out.Err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return out
		}
	}
}
