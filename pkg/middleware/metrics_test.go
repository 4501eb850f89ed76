package middleware

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/liveview/pkg/live"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsConfig(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		config := defaultMetricsConfig()
		if config.Namespace != "liveview" {
			t.Errorf("Namespace = %q, want %q", config.Namespace, "liveview")
		}
		if config.Subsystem != "dispatch" {
			t.Errorf("Subsystem = %q, want dispatch", config.Subsystem)
		}
		if config.Registry != prometheus.DefaultRegisterer {
			t.Error("Registry should be DefaultRegisterer")
		}
	})

	t.Run("with options", func(t *testing.T) {
		config := defaultMetricsConfig()
		WithNamespace("myapp")(&config)
		WithSubsystem("events")(&config)
		WithBuckets([]float64{0.1, 0.5, 1.0})(&config)
		WithConstLabels(prometheus.Labels{"env": "test"})(&config)

		if config.Namespace != "myapp" || config.Subsystem != "events" {
			t.Errorf("Namespace/Subsystem = %q/%q, want myapp/events", config.Namespace, config.Subsystem)
		}
		if len(config.Buckets) != 3 {
			t.Errorf("len(Buckets) = %d, want 3", len(config.Buckets))
		}
		if config.ConstLabels["env"] != "test" {
			t.Errorf("ConstLabels = %v, want env=test", config.ConstLabels)
		}
	})
}

func TestPrometheusRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	view := testView()
	d, sess := newDispatcher(t, Prometheus(WithRegistry(reg), WithHandlers(view.Handlers)))

	for _, name := range []string{"inc", "inc", "fail", "panic", "nope"} {
		d.Dispatch(context.Background(), sess, live.Event{Name: name})
	}

	m := metricsFor(MetricsConfig{Registry: reg})
	if v := metricCounterValue(t, m.eventsTotal.WithLabelValues("inc", "patch")); v != 2 {
		t.Errorf("events_total{inc,patch} = %v, want 2", v)
	}
	if v := metricCounterValue(t, m.eventsTotal.WithLabelValues("unknown", "no_change")); v != 1 {
		t.Errorf("events_total{unknown,no_change} = %v, want 1", v)
	}
	if v := metricCounterValue(t, m.eventErrors.WithLabelValues("fail", "validation")); v != 1 {
		t.Errorf("event_errors_total{fail,validation} = %v, want 1", v)
	}
	if v := metricCounterValue(t, m.eventErrors.WithLabelValues("panic", "panic")); v != 1 {
		t.Errorf("event_errors_total{panic,panic} = %v, want 1", v)
	}
	if v := metricCounterValue(t, m.patchesSent); v != 2 {
		t.Errorf("patches_sent_total = %v, want 2", v)
	}
	if n := metricHistogramCount(t, m.eventDuration.WithLabelValues("inc")); n != 2 {
		t.Errorf("event_duration_seconds{inc} count = %d, want 2", n)
	}
}

func TestPrometheusWithoutHandlersUsesSingleLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, sess := newDispatcher(t, Prometheus(WithRegistry(reg)))

	d.Dispatch(context.Background(), sess, live.Event{Name: "inc"})
	d.Dispatch(context.Background(), sess, live.Event{Name: "attacker-chosen-name"})

	m := metricsFor(MetricsConfig{Registry: reg})
	if v := metricCounterValue(t, m.eventsTotal.WithLabelValues("all", "patch")); v != 1 {
		t.Errorf("events_total{all,patch} = %v, want 1", v)
	}
	if v := metricCounterValue(t, m.eventsTotal.WithLabelValues("all", "no_change")); v != 1 {
		t.Errorf("events_total{all,no_change} = %v, want 1", v)
	}
}

func TestPrometheusReusesCollectorsPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("second Prometheus() with the same registry panicked: %v", r)
		}
	}()
	Prometheus(WithRegistry(reg))
	Prometheus(WithRegistry(reg))
}
