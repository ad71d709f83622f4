package otel_test

import (
	"context"
	"testing"

	"github.com/easyops/steward-go/pkg/otel"
)

func TestInMemoryMetrics_Counter(t *testing.T) {
	ctx := context.Background()
	m := otel.NewInMemoryMetrics()

	m.Counter(otel.MetricRuns).Add(ctx, 1)
	m.Counter(otel.MetricRuns).Add(ctx, 2)

	if got := m.GetCounterValue(otel.MetricRuns); got != 3 {
		t.Fatalf("expected counter 3, got %d", got)
	}
	if got := m.GetCounterValue("unknown"); got != 0 {
		t.Fatalf("expected 0 for unknown counter, got %d", got)
	}
}

func TestInMemoryMetrics_Histogram(t *testing.T) {
	ctx := context.Background()
	m := otel.NewInMemoryMetrics()

	m.Histogram(otel.MetricRunDuration).Record(ctx, 12.5)
	m.Histogram(otel.MetricRunDuration).Record(ctx, 40.0)

	values := m.GetHistogramValues(otel.MetricRunDuration)
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0] != 12.5 || values[1] != 40.0 {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestInMemoryMetrics_Gauge(t *testing.T) {
	ctx := context.Background()
	m := otel.NewInMemoryMetrics()

	m.Gauge(otel.MetricRunsActive).Set(ctx, 5)
	m.Gauge(otel.MetricRunsActive).Set(ctx, 2)

	if got := m.GetGaugeValue(otel.MetricRunsActive); got != 2 {
		t.Fatalf("expected gauge 2, got %f", got)
	}
}

func TestGlobalAccessors_DefaultToNoop(t *testing.T) {
	ctx := context.Background()

	// 未初始化时全局访问器返回可用的空实现
	tracer := otel.GetTracer()
	_, span := tracer.Start(ctx, "test")
	span.End()

	otel.GetMetrics().Counter(otel.MetricRuns).Add(ctx, 1)
	otel.GetLogger().Info("noop")
}

func TestProvider_Disabled(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false

	p, err := otel.NewProvider(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer() == nil || p.Metrics() == nil || p.Logger() == nil {
		t.Fatal("expected non-nil components from disabled provider")
	}
}
