package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 基于 OTel Meter 的指标实现。
//
// 仪器按名称惰性创建并缓存；创建失败的仪器退化为空实现，
// 指标故障不影响业务路径。
type OTelMetrics struct {
	meter      metric.Meter
	counters   map[string]Counter
	histograms map[string]Histogram
	gauges     map[string]Gauge
	mu         sync.Mutex
}

// NewOTelMetrics 创建 OTel 指标实现
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	return &OTelMetrics{
		meter:      meter,
		counters:   make(map[string]Counter),
		histograms: make(map[string]Histogram),
		gauges:     make(map[string]Gauge),
	}
}

// Counter 返回或创建计数器
func (m *OTelMetrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[name]; ok {
		return c
	}

	instrument, err := m.meter.Int64Counter(name)
	if err != nil {
		m.counters[name] = &NoopCounter{}
		return m.counters[name]
	}

	c := &otelCounter{instrument: instrument}
	m.counters[name] = c
	return c
}

// Histogram 返回或创建直方图
func (m *OTelMetrics) Histogram(name string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[name]; ok {
		return h
	}

	instrument, err := m.meter.Float64Histogram(name)
	if err != nil {
		m.histograms[name] = &NoopHistogram{}
		return m.histograms[name]
	}

	h := &otelHistogram{instrument: instrument}
	m.histograms[name] = h
	return h
}

// Gauge 返回或创建仪表
func (m *OTelMetrics) Gauge(name string) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[name]; ok {
		return g
	}

	instrument, err := m.meter.Float64Gauge(name)
	if err != nil {
		m.gauges[name] = &NoopGauge{}
		return m.gauges[name]
	}

	g := &otelGauge{instrument: instrument}
	m.gauges[name] = g
	return g
}

// otelCounter OTel 计数器
type otelCounter struct {
	instrument metric.Int64Counter
}

// Add 增加计数
func (c *otelCounter) Add(ctx context.Context, value int64, attrs ...Attr) {
	c.instrument.Add(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

// otelHistogram OTel 直方图
type otelHistogram struct {
	instrument metric.Float64Histogram
}

// Record 记录值
func (h *otelHistogram) Record(ctx context.Context, value float64, attrs ...Attr) {
	h.instrument.Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

// otelGauge OTel 仪表
type otelGauge struct {
	instrument metric.Float64Gauge
}

// Set 设置值
func (g *otelGauge) Set(ctx context.Context, value float64, attrs ...Attr) {
	g.instrument.Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

// toKeyValues 把指标属性转换为 OTel 属性
func toKeyValues(attrs []Attr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(a.Key, v))
		case float64:
			kvs = append(kvs, attribute.Float64(a.Key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return kvs
}

// 编译时接口检查
var _ Metrics = (*OTelMetrics)(nil)
var _ Counter = (*otelCounter)(nil)
var _ Histogram = (*otelHistogram)(nil)
var _ Gauge = (*otelGauge)(nil)
