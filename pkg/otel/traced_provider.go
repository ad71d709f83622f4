package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/steward-go/pkg/core/llm"
)

// TracedProvider 带追踪的 LLM Provider 包装
type TracedProvider struct {
	provider llm.Provider
	tracer   Tracer
	metrics  Metrics
}

// TracedProviderOption 配置 TracedProvider
type TracedProviderOption func(*TracedProvider)

// WithTracedProviderTracer 设置追踪器
func WithTracedProviderTracer(tracer Tracer) TracedProviderOption {
	return func(p *TracedProvider) {
		p.tracer = tracer
	}
}

// WithTracedProviderMetrics 设置指标收集器
func WithTracedProviderMetrics(metrics Metrics) TracedProviderOption {
	return func(p *TracedProvider) {
		p.metrics = metrics
	}
}

// NewTracedProvider 包装 LLM Provider，加上追踪与指标
func NewTracedProvider(provider llm.Provider, opts ...TracedProviderOption) *TracedProvider {
	tp := &TracedProvider{
		provider: provider,
		tracer:   NewNoopTracer(),
		metrics:  NewNoopMetrics(),
	}

	for _, opt := range opts {
		opt(tp)
	}

	return tp
}

// 编译时检查
var _ llm.Provider = (*TracedProvider)(nil)

// Generate 生成响应并记录追踪与指标
func (p *TracedProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	ctx, span := p.tracer.Start(ctx, "llm.generate",
		WithSpanKind(SpanKindClient),
		WithAttributes(
			LLMProvider(p.provider.Name()),
			LLMModel(p.provider.Model()),
		),
	)
	defer span.End()

	startTime := time.Now()
	resp, err := p.provider.Generate(ctx, req)
	duration := time.Since(startTime)

	p.recordMetrics(ctx, resp, err, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(StatusError, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.Int(AttrLLMPromptTokens, resp.TokenUsage.PromptTokens),
		attribute.Int(AttrLLMCompletionTokens, resp.TokenUsage.CompletionTokens),
		attribute.Int(AttrLLMTotalTokens, resp.TokenUsage.TotalTokens),
	)
	span.AddEvent("llm.response",
		attribute.String("finish_reason", resp.FinishReason),
	)
	span.SetStatus(StatusOK, "")

	return resp, nil
}

// recordMetrics 记录请求指标
func (p *TracedProvider) recordMetrics(ctx context.Context, resp llm.Response, err error, duration time.Duration) {
	attrs := []Attr{
		NewAttr("provider", p.provider.Name()),
		NewAttr("model", p.provider.Model()),
	}

	p.metrics.Counter(MetricLLMRequests).Add(ctx, 1, attrs...)

	if err != nil {
		p.metrics.Counter(MetricLLMErrors).Add(ctx, 1, attrs...)
		return
	}

	p.metrics.Counter(MetricLLMTokensPrompt).Add(ctx, int64(resp.TokenUsage.PromptTokens), attrs...)
	p.metrics.Counter(MetricLLMTokensCompletion).Add(ctx, int64(resp.TokenUsage.CompletionTokens), attrs...)
}

// Name 返回提供商名称
func (p *TracedProvider) Name() string {
	return p.provider.Name()
}

// Model 返回当前模型名称
func (p *TracedProvider) Model() string {
	return p.provider.Model()
}

// Close 关闭客户端
func (p *TracedProvider) Close() error {
	return p.provider.Close()
}
