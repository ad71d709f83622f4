// Package runner 提供构建与调用一体的运行入口：
// 先走预算引擎组装请求，再调用模型，并把每次运行的
// 审计记录与上下文快照落盘。
package runner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/steward-go/pkg/budget"
	"github.com/easyops/steward-go/pkg/core/message"
	"github.com/easyops/steward-go/pkg/otel"
	"github.com/easyops/steward-go/pkg/store"
)

// 计费档位
const (
	// TierStandard 标准档位（轻量模型）
	TierStandard = "standard"
	// TierPremium 高级档位
	TierPremium = "premium"
)

// RunResult 一次运行的完整结果
type RunResult struct {
	// RunID 运行标识（UUID）
	RunID string `json:"run_id"`
	// Status 最终状态: ok | trimmed | blocked | error
	Status string `json:"status"`
	// Response 模型响应文本
	Response string `json:"response,omitempty"`
	// Error 失败时的错误信息
	Error string `json:"error,omitempty"`
	// ModelUsed 实际使用的模型
	ModelUsed string `json:"model_used,omitempty"`
	// Provider 实际使用的提供商
	Provider string `json:"provider,omitempty"`
	// RoutingTier 计费档位
	RoutingTier string `json:"routing_tier,omitempty"`
	// Usage 提供商上报的 Token 使用统计
	Usage message.TokenUsage `json:"usage"`
	// Build 构建阶段的完整产出
	Build *budget.BuildResult `json:"build"`
}

// Runner 运行器
type Runner struct {
	builder     *budget.Builder
	client      ChatClient
	runs        store.RunStore
	probe       bool
	temperature float64
}

// RunnerOption 配置 Runner
type RunnerOption func(*Runner)

// WithAvailabilityProbe 启用调用前的可用性探测
func WithAvailabilityProbe() RunnerOption {
	return func(r *Runner) {
		r.probe = true
	}
}

// WithTemperature 设定采样温度，0 表示提供商默认
func WithTemperature(t float64) RunnerOption {
	return func(r *Runner) {
		r.temperature = t
	}
}

// NewRunner 创建运行器
func NewRunner(builder *budget.Builder, client ChatClient, runs store.RunStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		builder: builder,
		client:  client,
		runs:    runs,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run 执行一次完整运行。
//
// 构建失败（blocked/error）不触碰模型，直接落盘并返回；
// 构建成功后调用模型，调用失败状态记为 error。
// 落盘失败不影响返回结果，审计缺失优于响应丢失。
func (r *Runner) Run(ctx context.Context, agentID string, input *budget.BuildInput, overrides *budget.Overrides) *RunResult {
	result := &RunResult{
		RunID: uuid.NewString(),
	}

	ctx, span := otel.GetTracer().Start(ctx, "steward.run",
		otel.WithAttributes(otel.AgentID(agentID)))
	defer span.End()

	metrics := otel.GetMetrics()
	metrics.Counter(otel.MetricRuns).Add(ctx, 1)
	startTime := time.Now()
	defer func() {
		metrics.Histogram(otel.MetricRunDuration).Record(ctx,
			float64(time.Since(startTime).Milliseconds()))
		span.SetAttributes(otel.BuildStatus(result.Status))
		if result.Error != "" {
			metrics.Counter(otel.MetricRunErrors).Add(ctx, 1)
			span.SetStatus(otel.StatusError, result.Error)
		} else {
			span.SetStatus(otel.StatusOK, "")
		}
	}()

	build := r.builder.Build(ctx, agentID, input, overrides)
	result.Build = build
	result.ModelUsed = build.Model
	result.Provider = build.Provider
	result.RoutingTier = routingTier(build.Model)

	if build.Blocked() || build.Status == budget.StatusError {
		result.Status = string(build.Status)
		result.Error = build.Error
		r.persist(ctx, agentID, result, build)
		return result
	}

	if r.probe && !r.client.Available(ctx) {
		result.Status = string(budget.StatusError)
		result.Error = "provider unavailable"
		r.persist(ctx, agentID, result, build)
		return result
	}

	resp, err := r.client.SendChat(ctx, build.Messages, build.ReservedOutputTokens, r.temperature)
	if err != nil {
		result.Status = string(budget.StatusError)
		result.Error = err.Error()
		r.persist(ctx, agentID, result, build)
		return result
	}

	result.Status = string(build.Status)
	result.Response = resp.Content
	result.Usage = resp.Usage
	if resp.ModelUsed != "" {
		result.ModelUsed = resp.ModelUsed
		result.RoutingTier = routingTier(resp.ModelUsed)
	}
	if resp.Provider != "" {
		result.Provider = resp.Provider
	}

	r.persist(ctx, agentID, result, build)
	return result
}

// persist 落盘审计记录与上下文快照
func (r *Runner) persist(ctx context.Context, agentID string, result *RunResult, build *budget.BuildResult) {
	if r.runs == nil {
		return
	}

	now := time.Now()
	record := &store.RunRecord{
		ID:                   result.RunID,
		AgentID:              agentID,
		Model:                result.ModelUsed,
		Provider:             result.Provider,
		Status:               result.Status,
		Error:                result.Error,
		EstimatedInputTokens: build.InputTokensEstimated,
		MeasuredInputTokens:  result.Usage.PromptTokens,
		MeasuredOutputTokens: result.Usage.CompletionTokens,
		RoutingTier:          result.RoutingTier,
		TrimmingApplied:      build.TrimmingApplied,
		ComponentTokens:      build.ComponentTokens,
		CreatedAt:            now,
	}
	// 落盘失败只能放弃审计，返回值已经确定
	metrics := otel.GetMetrics()
	metrics.Counter(otel.MetricStoreWrites).Add(ctx, 1)
	if err := r.runs.SaveRun(ctx, record); err != nil {
		metrics.Counter(otel.MetricStoreWriteFails).Add(ctx, 1)
		otel.GetLogger().WithContext(ctx).Warn("save run record failed",
			"run_id", result.RunID, "error", err)
	}

	snapshot := &store.ContextSnapshot{
		RunID:                result.RunID,
		AgentID:              agentID,
		ContextWindowTokens:  build.ContextWindowTokens,
		ReservedOutputTokens: build.ReservedOutputTokens,
		Budgets:              build.Budgets,
		Headroom:             build.Headroom,
		CreatedAt:            now,
	}
	if err := r.runs.SaveSnapshot(ctx, snapshot); err != nil {
		metrics.Counter(otel.MetricStoreWriteFails).Add(ctx, 1)
		otel.GetLogger().WithContext(ctx).Warn("save context snapshot failed",
			"run_id", result.RunID, "error", err)
	}
}

// TotalUsage 汇总一组审计记录的实测 Token 用量，
// 配合 ListRuns 做按 Agent 的成本核算。
func TotalUsage(records []*store.RunRecord) message.TokenUsage {
	var total message.TokenUsage
	for _, rec := range records {
		total.Add(message.TokenUsage{
			PromptTokens:     rec.MeasuredInputTokens,
			CompletionTokens: rec.MeasuredOutputTokens,
			TotalTokens:      rec.MeasuredInputTokens + rec.MeasuredOutputTokens,
		})
	}
	return total
}

// routingTier 根据模型名称划分计费档位。
// 轻量模型（mini/turbo/small 系列）走标准档位。
func routingTier(model string) string {
	lower := strings.ToLower(model)
	for _, marker := range []string{"mini", "turbo", "small"} {
		if strings.Contains(lower, marker) {
			return TierStandard
		}
	}
	return TierPremium
}
