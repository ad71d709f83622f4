// Package budget 实现 Steward 的上下文预算引擎：
// Token 估算、按分量的预算档案，以及把无界候选内容装进
// 硬性 Token 上限的多阶段确定性裁剪流水线。
//
// 裁剪阶段的顺序是对外契约：历史 → 检索 → 工具输出 → 记忆。
// 相同输入永远产生逐字节一致的裁剪记录和消息序列。
package budget

import (
	"context"
	"fmt"

	"github.com/easyops/steward-go/pkg/core/errors"
	"github.com/easyops/steward-go/pkg/core/message"
)

// Builder 是请求组装器：接收候选内容与预算档案，执行裁剪
// 流水线，返回完整的构建产出。
//
// Build 除一次档案读取外无副作用，不做 I/O、不阻塞，
// 可在多个 goroutine 上并发调用而无需加锁。
type Builder struct {
	resolver *Resolver
	counter  TokenCounter
}

// BuilderOption 配置 Builder。
type BuilderOption func(*Builder)

// WithTokenCounter 固定使用给定计数器（绕过按模型选择）。
// 测试中用 EstimatedCounter 保证离线确定性。
func WithTokenCounter(counter TokenCounter) BuilderOption {
	return func(b *Builder) {
		b.counter = counter
	}
}

// NewBuilder 创建请求组装器。
func NewBuilder(resolver *Resolver, opts ...BuilderOption) *Builder {
	b := &Builder{resolver: resolver}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build 执行完整的裁剪流水线。
//
// 永不 panic、永不返回 error：一切失败形态都表达在
// BuildResult 的 Status 和 Error 字段里。
func (b *Builder) Build(ctx context.Context, agentID string, input *BuildInput, overrides *Overrides) *BuildResult {
	result := &BuildResult{
		ComponentTokens: make(map[string]int),
		IncludedSummary: IncludedSummary{Previews: make(map[string]Preview)},
	}

	if ctx.Err() != nil {
		result.Status = StatusError
		result.Error = errors.ErrContextCanceled.Error()
		return result
	}

	profile, err := b.resolver.Resolve(ctx, agentID)
	if err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("resolve profile %q: %v", agentID, err)
		return result
	}

	window := profile.ContextWindowTokens
	reserved := profile.ReservedOutputTokens
	budgets := profile.Budgets

	if overrides != nil {
		if overrides.ContextWindowTokens > 0 {
			window = overrides.ContextWindowTokens
		}
		if overrides.ReservedOutputTokens > 0 {
			reserved = overrides.ReservedOutputTokens
		}
		if overrides.Budgets != nil {
			budgets = NormalizeBudgets(overrides.Budgets)
		}
	}

	result.Model = profile.Model
	result.Provider = profile.Provider
	result.ContextWindowTokens = window
	result.ReservedOutputTokens = reserved
	result.Budgets = budgets

	// 1. 窗口健全性检查
	if reserved >= window {
		result.Status = StatusBlocked
		result.Error = fmt.Sprintf(
			"reserved output tokens (%d) must be less than context window (%d)",
			reserved, window)
		return result
	}

	// 2. 可用输入预算
	maxInputTokens := window - reserved - budgets.SafetyMargin
	if maxInputTokens <= 0 {
		result.Status = StatusBlocked
		result.Error = fmt.Sprintf(
			"no usable input budget: window %d - reserved %d - safety margin %d = %d",
			window, reserved, budgets.SafetyMargin, maxInputTokens)
		return result
	}

	counter := b.counter
	if counter == nil {
		counter = CounterForModel(profile.Model)
	}

	// 3. 不可裁剪前缀检查。系统与开发者指令承载不可协商的
	// 行为规则，超预算属于调用方配置错误，必须显式拦截。
	systemTokens := counter.Count(input.SystemPrompt)
	developerTokens := counter.Count(input.DeveloperPrompt)
	prefixTokens := systemTokens + developerTokens
	if prefixTokens > budgets.System {
		result.Status = StatusBlocked
		result.Error = fmt.Errorf(
			"%w: %d tokens (system=%d, developer=%d) exceeds system budget %d",
			errors.ErrPrefixOverBudget, prefixTokens, systemTokens, developerTokens, budgets.System).Error()
		return result
	}
	result.ComponentTokens[ComponentSystem] = prefixTokens

	// 4. 历史裁剪：按整轮从最旧开始丢弃
	history, historyTokens, action := trimHistory(counter, input.History, budgets.History)
	if action != nil {
		result.TrimmingApplied = append(result.TrimmingApplied, *action)
	}
	result.ComponentTokens[ComponentHistory] = historyTokens

	// 5. 检索裁剪：从末尾丢弃，至少保留一条，必要时二分截断
	retrievalBlock, retrievalIDs, action := reduceRetrieval(counter, input.Retrieval, budgets.Retrieval)
	if action != nil {
		result.TrimmingApplied = append(result.TrimmingApplied, *action)
	}
	result.ComponentTokens[ComponentRetrieval] = counter.Count(retrievalBlock)

	// 6. 工具输出裁剪：头尾截断为先，二分截断兜底
	toolBlock, toolIDs, action := truncateToolOutputs(counter, input.ToolResults, budgets.ToolResults)
	if action != nil {
		result.TrimmingApplied = append(result.TrimmingApplied, *action)
	}
	result.ComponentTokens[ComponentToolResults] = counter.Count(toolBlock)

	// 7. 记忆摘要：单行折叠 → 头尾摘要 → 二分截断
	memoryBlock, action := summarizeMemory(counter, input.Memory, budgets.Memory)
	if action != nil {
		result.TrimmingApplied = append(result.TrimmingApplied, *action)
	}
	result.ComponentTokens[ComponentMemory] = counter.Count(memoryBlock)
	result.ComponentTokens[ComponentUserMessage] = counter.Count(input.UserMessage)

	// 8. 组装：固定顺序，只放非空分量，用户消息永远最后
	messages := assembleMessages(input, history, memoryBlock, retrievalBlock, toolBlock)

	// 9. 最终核查。裁剪在构造上有界，这里是必需的安全网
	// 而非死代码：各分量预算之和仍可能超过可用输入。
	totalTokens := counter.CountMessages(messages)
	result.InputTokensEstimated = totalTokens
	if totalTokens > maxInputTokens {
		result.Status = StatusBlocked
		result.Error = fmt.Errorf(
			"%w: %d tokens exceeds usable input budget %d",
			errors.ErrOverCapacity, totalTokens, maxInputTokens).Error()
		return result
	}

	result.Messages = messages

	// 10. 剩余容量
	headroom := window - (totalTokens + reserved)
	if headroom < 0 {
		headroom = 0
	}
	result.Headroom = headroom

	// 溯源摘要
	fillSummary(&result.IncludedSummary, input, history, retrievalIDs, toolIDs, memoryBlock, retrievalBlock, toolBlock)

	// 11. 状态
	if result.Trimmed() {
		result.Status = StatusTrimmed
	} else {
		result.Status = StatusOK
	}

	return result
}

// assembleMessages 按固定顺序拼接最终消息序列：
// 系统指令、开发者指令、记忆块、历史轮、检索块、工具块、
// 用户消息。空分量跳过。
func assembleMessages(input *BuildInput, history []message.Message, memoryBlock, retrievalBlock, toolBlock string) []message.Message {
	capacity := 6 + len(history)
	messages := make([]message.Message, 0, capacity)

	if input.SystemPrompt != "" {
		messages = append(messages, message.Message{Role: message.RoleSystem, Content: input.SystemPrompt})
	}
	// 开发者指令作为第二条 system 消息下发
	if input.DeveloperPrompt != "" {
		messages = append(messages, message.Message{Role: message.RoleSystem, Content: input.DeveloperPrompt})
	}
	if memoryBlock != "" {
		messages = append(messages, message.Message{Role: message.RoleSystem, Content: memoryBlock})
	}
	messages = append(messages, history...)
	if retrievalBlock != "" {
		messages = append(messages, message.Message{Role: message.RoleSystem, Content: retrievalBlock})
	}
	if toolBlock != "" {
		messages = append(messages, message.Message{Role: message.RoleSystem, Content: toolBlock})
	}
	if input.UserMessage != "" {
		messages = append(messages, message.Message{Role: message.RoleUser, Content: input.UserMessage})
	}

	return messages
}

// fillSummary 填充保留内容的溯源摘要。
func fillSummary(summary *IncludedSummary, input *BuildInput, history []message.Message, retrievalIDs, toolIDs []string, memoryBlock, retrievalBlock, toolBlock string) {
	summary.HistoryTurns = len(groupTurns(history))
	for _, msg := range history {
		if msg.ID != "" {
			summary.HistoryMessageIDs = append(summary.HistoryMessageIDs, msg.ID)
		}
	}
	summary.RetrievalIDs = retrievalIDs
	summary.ToolResultIDs = toolIDs

	if input.SystemPrompt != "" {
		summary.Previews[ComponentSystem] = textPreview(input.SystemPrompt + input.DeveloperPrompt)
	}
	if memoryBlock != "" {
		summary.Previews[ComponentMemory] = textPreview(memoryBlock)
	}
	if retrievalBlock != "" {
		summary.Previews[ComponentRetrieval] = textPreview(retrievalBlock)
	}
	if toolBlock != "" {
		summary.Previews[ComponentToolResults] = textPreview(toolBlock)
	}
	if input.UserMessage != "" {
		summary.Previews[ComponentUserMessage] = textPreview(input.UserMessage)
	}
}
