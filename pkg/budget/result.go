package budget

import (
	"github.com/easyops/steward-go/pkg/core/message"
)

// Status 是一次构建的最终状态。
type Status string

const (
	// StatusOK 全部内容原样放入，无裁剪
	StatusOK Status = "ok"
	// StatusTrimmed 至少一个裁剪阶段生效
	StatusTrimmed Status = "trimmed"
	// StatusBlocked 配置错误或裁剪后仍超容量，请求未组装
	StatusBlocked Status = "blocked"
	// StatusError 外部调用失败（仅由 runner 产生）
	StatusError Status = "error"
)

// 裁剪阶段的动作名。TrimmingApplied 中的条目只会按
// 此固定顺序出现：历史 → 检索 → 工具输出 → 记忆。
const (
	ActionDropHistory     = "drop_history_before"
	ActionReduceRetrieval = "reduce_retrieval"
	ActionTruncateTools   = "truncate_tool_outputs"
	ActionSummarizeMemory = "summarize_memory"
)

// TrimmingAction 记录一个实际生效的裁剪阶段。
type TrimmingAction struct {
	// Action 动作名（上方常量之一）
	Action string `json:"action"`
	// BeforeTokens 裁剪前该分量的 Token 数
	BeforeTokens int `json:"before_tokens"`
	// AfterTokens 裁剪后该分量的 Token 数
	AfterTokens int `json:"after_tokens"`
	// DroppedTurns 丢弃的历史轮数（仅 drop_history_before）
	DroppedTurns int `json:"dropped_turns,omitempty"`
	// DroppedIDs 丢弃的条目标识（仅 reduce_retrieval）
	DroppedIDs []string `json:"dropped_ids,omitempty"`
}

// Preview 是一个分量的头尾文本预览，用于审计与排障。
type Preview struct {
	// Head 开头片段
	Head string `json:"head"`
	// Tail 结尾片段
	Tail string `json:"tail"`
}

// IncludedSummary 记录最终请求里保留了哪些内容。
type IncludedSummary struct {
	// HistoryTurns 保留的历史轮数
	HistoryTurns int `json:"history_turns"`
	// HistoryMessageIDs 保留的历史消息标识（有标识的才记）
	HistoryMessageIDs []string `json:"history_message_ids,omitempty"`
	// RetrievalIDs 保留的检索条目标识
	RetrievalIDs []string `json:"retrieval_ids,omitempty"`
	// ToolResultIDs 保留的工具输出标识
	ToolResultIDs []string `json:"tool_result_ids,omitempty"`
	// Previews 各分量的头尾预览，键同 ComponentTokens
	Previews map[string]Preview `json:"previews,omitempty"`
}

// ComponentTokens 的键名。
const (
	ComponentSystem      = "system"
	ComponentMemory      = "memory"
	ComponentHistory     = "history"
	ComponentRetrieval   = "retrieval"
	ComponentToolResults = "toolResults"
	ComponentUserMessage = "userMessage"
)

// BuildResult 是一次构建的完整产出契约。
//
// 返回后不再修改。调用方据此决定继续发送、换内容重试
// 还是向用户报错。
type BuildResult struct {
	// Messages 组装完成、可直接发送的消息序列
	Messages []message.Message `json:"messages"`

	// ComponentTokens 裁剪后各分量的 Token 数
	ComponentTokens map[string]int `json:"component_tokens"`

	// IncludedSummary 保留内容的溯源摘要
	IncludedSummary IncludedSummary `json:"included_summary"`

	// TrimmingApplied 实际生效的裁剪阶段，按固定顺序
	TrimmingApplied []TrimmingAction `json:"trimming_applied"`

	// Status 最终状态
	Status Status `json:"status"`

	// Error 状态为 blocked/error 时的可读错误信息
	Error string `json:"error,omitempty"`

	// InputTokensEstimated 组装后整个请求的估算 Token 数
	InputTokensEstimated int `json:"input_tokens_estimated"`

	// Headroom 剩余容量，非 blocked 时恒 >= 0
	Headroom int `json:"headroom"`

	// 本次构建实际采用的档案快照
	Model                string           `json:"model"`
	Provider             string           `json:"provider"`
	ContextWindowTokens  int              `json:"context_window_tokens"`
	ReservedOutputTokens int              `json:"reserved_output_tokens"`
	Budgets              ComponentBudgets `json:"budgets"`
}

// Trimmed 报告是否有任何裁剪阶段生效。
func (r *BuildResult) Trimmed() bool {
	return len(r.TrimmingApplied) > 0
}

// Blocked 报告构建是否被拦截。
func (r *BuildResult) Blocked() bool {
	return r.Status == StatusBlocked
}
