package budget

import (
	"github.com/easyops/steward-go/pkg/core/message"
)

// Item 是一条带标识的候选内容（检索资料或工具输出）。
type Item struct {
	// ID 条目标识，渲染为 "[id] content" 并记入审计摘要
	ID string `json:"id"`
	// Content 条目内容
	Content string `json:"content"`
}

// BuildInput 包含一次构建的全部候选内容。
//
// 构建期间由调用方独占所有权，构建器从不修改它。
type BuildInput struct {
	// SystemPrompt 系统指令，从不裁剪
	SystemPrompt string

	// DeveloperPrompt 开发者指令，从不裁剪
	DeveloperPrompt string

	// Memory 长期记忆自由文本，可摘要
	Memory string

	// History 有序对话历史，按整轮裁剪
	History []message.Message

	// Retrieval 有序检索条目，可丢弃或截断
	Retrieval []Item

	// ToolResults 有序工具输出条目，可截断
	ToolResults []Item

	// UserMessage 本次用户消息，永远最后、从不裁剪
	UserMessage string
}

// Overrides 是管理端用于试验配置的覆盖项，不会持久化。
// 零值字段表示不覆盖。
type Overrides struct {
	// ContextWindowTokens 覆盖上下文窗口（>0 生效）
	ContextWindowTokens int

	// ReservedOutputTokens 覆盖预留输出（>0 生效）
	ReservedOutputTokens int

	// Budgets 覆盖分量预算，经 NormalizeBudgets 规整后使用
	Budgets map[string]interface{}
}
