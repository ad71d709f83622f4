package otel

import "go.opentelemetry.io/otel/attribute"

// 预定义的语义属性键
// 遵循 OpenTelemetry 语义约定
const (
	// Agent 相关属性
	AttrAgentID = "agent.id"

	// 构建相关属性
	AttrBuildStatus    = "build.status"
	AttrBuildHeadroom  = "build.headroom"
	AttrBuildComponent = "build.component"
	AttrTrimAction     = "trim.action"
	AttrRoutingTier    = "routing.tier"

	// LLM 相关属性
	AttrLLMProvider         = "llm.provider"
	AttrLLMModel            = "llm.model"
	AttrLLMPromptTokens     = "llm.prompt_tokens"
	AttrLLMCompletionTokens = "llm.completion_tokens"
	AttrLLMTotalTokens      = "llm.total_tokens"

	// 存储相关属性
	AttrStoreBackend = "store.backend"

	// Error 相关属性
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"
	AttrErrorRetryable = "error.retryable"
)

// AgentID 创建 Agent 标识属性
func AgentID(id string) attribute.KeyValue {
	return attribute.String(AttrAgentID, id)
}

// BuildStatus 创建构建状态属性
func BuildStatus(status string) attribute.KeyValue {
	return attribute.String(AttrBuildStatus, status)
}

// BuildHeadroom 创建剩余容量属性
func BuildHeadroom(tokens int) attribute.KeyValue {
	return attribute.Int(AttrBuildHeadroom, tokens)
}

// TrimAction 创建裁剪动作属性
func TrimAction(action string) attribute.KeyValue {
	return attribute.String(AttrTrimAction, action)
}

// RoutingTier 创建计费档位属性
func RoutingTier(tier string) attribute.KeyValue {
	return attribute.String(AttrRoutingTier, tier)
}

// LLMProvider 创建 LLM 提供商属性
func LLMProvider(provider string) attribute.KeyValue {
	return attribute.String(AttrLLMProvider, provider)
}

// LLMModel 创建 LLM 模型属性
func LLMModel(model string) attribute.KeyValue {
	return attribute.String(AttrLLMModel, model)
}

// LLMTokens 创建 LLM Token 使用属性
func LLMTokens(prompt, completion, total int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrLLMPromptTokens, prompt),
		attribute.Int(AttrLLMCompletionTokens, completion),
		attribute.Int(AttrLLMTotalTokens, total),
	}
}

// StoreBackend 创建存储后端属性
func StoreBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStoreBackend, backend)
}

// ErrorAttrs 创建错误属性
func ErrorAttrs(errType, message string, retryable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, message),
		attribute.Bool(AttrErrorRetryable, retryable),
	}
}
