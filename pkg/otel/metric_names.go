package otel

// 预定义的指标名称
// 遵循 OpenTelemetry 语义约定
const (
	// 构建指标
	MetricBuilds         = "context.builds"          // 计数器: 构建次数
	MetricBuildsBlocked  = "context.builds.blocked"  // 计数器: 被拦截的构建次数
	MetricBuildsTrimmed  = "context.builds.trimmed"  // 计数器: 发生裁剪的构建次数
	MetricTrimActions    = "context.trim.actions"    // 计数器: 裁剪动作次数
	MetricInputTokens    = "context.input.tokens"    // 直方图: 估算输入 Token 数
	MetricHeadroomTokens = "context.headroom.tokens" // 直方图: 剩余容量 Token 数

	// 运行指标
	MetricRuns        = "run.total"     // 计数器: 运行次数
	MetricRunErrors   = "run.errors"    // 计数器: 运行失败次数
	MetricRunDuration = "run.duration"  // 直方图: 运行时间(ms)
	MetricRunsActive  = "run.active"    // 仪表: 进行中的运行数

	// LLM 指标
	MetricLLMRequests         = "llm.requests"          // 计数器: LLM 请求次数
	MetricLLMTokensPrompt     = "llm.tokens.prompt"     // 计数器: Prompt Token 总数
	MetricLLMTokensCompletion = "llm.tokens.completion" // 计数器: Completion Token 总数
	MetricLLMErrors           = "llm.errors"            // 计数器: LLM 错误次数

	// 存储指标
	MetricStoreWrites     = "store.writes"       // 计数器: 审计写入次数
	MetricStoreWriteFails = "store.write.errors" // 计数器: 审计写入失败次数
)

// MetricUnit 指标单位
type MetricUnit string

const (
	UnitNone         MetricUnit = ""
	UnitMilliseconds MetricUnit = "ms"
	UnitSeconds      MetricUnit = "s"
	UnitBytes        MetricUnit = "By"
	UnitCount        MetricUnit = "1"
)

// MetricDescription 指标描述
type MetricDescription struct {
	Name        string
	Description string
	Unit        MetricUnit
	Type        string // counter, histogram, gauge
}

// PredefinedMetrics 预定义指标列表
var PredefinedMetrics = []MetricDescription{
	{MetricBuilds, "Number of context builds", UnitCount, "counter"},
	{MetricBuildsBlocked, "Number of blocked context builds", UnitCount, "counter"},
	{MetricBuildsTrimmed, "Number of builds with trimming applied", UnitCount, "counter"},
	{MetricTrimActions, "Number of trimming actions applied", UnitCount, "counter"},
	{MetricInputTokens, "Estimated input tokens per build", UnitCount, "histogram"},
	{MetricHeadroomTokens, "Remaining headroom tokens per build", UnitCount, "histogram"},

	{MetricRuns, "Number of runs", UnitCount, "counter"},
	{MetricRunErrors, "Number of failed runs", UnitCount, "counter"},
	{MetricRunDuration, "Duration of runs", UnitMilliseconds, "histogram"},
	{MetricRunsActive, "Number of in-flight runs", UnitCount, "gauge"},

	{MetricLLMRequests, "Number of LLM requests", UnitCount, "counter"},
	{MetricLLMTokensPrompt, "Number of prompt tokens", UnitCount, "counter"},
	{MetricLLMTokensCompletion, "Number of completion tokens", UnitCount, "counter"},
	{MetricLLMErrors, "Number of LLM errors", UnitCount, "counter"},

	{MetricStoreWrites, "Number of audit store writes", UnitCount, "counter"},
	{MetricStoreWriteFails, "Number of failed audit store writes", UnitCount, "counter"},
}
