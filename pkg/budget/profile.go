package budget

import (
	"context"
	goerrors "errors"
	"strconv"
	"time"

	"github.com/easyops/steward-go/pkg/core/errors"
)

// 六个预算分量的键名。NormalizeBudgets 只认这六个键，
// 其余键一律丢弃。
const (
	BudgetKeySystem       = "system"
	BudgetKeyMemory       = "memory"
	BudgetKeyHistory      = "history"
	BudgetKeyRetrieval    = "retrieval"
	BudgetKeyToolResults  = "toolResults"
	BudgetKeySafetyMargin = "safetyMargin"
)

// ComponentBudgets 是每个内容分量的 Token 上限。
type ComponentBudgets struct {
	// System 系统与开发者指令的合并预算（只校验，从不裁剪）
	System int `json:"system" koanf:"system"`
	// Memory 长期记忆预算
	Memory int `json:"memory" koanf:"memory"`
	// History 对话历史预算
	History int `json:"history" koanf:"history"`
	// Retrieval 检索资料预算
	Retrieval int `json:"retrieval" koanf:"retrieval"`
	// ToolResults 工具输出预算
	ToolResults int `json:"toolResults" koanf:"tool_results"`
	// SafetyMargin 安全余量，从可用输入中直接扣除
	SafetyMargin int `json:"safetyMargin" koanf:"safety_margin"`
}

// DefaultBudgets 返回当前的默认分量预算。
func DefaultBudgets() ComponentBudgets {
	return ComponentBudgets{
		System:       2000,
		Memory:       1200,
		History:      2400,
		Retrieval:    1600,
		ToolResults:  1200,
		SafetyMargin: 256,
	}
}

// legacyDefaultBudgets 是一次默认值迁移前的旧默认集。
// 存量档案里可能还带着这组值；isLegacyDefaults 命中后整组丢弃，
// 改用当前默认值。所有存量档案都迁移完之后这个迁移垫片可以删除。
// 注意：手工调出的预算如果恰好逐字段等于这组值也会被丢弃，
// 这是参考行为，属已知的歧义（见 DESIGN.md）。
func legacyDefaultBudgets() ComponentBudgets {
	return ComponentBudgets{
		System:       1500,
		Memory:       1000,
		History:      2000,
		Retrieval:    1000,
		ToolResults:  800,
		SafetyMargin: 200,
	}
}

// isLegacyDefaults 判断给定映射是否恰好等于旧默认集：
// 六个键齐全、无多余键、逐值相等。
func isLegacyDefaults(raw map[string]interface{}) bool {
	if len(raw) != 6 {
		return false
	}

	legacy := legacyDefaultBudgets()
	want := map[string]int{
		BudgetKeySystem:       legacy.System,
		BudgetKeyMemory:       legacy.Memory,
		BudgetKeyHistory:      legacy.History,
		BudgetKeyRetrieval:    legacy.Retrieval,
		BudgetKeyToolResults:  legacy.ToolResults,
		BudgetKeySafetyMargin: legacy.SafetyMargin,
	}

	for key, expected := range want {
		v, ok := raw[key]
		if !ok {
			return false
		}
		n, ok := coerceInt(v)
		if !ok || n != expected {
			return false
		}
	}

	return true
}

// NormalizeBudgets 把任意来源的预算映射规整为固定形状的
// ComponentBudgets：旧默认集整组丢弃；每个键强制为非负整数，
// 转换失败或为负时回落到当前默认值；六个键之外的键全部忽略。
func NormalizeBudgets(raw map[string]interface{}) ComponentBudgets {
	defaults := DefaultBudgets()

	if raw == nil || isLegacyDefaults(raw) {
		return defaults
	}

	budgets := ComponentBudgets{
		System:       normalizeValue(raw, BudgetKeySystem, defaults.System),
		Memory:       normalizeValue(raw, BudgetKeyMemory, defaults.Memory),
		History:      normalizeValue(raw, BudgetKeyHistory, defaults.History),
		Retrieval:    normalizeValue(raw, BudgetKeyRetrieval, defaults.Retrieval),
		ToolResults:  normalizeValue(raw, BudgetKeyToolResults, defaults.ToolResults),
		SafetyMargin: normalizeValue(raw, BudgetKeySafetyMargin, defaults.SafetyMargin),
	}

	return budgets
}

// normalizeValue 取出并规整单个预算值。
func normalizeValue(raw map[string]interface{}, key string, fallback int) int {
	v, ok := raw[key]
	if !ok {
		return fallback
	}
	n, ok := coerceInt(v)
	if !ok || n < 0 {
		return fallback
	}
	return n
}

// coerceInt 尽力把常见的数值表示转成 int。
func coerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// BudgetProfile 是单个 Agent 角色的预算档案。
//
// 首次使用时惰性创建并持久化，只能通过显式更新操作修改，
// Agent 存续期间不会删除。构建过程读取的是档案快照，
// 管理端并发更新只影响后续构建。
type BudgetProfile struct {
	// Name Agent 标识
	Name string `json:"name"`
	// Model 模型名称
	Model string `json:"model"`
	// Provider 提供商名称
	Provider string `json:"provider"`
	// ContextWindowTokens 模型上下文窗口总大小
	ContextWindowTokens int `json:"context_window_tokens"`
	// ReservedOutputTokens 为模型输出预留的 Token 数
	// 不变式: ReservedOutputTokens < ContextWindowTokens
	ReservedOutputTokens int `json:"reserved_output_tokens"`
	// Budgets 六个分量的 Token 上限
	Budgets ComponentBudgets `json:"budgets"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt 最后更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate 校验档案不变式。
func (p *BudgetProfile) Validate() error {
	if p.Name == "" {
		return errors.ErrInvalidConfig
	}
	if p.ReservedOutputTokens >= p.ContextWindowTokens {
		return errors.ErrWindowExhausted
	}
	return nil
}

// ProfileSource 定义档案的读写接口。
// pkg/store 提供内存、SQLite 等实现。
type ProfileSource interface {
	// GetProfile 按名称获取档案，未找到返回 errors.ErrProfileNotFound
	GetProfile(ctx context.Context, name string) (*BudgetProfile, error)

	// PutProfile 写入档案（存在则覆盖）
	PutProfile(ctx context.Context, profile *BudgetProfile) error
}

// Resolver 负责档案的解析与惰性创建。
type Resolver struct {
	source   ProfileSource
	model    string
	provider string
	window   int
	reserved int
}

// ResolverOption 配置 Resolver。
type ResolverOption func(*Resolver)

// WithDefaultModel 设置新档案的默认模型与提供商。
func WithDefaultModel(provider, model string) ResolverOption {
	return func(r *Resolver) {
		r.provider = provider
		r.model = model
	}
}

// WithDefaultWindow 设置新档案的默认上下文窗口与预留输出。
func WithDefaultWindow(window, reserved int) ResolverOption {
	return func(r *Resolver) {
		r.window = window
		r.reserved = reserved
	}
}

// NewResolver 创建档案解析器。
func NewResolver(source ProfileSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:   source,
		model:    "gpt-4o",
		provider: "openai",
		window:   16384,
		reserved: 1024,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve 按 Agent 标识获取档案，首次访问创建默认档案并持久化。
// 重复调用幂等。
func (r *Resolver) Resolve(ctx context.Context, agentID string) (*BudgetProfile, error) {
	profile, err := r.source.GetProfile(ctx, agentID)
	if err == nil {
		// 规整历史数据里的预算值（含旧默认集淘汰）
		profile.Budgets = NormalizeBudgets(budgetsToMap(profile.Budgets))
		return profile, nil
	}
	if !goerrors.Is(err, errors.ErrProfileNotFound) {
		return nil, err
	}

	now := time.Now()
	profile = &BudgetProfile{
		Name:                 agentID,
		Model:                r.model,
		Provider:             r.provider,
		ContextWindowTokens:  r.window,
		ReservedOutputTokens: r.reserved,
		Budgets:              DefaultBudgets(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := r.source.PutProfile(ctx, profile); err != nil {
		return nil, errors.WrapError(err, "create default profile")
	}

	return profile, nil
}

// Update 规整并写回档案预算，供管理端显式更新使用。
func (r *Resolver) Update(ctx context.Context, agentID string, budgets map[string]interface{}) (*BudgetProfile, error) {
	profile, err := r.Resolve(ctx, agentID)
	if err != nil {
		return nil, err
	}

	profile.Budgets = NormalizeBudgets(budgets)
	profile.UpdatedAt = time.Now()

	if err := r.source.PutProfile(ctx, profile); err != nil {
		return nil, errors.WrapError(err, "update profile")
	}

	return profile, nil
}

// budgetsToMap 把固定形状的预算转回键值映射，供规整复用。
func budgetsToMap(b ComponentBudgets) map[string]interface{} {
	return map[string]interface{}{
		BudgetKeySystem:       b.System,
		BudgetKeyMemory:       b.Memory,
		BudgetKeyHistory:      b.History,
		BudgetKeyRetrieval:    b.Retrieval,
		BudgetKeyToolResults:  b.ToolResults,
		BudgetKeySafetyMargin: b.SafetyMargin,
	}
}
