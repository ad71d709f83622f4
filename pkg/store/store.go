// Package store 提供预算档案与运行审计记录的持久化后端。
//
// 定义档案存储和追加式审计存储两组接口，并提供内存、
// SQLite 和 Neo4j 三种实现。
package store

import (
	"context"
	"time"

	"github.com/easyops/steward-go/pkg/budget"
)

// ProfileStore 预算档案存储接口
//
// 档案首次使用时创建、显式更新时覆盖，从不删除。
// 默认实现使用内存存储，生产环境建议使用 SQLite。
type ProfileStore interface {
	// GetProfile 按名称获取档案，未找到返回 errors.ErrProfileNotFound
	GetProfile(ctx context.Context, name string) (*budget.BudgetProfile, error)

	// PutProfile 写入档案（存在则覆盖）
	PutProfile(ctx context.Context, profile *budget.BudgetProfile) error

	// ListProfiles 列出全部档案
	ListProfiles(ctx context.Context) ([]budget.BudgetProfile, error)

	// Close 关闭连接
	Close() error
}

// RunRecord 是一次 run() 调用的审计记录。
//
// 每个 run 标识只写一次；同一标识的重复写入是幂等的，
// 不同 run 的并发写入互不冲突。
type RunRecord struct {
	// ID run 标识（UUID）
	ID string `json:"id"`
	// AgentID Agent 标识
	AgentID string `json:"agent_id"`
	// Model 实际使用的模型
	Model string `json:"model"`
	// Provider 实际使用的提供商
	Provider string `json:"provider"`
	// Status 最终状态: ok | trimmed | blocked | error
	Status string `json:"status"`
	// Error 状态为 blocked/error 时的错误信息
	Error string `json:"error,omitempty"`
	// EstimatedInputTokens 构建时估算的输入 Token 数
	EstimatedInputTokens int `json:"estimated_input_tokens"`
	// MeasuredInputTokens 提供商上报的实际输入 Token 数
	MeasuredInputTokens int `json:"measured_input_tokens"`
	// MeasuredOutputTokens 提供商上报的实际输出 Token 数
	MeasuredOutputTokens int `json:"measured_output_tokens"`
	// RoutingTier 计费档位
	RoutingTier string `json:"routing_tier,omitempty"`
	// TrimmingApplied 完整的裁剪审计记录
	TrimmingApplied []budget.TrimmingAction `json:"trimming_applied"`
	// ComponentTokens 各分量的最终 Token 数
	ComponentTokens map[string]int `json:"component_tokens"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// ContextSnapshot 记录一次 run 时刻解析出的预算与容量，
// 与 RunRecord 一一对应，同样只写一次。
type ContextSnapshot struct {
	// RunID 对应的 run 标识
	RunID string `json:"run_id"`
	// AgentID Agent 标识
	AgentID string `json:"agent_id"`
	// ContextWindowTokens 本次采用的上下文窗口
	ContextWindowTokens int `json:"context_window_tokens"`
	// ReservedOutputTokens 本次采用的预留输出
	ReservedOutputTokens int `json:"reserved_output_tokens"`
	// Budgets 本次采用的分量预算
	Budgets budget.ComponentBudgets `json:"budgets"`
	// Headroom 本次构建的剩余容量
	Headroom int `json:"headroom"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// RunStore 追加式审计存储接口
type RunStore interface {
	// SaveRun 追加 run 记录；同 ID 重复写入幂等
	SaveRun(ctx context.Context, record *RunRecord) error

	// SaveSnapshot 追加上下文快照；同 RunID 重复写入幂等
	SaveSnapshot(ctx context.Context, snapshot *ContextSnapshot) error

	// GetRun 按标识获取 run 记录，未找到返回 ErrRunNotFound
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// GetSnapshot 按 run 标识获取快照，未找到返回 ErrRunNotFound
	GetSnapshot(ctx context.Context, runID string) (*ContextSnapshot, error)

	// ListRuns 按 Agent 列出 run 记录，新的在前
	ListRuns(ctx context.Context, agentID string, limit int) ([]RunRecord, error)

	// Close 关闭连接
	Close() error
}
