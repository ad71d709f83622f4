package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/steward-go/pkg/budget"
	"github.com/easyops/steward-go/pkg/core/errors"
)

// SQLiteStore SQLite 存储
//
// 基于 SQLite 的持久化实现，同时提供档案存储和追加式
// 审计存储，适用于生产环境。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 创建 SQLite 存储
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &SQLiteStore{db: db}

	// 初始化表结构
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema 初始化表结构
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		provider TEXT NOT NULL,
		context_window_tokens INTEGER NOT NULL,
		reserved_output_tokens INTEGER NOT NULL,
		budgets TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		model TEXT,
		provider TEXT,
		status TEXT NOT NULL,
		error TEXT,
		estimated_input_tokens INTEGER NOT NULL,
		measured_input_tokens INTEGER NOT NULL,
		measured_output_tokens INTEGER NOT NULL,
		routing_tier TEXT,
		trimming_applied TEXT,
		component_tokens TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id, created_at);
	CREATE TABLE IF NOT EXISTS context_snapshots (
		run_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		context_window_tokens INTEGER NOT NULL,
		reserved_output_tokens INTEGER NOT NULL,
		budgets TEXT NOT NULL,
		headroom INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetProfile 按名称获取档案
func (s *SQLiteStore) GetProfile(ctx context.Context, name string) (*budget.BudgetProfile, error) {
	query := `SELECT name, model, provider, context_window_tokens, reserved_output_tokens, budgets, created_at, updated_at
	FROM profiles WHERE name = ?`

	var profile budget.BudgetProfile
	var budgetsJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&profile.Name, &profile.Model, &profile.Provider,
		&profile.ContextWindowTokens, &profile.ReservedOutputTokens,
		&budgetsJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(budgetsJSON), &profile.Budgets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal budgets: %w", err)
	}

	profile.CreatedAt = time.UnixMilli(createdAt)
	profile.UpdatedAt = time.UnixMilli(updatedAt)

	return &profile, nil
}

// PutProfile 写入档案
func (s *SQLiteStore) PutProfile(ctx context.Context, profile *budget.BudgetProfile) error {
	if profile == nil || profile.Name == "" {
		return ErrInvalidInput
	}

	budgetsJSON, err := json.Marshal(profile.Budgets)
	if err != nil {
		return fmt.Errorf("failed to marshal budgets: %w", err)
	}

	now := time.Now().UnixMilli()
	createdAt := now
	if !profile.CreatedAt.IsZero() {
		createdAt = profile.CreatedAt.UnixMilli()
	}

	query := `
	INSERT INTO profiles (name, model, provider, context_window_tokens, reserved_output_tokens, budgets, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		model = excluded.model,
		provider = excluded.provider,
		context_window_tokens = excluded.context_window_tokens,
		reserved_output_tokens = excluded.reserved_output_tokens,
		budgets = excluded.budgets,
		updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		profile.Name, profile.Model, profile.Provider,
		profile.ContextWindowTokens, profile.ReservedOutputTokens,
		string(budgetsJSON), createdAt, now,
	)
	return err
}

// ListProfiles 列出全部档案
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]budget.BudgetProfile, error) {
	query := `SELECT name, model, provider, context_window_tokens, reserved_output_tokens, budgets, created_at, updated_at
	FROM profiles ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []budget.BudgetProfile
	for rows.Next() {
		var profile budget.BudgetProfile
		var budgetsJSON string
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&profile.Name, &profile.Model, &profile.Provider,
			&profile.ContextWindowTokens, &profile.ReservedOutputTokens,
			&budgetsJSON, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(budgetsJSON), &profile.Budgets); err != nil {
			continue // 跳过无效记录
		}

		profile.CreatedAt = time.UnixMilli(createdAt)
		profile.UpdatedAt = time.UnixMilli(updatedAt)
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// SaveRun 追加 run 记录。INSERT OR IGNORE 保证同 ID 幂等。
func (s *SQLiteStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil || record.ID == "" {
		return ErrInvalidInput
	}

	trimmingJSON, err := json.Marshal(record.TrimmingApplied)
	if err != nil {
		return fmt.Errorf("failed to marshal trimming audit: %w", err)
	}
	componentsJSON, err := json.Marshal(record.ComponentTokens)
	if err != nil {
		return fmt.Errorf("failed to marshal component tokens: %w", err)
	}

	createdAt := record.CreatedAt.UnixMilli()
	if record.CreatedAt.IsZero() {
		createdAt = time.Now().UnixMilli()
	}

	query := `
	INSERT OR IGNORE INTO runs
		(id, agent_id, model, provider, status, error, estimated_input_tokens,
		measured_input_tokens, measured_output_tokens, routing_tier,
		trimming_applied, component_tokens, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.AgentID, record.Model, record.Provider,
		record.Status, record.Error, record.EstimatedInputTokens,
		record.MeasuredInputTokens, record.MeasuredOutputTokens,
		record.RoutingTier, string(trimmingJSON), string(componentsJSON),
		createdAt,
	)
	return err
}

// SaveSnapshot 追加上下文快照，同 RunID 幂等
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot *ContextSnapshot) error {
	if snapshot == nil || snapshot.RunID == "" {
		return ErrInvalidInput
	}

	budgetsJSON, err := json.Marshal(snapshot.Budgets)
	if err != nil {
		return fmt.Errorf("failed to marshal budgets: %w", err)
	}

	createdAt := snapshot.CreatedAt.UnixMilli()
	if snapshot.CreatedAt.IsZero() {
		createdAt = time.Now().UnixMilli()
	}

	query := `
	INSERT OR IGNORE INTO context_snapshots
		(run_id, agent_id, context_window_tokens, reserved_output_tokens, budgets, headroom, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		snapshot.RunID, snapshot.AgentID,
		snapshot.ContextWindowTokens, snapshot.ReservedOutputTokens,
		string(budgetsJSON), snapshot.Headroom, createdAt,
	)
	return err
}

// GetRun 按标识获取 run 记录
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT id, agent_id, model, provider, status, error, estimated_input_tokens,
	measured_input_tokens, measured_output_tokens, routing_tier, trimming_applied, component_tokens, created_at
	FROM runs WHERE id = ?`

	record, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetSnapshot 按 run 标识获取快照
func (s *SQLiteStore) GetSnapshot(ctx context.Context, runID string) (*ContextSnapshot, error) {
	query := `SELECT run_id, agent_id, context_window_tokens, reserved_output_tokens, budgets, headroom, created_at
	FROM context_snapshots WHERE run_id = ?`

	var snapshot ContextSnapshot
	var budgetsJSON string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&snapshot.RunID, &snapshot.AgentID,
		&snapshot.ContextWindowTokens, &snapshot.ReservedOutputTokens,
		&budgetsJSON, &snapshot.Headroom, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(budgetsJSON), &snapshot.Budgets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal budgets: %w", err)
	}
	snapshot.CreatedAt = time.UnixMilli(createdAt)

	return &snapshot, nil
}

// ListRuns 按 Agent 列出 run 记录，新的在前
func (s *SQLiteStore) ListRuns(ctx context.Context, agentID string, limit int) ([]RunRecord, error) {
	query := `SELECT id, agent_id, model, provider, status, error, estimated_input_tokens,
	measured_input_tokens, measured_output_tokens, routing_tier, trimming_applied, component_tokens, created_at
	FROM runs WHERE agent_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// rowScanner 统一 QueryRow 和 Rows 的扫描入口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRun 从一行扫描 run 记录
func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var errMsg, tier sql.NullString
	var trimmingJSON, componentsJSON sql.NullString
	var createdAt int64

	if err := row.Scan(
		&record.ID, &record.AgentID, &record.Model, &record.Provider,
		&record.Status, &errMsg, &record.EstimatedInputTokens,
		&record.MeasuredInputTokens, &record.MeasuredOutputTokens,
		&tier, &trimmingJSON, &componentsJSON, &createdAt,
	); err != nil {
		return nil, err
	}

	record.Error = errMsg.String
	record.RoutingTier = tier.String
	record.CreatedAt = time.UnixMilli(createdAt)

	if trimmingJSON.Valid && trimmingJSON.String != "" {
		if err := json.Unmarshal([]byte(trimmingJSON.String), &record.TrimmingApplied); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trimming audit: %w", err)
		}
	}
	if componentsJSON.Valid && componentsJSON.String != "" {
		if err := json.Unmarshal([]byte(componentsJSON.String), &record.ComponentTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal component tokens: %w", err)
		}
	}

	return &record, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// 编译时接口检查
var _ ProfileStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)
