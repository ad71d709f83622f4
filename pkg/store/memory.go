package store

import (
	"context"
	"sort"
	"sync"

	"github.com/easyops/steward-go/pkg/budget"
	"github.com/easyops/steward-go/pkg/core/errors"
)

// MemoryStore 内存存储
//
// 同时实现 ProfileStore 和 RunStore，用于测试和单进程场景。
type MemoryStore struct {
	mu        sync.RWMutex
	profiles  map[string]budget.BudgetProfile
	runs      map[string]RunRecord
	snapshots map[string]ContextSnapshot
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]budget.BudgetProfile),
		runs:      make(map[string]RunRecord),
		snapshots: make(map[string]ContextSnapshot),
	}
}

// GetProfile 按名称获取档案
func (s *MemoryStore) GetProfile(_ context.Context, name string) (*budget.BudgetProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[name]
	if !ok {
		return nil, errors.ErrProfileNotFound
	}

	// 返回副本，避免调用方看到后续更新
	copied := profile
	return &copied, nil
}

// PutProfile 写入档案
func (s *MemoryStore) PutProfile(_ context.Context, profile *budget.BudgetProfile) error {
	if profile == nil || profile.Name == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.Name] = *profile
	return nil
}

// ListProfiles 列出全部档案
func (s *MemoryStore) ListProfiles(_ context.Context) ([]budget.BudgetProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]budget.BudgetProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})

	return profiles, nil
}

// SaveRun 追加 run 记录，同 ID 幂等
func (s *MemoryStore) SaveRun(_ context.Context, record *RunRecord) error {
	if record == nil || record.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[record.ID]; exists {
		return nil
	}
	s.runs[record.ID] = *record
	return nil
}

// SaveSnapshot 追加上下文快照，同 RunID 幂等
func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot *ContextSnapshot) error {
	if snapshot == nil || snapshot.RunID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[snapshot.RunID]; exists {
		return nil
	}
	s.snapshots[snapshot.RunID] = *snapshot
	return nil
}

// GetRun 按标识获取 run 记录
func (s *MemoryStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}

	copied := record
	return &copied, nil
}

// GetSnapshot 按 run 标识获取快照
func (s *MemoryStore) GetSnapshot(_ context.Context, runID string) (*ContextSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[runID]
	if !ok {
		return nil, ErrRunNotFound
	}

	copied := snapshot
	return &copied, nil
}

// ListRuns 按 Agent 列出 run 记录，新的在前
func (s *MemoryStore) ListRuns(_ context.Context, agentID string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []RunRecord
	for _, r := range s.runs {
		if r.AgentID == agentID {
			records = append(records, r)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// Close 关闭存储（内存实现为空操作）
func (s *MemoryStore) Close() error {
	return nil
}

// 编译时接口检查
var _ ProfileStore = (*MemoryStore)(nil)
var _ RunStore = (*MemoryStore)(nil)
