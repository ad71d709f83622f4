package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jAuditStore Neo4j 审计存储
//
// 把 run 记录和上下文快照写成审计图：
// (Run)-[:FOR_AGENT]->(Agent)，(Snapshot)-[:OF_RUN]->(Run)。
// 适合需要跨 Agent 做运维审计查询的部署。
type Neo4jAuditStore struct {
	driver neo4j.DriverWithContext
}

// Neo4jConfig Neo4j 配置
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
}

// NewNeo4jAuditStore 创建 Neo4j 审计存储
func NewNeo4jAuditStore(config Neo4jConfig) (*Neo4jAuditStore, error) {
	if config.URI == "" {
		config.URI = "bolt://localhost:7687"
	}

	auth := neo4j.NoAuth()
	if config.Username != "" && config.Password != "" {
		auth = neo4j.BasicAuth(config.Username, config.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	// 验证连接
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &Neo4jAuditStore{driver: driver}

	// 创建索引
	if err := store.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return store, nil
}

// createIndexes 创建索引
func (s *Neo4jAuditStore) createIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX run_id IF NOT EXISTS FOR (r:Run) ON (r.id)",
		"CREATE INDEX run_agent IF NOT EXISTS FOR (r:Run) ON (r.agent_id)",
		"CREATE INDEX agent_name IF NOT EXISTS FOR (a:Agent) ON (a.name)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			// 忽略索引已存在的错误
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}

	return nil
}

// SaveRun 追加 run 记录。MERGE + ON CREATE 保证同 ID 幂等，
// 已存在的记录不会被覆盖（追加式语义）。
func (s *Neo4jAuditStore) SaveRun(ctx context.Context, record *RunRecord) error {
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

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
	MERGE (a:Agent {name: $agentId})
	MERGE (r:Run {id: $id})
	ON CREATE SET
		r.agent_id = $agentId,
		r.model = $model,
		r.provider = $provider,
		r.status = $status,
		r.error = $error,
		r.estimated_input_tokens = $estimatedInput,
		r.measured_input_tokens = $measuredInput,
		r.measured_output_tokens = $measuredOutput,
		r.routing_tier = $tier,
		r.trimming_applied = $trimming,
		r.component_tokens = $components,
		r.created_at = $createdAt
	MERGE (r)-[:FOR_AGENT]->(a)
	`

	params := map[string]interface{}{
		"id":             record.ID,
		"agentId":        record.AgentID,
		"model":          record.Model,
		"provider":       record.Provider,
		"status":         record.Status,
		"error":          record.Error,
		"estimatedInput": record.EstimatedInputTokens,
		"measuredInput":  record.MeasuredInputTokens,
		"measuredOutput": record.MeasuredOutputTokens,
		"tier":           record.RoutingTier,
		"trimming":       string(trimmingJSON),
		"components":     string(componentsJSON),
		"createdAt":      createdAt,
	}

	_, err = session.Run(ctx, query, params)
	return err
}

// SaveSnapshot 追加上下文快照，同 RunID 幂等
func (s *Neo4jAuditStore) SaveSnapshot(ctx context.Context, snapshot *ContextSnapshot) error {
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

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
	MERGE (r:Run {id: $runId})
	MERGE (s:Snapshot {run_id: $runId})
	ON CREATE SET
		s.agent_id = $agentId,
		s.context_window_tokens = $window,
		s.reserved_output_tokens = $reserved,
		s.budgets = $budgets,
		s.headroom = $headroom,
		s.created_at = $createdAt
	MERGE (s)-[:OF_RUN]->(r)
	`

	params := map[string]interface{}{
		"runId":     snapshot.RunID,
		"agentId":   snapshot.AgentID,
		"window":    snapshot.ContextWindowTokens,
		"reserved":  snapshot.ReservedOutputTokens,
		"budgets":   string(budgetsJSON),
		"headroom":  snapshot.Headroom,
		"createdAt": createdAt,
	}

	_, err = session.Run(ctx, query, params)
	return err
}

// GetRun 按标识获取 run 记录
func (s *Neo4jAuditStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `MATCH (r:Run {id: $id}) RETURN r`

	result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	if result.Next(ctx) {
		record := result.Record()
		nodeVal, _ := record.Get("r")
		node := nodeVal.(neo4j.Node)
		return nodeToRun(node)
	}

	return nil, ErrRunNotFound
}

// GetSnapshot 按 run 标识获取快照
func (s *Neo4jAuditStore) GetSnapshot(ctx context.Context, runID string) (*ContextSnapshot, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `MATCH (s:Snapshot {run_id: $runId}) RETURN s`

	result, err := session.Run(ctx, query, map[string]interface{}{"runId": runID})
	if err != nil {
		return nil, err
	}

	if result.Next(ctx) {
		record := result.Record()
		nodeVal, _ := record.Get("s")
		node := nodeVal.(neo4j.Node)
		return nodeToSnapshot(node)
	}

	return nil, ErrRunNotFound
}

// ListRuns 按 Agent 列出 run 记录，新的在前
func (s *Neo4jAuditStore) ListRuns(ctx context.Context, agentID string, limit int) ([]RunRecord, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if limit <= 0 {
		limit = 100
	}

	query := `MATCH (r:Run {agent_id: $agentId}) RETURN r ORDER BY r.created_at DESC LIMIT $limit`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"agentId": agentID,
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}

	var records []RunRecord
	for result.Next(ctx) {
		record := result.Record()
		nodeVal, _ := record.Get("r")
		node := nodeVal.(neo4j.Node)
		run, err := nodeToRun(node)
		if err != nil {
			continue // 跳过无效记录
		}
		records = append(records, *run)
	}

	return records, nil
}

// nodeToRun 把 Run 节点转换为记录
func nodeToRun(node neo4j.Node) (*RunRecord, error) {
	record := &RunRecord{
		ID:                   nodeString(node, "id"),
		AgentID:              nodeString(node, "agent_id"),
		Model:                nodeString(node, "model"),
		Provider:             nodeString(node, "provider"),
		Status:               nodeString(node, "status"),
		Error:                nodeString(node, "error"),
		RoutingTier:          nodeString(node, "routing_tier"),
		EstimatedInputTokens: nodeInt(node, "estimated_input_tokens"),
		MeasuredInputTokens:  nodeInt(node, "measured_input_tokens"),
		MeasuredOutputTokens: nodeInt(node, "measured_output_tokens"),
		CreatedAt:            time.UnixMilli(int64(nodeInt(node, "created_at"))),
	}

	if trimming := nodeString(node, "trimming_applied"); trimming != "" {
		if err := json.Unmarshal([]byte(trimming), &record.TrimmingApplied); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trimming audit: %w", err)
		}
	}
	if components := nodeString(node, "component_tokens"); components != "" {
		if err := json.Unmarshal([]byte(components), &record.ComponentTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal component tokens: %w", err)
		}
	}

	return record, nil
}

// nodeToSnapshot 把 Snapshot 节点转换为快照
func nodeToSnapshot(node neo4j.Node) (*ContextSnapshot, error) {
	snapshot := &ContextSnapshot{
		RunID:                nodeString(node, "run_id"),
		AgentID:              nodeString(node, "agent_id"),
		ContextWindowTokens:  nodeInt(node, "context_window_tokens"),
		ReservedOutputTokens: nodeInt(node, "reserved_output_tokens"),
		Headroom:             nodeInt(node, "headroom"),
		CreatedAt:            time.UnixMilli(int64(nodeInt(node, "created_at"))),
	}

	if budgets := nodeString(node, "budgets"); budgets != "" {
		if err := json.Unmarshal([]byte(budgets), &snapshot.Budgets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal budgets: %w", err)
		}
	}

	return snapshot, nil
}

// nodeString 读取节点的字符串属性
func nodeString(node neo4j.Node, key string) string {
	if v, ok := node.Props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// nodeInt 读取节点的整数属性
func nodeInt(node neo4j.Node, key string) int {
	if v, ok := node.Props[key]; ok {
		if n, ok := v.(int64); ok {
			return int(n)
		}
	}
	return 0
}

// Close 关闭驱动连接
func (s *Neo4jAuditStore) Close() error {
	return s.driver.Close(context.Background())
}

// 编译时接口检查
var _ RunStore = (*Neo4jAuditStore)(nil)
