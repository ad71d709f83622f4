package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/easyops/steward-go/pkg/budget"
	"github.com/easyops/steward-go/pkg/core/message"
	"github.com/easyops/steward-go/pkg/otel"
	"github.com/easyops/steward-go/pkg/runner"
	"github.com/easyops/steward-go/pkg/store"
)

// stubClient 记录调用并返回预设响应
type stubClient struct {
	available bool
	response  runner.ChatResponse
	err       error

	calls     int
	gotMsgs   []message.Message
	gotMaxOut int
	gotTemp   float64
}

func (c *stubClient) Available(_ context.Context) bool {
	return c.available
}

func (c *stubClient) SendChat(_ context.Context, messages []message.Message, maxOutputTokens int, temperature float64) (runner.ChatResponse, error) {
	c.calls++
	c.gotMsgs = messages
	c.gotMaxOut = maxOutputTokens
	c.gotTemp = temperature
	if c.err != nil {
		return runner.ChatResponse{}, c.err
	}
	return c.response, nil
}

func newTestRunner(t *testing.T, client *stubClient, opts ...runner.RunnerOption) (*runner.Runner, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	resolver := budget.NewResolver(st)
	builder := budget.NewBuilder(resolver, budget.WithTokenCounter(budget.NewEstimatedCounter()))
	return runner.NewRunner(builder, client, st, opts...), st
}

func simpleInput() *budget.BuildInput {
	return &budget.BuildInput{
		SystemPrompt: "You are the household steward.",
		UserMessage:  "Plan tomorrow's dinner.",
	}
}

func TestRun_Success(t *testing.T) {
	client := &stubClient{
		available: true,
		response: runner.ChatResponse{
			Content: "Roast vegetables with rice.",
			Usage:   message.TokenUsage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
		},
	}
	r, st := newTestRunner(t, client)

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.Status != "ok" {
		t.Fatalf("expected status ok, got %s (%s)", result.Status, result.Error)
	}
	if result.Response != "Roast vegetables with rice." {
		t.Fatalf("unexpected response: %s", result.Response)
	}
	if result.RunID == "" {
		t.Fatal("expected run ID to be set")
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", client.calls)
	}
	if client.gotMaxOut != result.Build.ReservedOutputTokens {
		t.Fatalf("expected max output %d, got %d", result.Build.ReservedOutputTokens, client.gotMaxOut)
	}
	if len(client.gotMsgs) != len(result.Build.Messages) {
		t.Fatalf("expected assembled messages to be sent, got %d messages", len(client.gotMsgs))
	}

	record, err := st.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("expected run record, got %v", err)
	}
	if record.Status != "ok" || record.AgentID != "chef" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.EstimatedInputTokens != result.Build.InputTokensEstimated {
		t.Fatalf("expected estimate %d, got %d", result.Build.InputTokensEstimated, record.EstimatedInputTokens)
	}
	if record.MeasuredInputTokens != 40 || record.MeasuredOutputTokens != 12 {
		t.Fatalf("unexpected measured tokens: %d/%d", record.MeasuredInputTokens, record.MeasuredOutputTokens)
	}

	snap, err := st.GetSnapshot(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("expected snapshot, got %v", err)
	}
	if snap.ContextWindowTokens != result.Build.ContextWindowTokens {
		t.Fatalf("expected window %d, got %d", result.Build.ContextWindowTokens, snap.ContextWindowTokens)
	}
	if snap.Headroom != result.Build.Headroom {
		t.Fatalf("expected headroom %d, got %d", result.Build.Headroom, snap.Headroom)
	}
	if snap.Budgets != result.Build.Budgets {
		t.Fatalf("expected budgets %+v, got %+v", result.Build.Budgets, snap.Budgets)
	}
}

func TestRun_BlockedBuildSkipsModel(t *testing.T) {
	client := &stubClient{available: true}
	r, st := newTestRunner(t, client)

	overrides := &budget.Overrides{
		ReservedOutputTokens: 20000,
	}
	result := r.Run(context.Background(), "chef", simpleInput(), overrides)

	if result.Status != "blocked" {
		t.Fatalf("expected status blocked, got %s", result.Status)
	}
	if client.calls != 0 {
		t.Fatalf("expected no model calls, got %d", client.calls)
	}

	record, err := st.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("expected blocked run to be persisted, got %v", err)
	}
	if record.Status != "blocked" || record.Error == "" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRun_ModelErrorPersisted(t *testing.T) {
	client := &stubClient{available: true, err: errors.New("connection refused")}
	r, st := newTestRunner(t, client)

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.Status != "error" {
		t.Fatalf("expected status error, got %s", result.Status)
	}
	if result.Error != "connection refused" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	record, err := st.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("expected run record, got %v", err)
	}
	if record.Status != "error" || record.Error != "connection refused" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

// snapshotFailStore 包装内存存储，让快照写入固定失败
type snapshotFailStore struct {
	*store.MemoryStore
}

func (s *snapshotFailStore) SaveSnapshot(_ context.Context, _ *store.ContextSnapshot) error {
	return errors.New("disk full")
}

func TestRun_SnapshotSaveFailureKeepsResult(t *testing.T) {
	p := otel.MustInit(otel.Config{
		Enabled:     true,
		ServiceName: "steward-test",
		Metrics:     otel.MetricsConfig{Enabled: true, Exporter: otel.ExporterNone},
	})
	mem, ok := p.Metrics().(*otel.InMemoryMetrics)
	if !ok {
		t.Fatalf("expected in-memory metrics, got %T", p.Metrics())
	}
	before := mem.GetCounterValue(otel.MetricStoreWriteFails)

	st := &snapshotFailStore{MemoryStore: store.NewMemoryStore()}
	resolver := budget.NewResolver(st.MemoryStore)
	builder := budget.NewBuilder(resolver, budget.WithTokenCounter(budget.NewEstimatedCounter()))
	client := &stubClient{available: true, response: runner.ChatResponse{Content: "ok"}}
	r := runner.NewRunner(builder, client, st)

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.Status != "ok" {
		t.Fatalf("expected status ok despite snapshot failure, got %s (%s)", result.Status, result.Error)
	}
	if result.Response != "ok" {
		t.Fatalf("unexpected response: %s", result.Response)
	}
	if _, err := st.GetRun(context.Background(), result.RunID); err != nil {
		t.Fatalf("expected run record despite snapshot failure, got %v", err)
	}
	if got := mem.GetCounterValue(otel.MetricStoreWriteFails) - before; got != 1 {
		t.Fatalf("expected 1 store write failure recorded, got %d", got)
	}
}

func TestRun_UnavailableProvider(t *testing.T) {
	client := &stubClient{available: false}
	r, _ := newTestRunner(t, client, runner.WithAvailabilityProbe())

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.Status != "error" {
		t.Fatalf("expected status error, got %s", result.Status)
	}
	if result.Error != "provider unavailable" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if client.calls != 0 {
		t.Fatalf("expected no model calls, got %d", client.calls)
	}
}

func TestRun_ProbeDisabledByDefault(t *testing.T) {
	client := &stubClient{available: false, response: runner.ChatResponse{Content: "ok"}}
	r, _ := newTestRunner(t, client)

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.Status != "ok" {
		t.Fatalf("expected status ok, got %s (%s)", result.Status, result.Error)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", client.calls)
	}
}

func TestRun_TemperaturePassedThrough(t *testing.T) {
	client := &stubClient{available: true, response: runner.ChatResponse{Content: "ok"}}
	r, _ := newTestRunner(t, client, runner.WithTemperature(0.3))

	r.Run(context.Background(), "chef", simpleInput(), nil)

	if client.gotTemp != 0.3 {
		t.Fatalf("expected temperature 0.3, got %f", client.gotTemp)
	}
}

func TestRun_ResponseModelOverridesTier(t *testing.T) {
	client := &stubClient{
		available: true,
		response: runner.ChatResponse{
			Content:   "done",
			ModelUsed: "gpt-4o-mini",
			Provider:  "openai",
		},
	}
	r, _ := newTestRunner(t, client)

	result := r.Run(context.Background(), "chef", simpleInput(), nil)

	if result.ModelUsed != "gpt-4o-mini" {
		t.Fatalf("expected response model to win, got %s", result.ModelUsed)
	}
	if result.RoutingTier != runner.TierStandard {
		t.Fatalf("expected standard tier for mini model, got %s", result.RoutingTier)
	}
}

func TestTotalUsage(t *testing.T) {
	records := []*store.RunRecord{
		{MeasuredInputTokens: 40, MeasuredOutputTokens: 12},
		{MeasuredInputTokens: 10, MeasuredOutputTokens: 5},
		{},
	}

	total := runner.TotalUsage(records)

	if total.PromptTokens != 50 || total.CompletionTokens != 17 {
		t.Fatalf("unexpected totals: %d in / %d out", total.PromptTokens, total.CompletionTokens)
	}
	if total.TotalTokens != 67 {
		t.Fatalf("expected total 67, got %d", total.TotalTokens)
	}
	if total.IsEmpty() {
		t.Fatal("expected non-empty aggregate usage")
	}
	empty := runner.TotalUsage(nil)
	if !empty.IsEmpty() {
		t.Fatal("expected empty aggregate for no records")
	}
}

func TestRun_RoutingTier(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", runner.TierPremium},
		{"gpt-4o-mini", runner.TierStandard},
		{"gpt-3.5-turbo", runner.TierStandard},
		{"claude-small", runner.TierStandard},
		{"deepseek-chat", runner.TierPremium},
		{"", runner.TierPremium},
	}

	// 空模型名不覆盖档案里的模型，档案默认 gpt-4o
	for _, tt := range tests {
		client := &stubClient{available: true, response: runner.ChatResponse{Content: "ok", ModelUsed: tt.model}}
		r, _ := newTestRunner(t, client)
		result := r.Run(context.Background(), "chef", simpleInput(), nil)
		if result.RoutingTier != tt.want {
			t.Errorf("model %q: tier = %s, want %s", tt.model, result.RoutingTier, tt.want)
		}
	}
}
