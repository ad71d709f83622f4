package budget_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/easyops/steward-go/pkg/budget"
	coreerrors "github.com/easyops/steward-go/pkg/core/errors"
	"github.com/easyops/steward-go/pkg/core/message"
	"github.com/easyops/steward-go/pkg/store"
)

func newTestBuilder(t *testing.T) (*budget.Builder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	resolver := budget.NewResolver(st)
	builder := budget.NewBuilder(resolver, budget.WithTokenCounter(budget.NewEstimatedCounter()))
	return builder, st
}

func smallInput() *budget.BuildInput {
	return &budget.BuildInput{
		SystemPrompt:    "You are the household steward.",
		DeveloperPrompt: "Answer briefly.",
		Memory:          "The family prefers vegetarian meals.",
		History: []message.Message{
			{ID: "m1", Role: message.RoleUser, Content: "What is for dinner?"},
			{ID: "m2", Role: message.RoleAssistant, Content: "Lentil curry."},
		},
		Retrieval:   []budget.Item{{ID: "doc-1", Content: "Curry recipe steps."}},
		ToolResults: []budget.Item{{ID: "cal-1", Content: "Dinner at 19:00."}},
		UserMessage: "Add a dessert suggestion.",
	}
}

func TestBuild_SmallInputOK(t *testing.T) {
	builder, _ := newTestBuilder(t)
	result := builder.Build(context.Background(), "chef", smallInput(), nil)

	if result.Status != budget.StatusOK {
		t.Fatalf("expected status ok, got %s (%s)", result.Status, result.Error)
	}
	if len(result.TrimmingApplied) != 0 {
		t.Fatalf("expected no trimming, got %+v", result.TrimmingApplied)
	}
	if result.Error != "" {
		t.Fatalf("expected no error, got %s", result.Error)
	}
	if result.Model != "gpt-4o" || result.Provider != "openai" {
		t.Fatalf("unexpected profile snapshot: %s/%s", result.Model, result.Provider)
	}
}

func TestBuild_MessageOrder(t *testing.T) {
	builder, _ := newTestBuilder(t)
	result := builder.Build(context.Background(), "chef", smallInput(), nil)

	msgs := result.Messages
	if len(msgs) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(msgs))
	}

	// system, developer, memory, history x2, retrieval, tools, user
	if msgs[0].Role != message.RoleSystem || msgs[0].Content != "You are the household steward." {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Content != "Answer briefly." {
		t.Fatalf("expected developer prompt second, got %+v", msgs[1])
	}
	if !strings.HasPrefix(msgs[2].Content, "[Memory]\n") {
		t.Fatalf("expected memory block third, got %+v", msgs[2])
	}
	if msgs[3].Content != "What is for dinner?" || msgs[4].Content != "Lentil curry." {
		t.Fatalf("expected history in place, got %+v %+v", msgs[3], msgs[4])
	}
	if !strings.HasPrefix(msgs[5].Content, "[Retrieval]\n") {
		t.Fatalf("expected retrieval block, got %+v", msgs[5])
	}
	if !strings.HasPrefix(msgs[6].Content, "[Tool Results]\n") {
		t.Fatalf("expected tool block, got %+v", msgs[6])
	}
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleUser || last.Content != "Add a dessert suggestion." {
		t.Fatalf("expected user message last, got %+v", last)
	}
}

func TestBuild_EmptyComponentsSkipped(t *testing.T) {
	builder, _ := newTestBuilder(t)
	input := &budget.BuildInput{
		SystemPrompt: "You are the household steward.",
		UserMessage:  "Hello.",
	}
	result := builder.Build(context.Background(), "chef", input, nil)

	if result.Status != budget.StatusOK {
		t.Fatalf("expected status ok, got %s (%s)", result.Status, result.Error)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
}

func TestBuild_Deterministic(t *testing.T) {
	builder, _ := newTestBuilder(t)
	input := smallInput()

	first := builder.Build(context.Background(), "chef", input, nil)
	second := builder.Build(context.Background(), "chef", input, nil)

	if !reflect.DeepEqual(first.Messages, second.Messages) {
		t.Fatal("expected identical message sequences")
	}
	if !reflect.DeepEqual(first.ComponentTokens, second.ComponentTokens) {
		t.Fatalf("expected identical component tokens: %+v vs %+v",
			first.ComponentTokens, second.ComponentTokens)
	}
	if !reflect.DeepEqual(first.TrimmingApplied, second.TrimmingApplied) {
		t.Fatal("expected identical trimming records")
	}
	if first.InputTokensEstimated != second.InputTokensEstimated ||
		first.Headroom != second.Headroom {
		t.Fatal("expected identical token accounting")
	}
}

func TestBuild_AllStagesInOrder(t *testing.T) {
	builder, _ := newTestBuilder(t)

	long := strings.Repeat("detail ", 30)
	input := &budget.BuildInput{
		SystemPrompt: "Steward.",
		Memory:       strings.Repeat("Preference sentence. ", 30),
		History: []message.Message{
			{Role: message.RoleUser, Content: long},
			{Role: message.RoleAssistant, Content: long},
			{Role: message.RoleUser, Content: long},
			{Role: message.RoleAssistant, Content: long},
		},
		Retrieval: []budget.Item{
			{ID: "r1", Content: long},
			{ID: "r2", Content: long},
			{ID: "r3", Content: long},
		},
		ToolResults: []budget.Item{
			{ID: "t1", Content: strings.Repeat("output line\n", 20)},
		},
		UserMessage: "Now?",
	}
	overrides := &budget.Overrides{
		Budgets: map[string]interface{}{
			"system":       500,
			"memory":       15,
			"history":      20,
			"retrieval":    20,
			"toolResults":  20,
			"safetyMargin": 64,
		},
	}

	result := builder.Build(context.Background(), "chef", input, overrides)
	if result.Status != budget.StatusTrimmed {
		t.Fatalf("expected status trimmed, got %s (%s)", result.Status, result.Error)
	}

	want := []string{
		budget.ActionDropHistory,
		budget.ActionReduceRetrieval,
		budget.ActionTruncateTools,
		budget.ActionSummarizeMemory,
	}
	if len(result.TrimmingApplied) != len(want) {
		t.Fatalf("expected %d actions, got %+v", len(want), result.TrimmingApplied)
	}
	for i, action := range result.TrimmingApplied {
		if action.Action != want[i] {
			t.Fatalf("action %d: expected %q, got %q", i, want[i], action.Action)
		}
		if action.AfterTokens > action.BeforeTokens {
			t.Fatalf("action %q grew: %d -> %d",
				action.Action, action.BeforeTokens, action.AfterTokens)
		}
	}
}

func TestBuild_PrefixOverBudgetBlocked(t *testing.T) {
	builder, _ := newTestBuilder(t)
	input := &budget.BuildInput{
		SystemPrompt: strings.Repeat("rule ", 50),
		UserMessage:  "hi",
	}
	overrides := &budget.Overrides{
		Budgets: map[string]interface{}{"system": 10},
	}

	result := builder.Build(context.Background(), "chef", input, overrides)
	if result.Status != budget.StatusBlocked {
		t.Fatalf("expected status blocked, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "immutable prefix over budget") {
		t.Fatalf("expected immutable prefix error, got %q", result.Error)
	}
	if !strings.Contains(result.Error, "system") {
		t.Fatalf("expected error to name the system component, got %q", result.Error)
	}
	if len(result.Messages) != 0 {
		t.Fatalf("expected no messages on blocked build, got %d", len(result.Messages))
	}
}

func TestBuild_CanceledContext(t *testing.T) {
	builder, _ := newTestBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := builder.Build(ctx, "chef", smallInput(), nil)
	if result.Status != budget.StatusError {
		t.Fatalf("expected status error, got %s", result.Status)
	}
	if result.Error != coreerrors.ErrContextCanceled.Error() {
		t.Fatalf("expected context canceled error, got %q", result.Error)
	}
}

func TestBuild_ReservedExhaustsWindow(t *testing.T) {
	builder, _ := newTestBuilder(t)
	overrides := &budget.Overrides{
		ContextWindowTokens:  100,
		ReservedOutputTokens: 100,
	}

	result := builder.Build(context.Background(), "chef", smallInput(), overrides)
	if result.Status != budget.StatusBlocked {
		t.Fatalf("expected status blocked, got %s", result.Status)
	}
	if result.Error == "" {
		t.Fatal("expected a readable error")
	}
}

func TestBuild_NoUsableInputBudget(t *testing.T) {
	builder, _ := newTestBuilder(t)
	// window - reserved - safety margin (256) <= 0
	overrides := &budget.Overrides{
		ContextWindowTokens:  300,
		ReservedOutputTokens: 100,
	}

	result := builder.Build(context.Background(), "chef", smallInput(), overrides)
	if result.Status != budget.StatusBlocked {
		t.Fatalf("expected status blocked, got %s", result.Status)
	}
}

func TestBuild_OverCapacityBlocked(t *testing.T) {
	builder, _ := newTestBuilder(t)
	input := &budget.BuildInput{
		SystemPrompt: strings.Repeat("non-negotiable rule. ", 300),
		UserMessage:  "hi",
	}
	overrides := &budget.Overrides{
		ContextWindowTokens:  1000,
		ReservedOutputTokens: 100,
		Budgets: map[string]interface{}{
			"system":       5000,
			"safetyMargin": 0,
		},
	}

	result := builder.Build(context.Background(), "chef", input, overrides)
	if result.Status != budget.StatusBlocked {
		t.Fatalf("expected status blocked, got %s (%s)", result.Status, result.Error)
	}
	if !strings.Contains(result.Error, "over capacity") {
		t.Fatalf("expected over capacity error, got %q", result.Error)
	}
}

func TestBuild_HeadroomAccounting(t *testing.T) {
	builder, _ := newTestBuilder(t)
	result := builder.Build(context.Background(), "chef", smallInput(), nil)

	if result.Status != budget.StatusOK {
		t.Fatalf("expected status ok, got %s", result.Status)
	}
	wantHeadroom := result.ContextWindowTokens - (result.InputTokensEstimated + result.ReservedOutputTokens)
	if result.Headroom != wantHeadroom {
		t.Fatalf("headroom = %d, want %d", result.Headroom, wantHeadroom)
	}
	if result.Headroom < 0 {
		t.Fatalf("headroom must not be negative, got %d", result.Headroom)
	}
}

func TestBuild_ComponentTokensKeys(t *testing.T) {
	builder, _ := newTestBuilder(t)
	result := builder.Build(context.Background(), "chef", smallInput(), nil)

	for _, key := range []string{
		budget.ComponentSystem, budget.ComponentMemory, budget.ComponentHistory,
		budget.ComponentRetrieval, budget.ComponentToolResults, budget.ComponentUserMessage,
	} {
		if _, ok := result.ComponentTokens[key]; !ok {
			t.Fatalf("missing component token key %q", key)
		}
	}
}

func TestBuild_IncludedSummary(t *testing.T) {
	builder, _ := newTestBuilder(t)
	result := builder.Build(context.Background(), "chef", smallInput(), nil)

	s := result.IncludedSummary
	if s.HistoryTurns != 1 {
		t.Fatalf("expected 1 history turn, got %d", s.HistoryTurns)
	}
	if len(s.HistoryMessageIDs) != 2 || s.HistoryMessageIDs[0] != "m1" {
		t.Fatalf("unexpected history message ids: %v", s.HistoryMessageIDs)
	}
	if len(s.RetrievalIDs) != 1 || s.RetrievalIDs[0] != "doc-1" {
		t.Fatalf("unexpected retrieval ids: %v", s.RetrievalIDs)
	}
	if len(s.ToolResultIDs) != 1 || s.ToolResultIDs[0] != "cal-1" {
		t.Fatalf("unexpected tool ids: %v", s.ToolResultIDs)
	}
	if _, ok := s.Previews[budget.ComponentSystem]; !ok {
		t.Fatal("expected a system preview")
	}
}

func TestBuild_CreatesProfileOnFirstUse(t *testing.T) {
	builder, st := newTestBuilder(t)
	builder.Build(context.Background(), "new-agent", smallInput(), nil)

	profile, err := st.GetProfile(context.Background(), "new-agent")
	if err != nil {
		t.Fatalf("expected profile to be created, got %v", err)
	}
	if profile.Budgets != budget.DefaultBudgets() {
		t.Fatalf("expected default budgets, got %+v", profile.Budgets)
	}
}

func TestBuild_ResolverFailure(t *testing.T) {
	resolver := budget.NewResolver(failingSource{})
	builder := budget.NewBuilder(resolver, budget.WithTokenCounter(budget.NewEstimatedCounter()))

	result := builder.Build(context.Background(), "chef", smallInput(), nil)
	if result.Status != budget.StatusError {
		t.Fatalf("expected status error, got %s", result.Status)
	}
	if result.Error == "" {
		t.Fatal("expected a readable error")
	}
}

func TestBuild_IdempotentOnSmallInput(t *testing.T) {
	builder, _ := newTestBuilder(t)
	input := smallInput()

	result := builder.Build(context.Background(), "chef", input, nil)
	if result.Status != budget.StatusOK {
		t.Fatalf("expected status ok, got %s", result.Status)
	}

	// Feeding the assembled history back through must not trim either
	again := builder.Build(context.Background(), "chef", &budget.BuildInput{
		SystemPrompt:    input.SystemPrompt,
		DeveloperPrompt: input.DeveloperPrompt,
		Memory:          input.Memory,
		History:         input.History,
		Retrieval:       input.Retrieval,
		ToolResults:     input.ToolResults,
		UserMessage:     input.UserMessage,
	}, nil)
	if again.Status != budget.StatusOK || len(again.TrimmingApplied) != 0 {
		t.Fatalf("expected idempotent build, got %s %+v", again.Status, again.TrimmingApplied)
	}
}
