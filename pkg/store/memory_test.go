package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/easyops/steward-go/pkg/budget"
	coreerrors "github.com/easyops/steward-go/pkg/core/errors"
	"github.com/easyops/steward-go/pkg/store"
)

func testProfile(name string) *budget.BudgetProfile {
	now := time.Now()
	return &budget.BudgetProfile{
		Name:                 name,
		Model:                "gpt-4o",
		Provider:             "openai",
		ContextWindowTokens:  16384,
		ReservedOutputTokens: 1024,
		Budgets:              budget.DefaultBudgets(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestMemoryStore_ProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.PutProfile(ctx, testProfile("chef")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := st.GetProfile(ctx, "chef")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Name != "chef" || got.Model != "gpt-4o" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestMemoryStore_GetProfileNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.GetProfile(context.Background(), "missing")
	if !errors.Is(err, coreerrors.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestMemoryStore_PutProfileOverwrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	st.PutProfile(ctx, testProfile("chef"))
	updated := testProfile("chef")
	updated.Budgets.System = 9999
	st.PutProfile(ctx, updated)

	got, _ := st.GetProfile(ctx, "chef")
	if got.Budgets.System != 9999 {
		t.Fatalf("expected overwrite, got system budget %d", got.Budgets.System)
	}
}

func TestMemoryStore_GetProfileReturnsCopy(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.PutProfile(ctx, testProfile("chef"))

	first, _ := st.GetProfile(ctx, "chef")
	first.Budgets.System = 1

	second, _ := st.GetProfile(ctx, "chef")
	if second.Budgets.System == 1 {
		t.Fatal("expected stored profile to be isolated from caller mutation")
	}
}

func TestMemoryStore_ListProfiles(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.PutProfile(ctx, testProfile("a"))
	st.PutProfile(ctx, testProfile("b"))

	profiles, err := st.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
}

func TestMemoryStore_SaveRunIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	record := &store.RunRecord{
		ID:        "run-1",
		AgentID:   "chef",
		Status:    "ok",
		CreatedAt: time.Now(),
	}
	if err := st.SaveRun(ctx, record); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// A second write with the same ID must not overwrite
	dup := &store.RunRecord{ID: "run-1", AgentID: "chef", Status: "error", CreatedAt: time.Now()}
	if err := st.SaveRun(ctx, dup); err != nil {
		t.Fatalf("expected idempotent write, got %v", err)
	}

	got, err := st.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Status != "ok" {
		t.Fatalf("expected first write to win, got status %s", got.Status)
	}
}

func TestMemoryStore_GetRunNotFound(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	base := time.Now()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		st.SaveRun(ctx, &store.RunRecord{
			ID:        id,
			AgentID:   "chef",
			Status:    "ok",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	st.SaveRun(ctx, &store.RunRecord{
		ID:        "other",
		AgentID:   "gardener",
		Status:    "ok",
		CreatedAt: base,
	})

	runs, err := st.ListRuns(ctx, "chef", 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Fatalf("expected newest first [run-c run-b], got [%s %s]", runs[0].ID, runs[1].ID)
	}
}

func TestMemoryStore_SnapshotIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	snap := &store.ContextSnapshot{
		RunID:               "run-1",
		AgentID:             "chef",
		ContextWindowTokens: 16384,
		Headroom:            500,
		CreatedAt:           time.Now(),
	}
	if err := st.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	dup := &store.ContextSnapshot{RunID: "run-1", AgentID: "chef", Headroom: 1}
	if err := st.SaveSnapshot(ctx, dup); err != nil {
		t.Fatalf("expected idempotent write, got %v", err)
	}

	got, err := st.GetSnapshot(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Headroom != 500 {
		t.Fatalf("expected first write to win, got headroom %d", got.Headroom)
	}
}

func TestNewProfileStore_Memory(t *testing.T) {
	cfg := store.DefaultConfig()
	st, err := store.NewProfileStore(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer st.Close()
	if st == nil {
		t.Fatal("expected store to be non-nil")
	}
}
