package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/easyops/steward-go/pkg/core/message"
)

func TestGroupTurns(t *testing.T) {
	history := []message.Message{
		{Role: message.RoleUser, Content: "q1"},
		{Role: message.RoleAssistant, Content: "a1"},
		{Role: message.RoleUser, Content: "q2"},
		{Role: message.RoleAssistant, Content: "a2"},
	}
	turns := groupTurns(history)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if len(turns[0]) != 2 || turns[0][0].Content != "q1" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
}

func TestGroupTurns_LeadingAssistant(t *testing.T) {
	history := []message.Message{
		{Role: message.RoleAssistant, Content: "greeting"},
		{Role: message.RoleUser, Content: "q1"},
		{Role: message.RoleAssistant, Content: "a1"},
	}
	turns := groupTurns(history)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0][0].Content != "greeting" {
		t.Fatalf("expected leading messages to form the oldest turn, got %+v", turns[0])
	}
}

func TestGroupTurns_Empty(t *testing.T) {
	if turns := groupTurns(nil); len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestTrimHistory_FitsUntouched(t *testing.T) {
	counter := NewEstimatedCounter()
	history := []message.Message{
		{Role: message.RoleUser, Content: "hi"},
		{Role: message.RoleAssistant, Content: "hello"},
	}
	kept, tokens, action := trimHistory(counter, history, 1000)
	if action != nil {
		t.Fatalf("expected no action, got %+v", action)
	}
	if len(kept) != 2 {
		t.Fatalf("expected all messages kept, got %d", len(kept))
	}
	if tokens != counter.CountMessages(history) {
		t.Fatalf("expected token count %d, got %d", counter.CountMessages(history), tokens)
	}
}

func TestTrimHistory_DropsOldestTurns(t *testing.T) {
	counter := NewEstimatedCounter()
	long := strings.Repeat("w ", 40)
	history := []message.Message{
		{Role: message.RoleUser, Content: long},
		{Role: message.RoleAssistant, Content: long},
		{Role: message.RoleUser, Content: "recent question"},
		{Role: message.RoleAssistant, Content: "recent answer"},
	}

	budget := counter.CountMessages(history[2:]) + 1
	kept, tokens, action := trimHistory(counter, history, budget)
	if action == nil {
		t.Fatal("expected trimming action")
	}
	if action.Action != ActionDropHistory {
		t.Fatalf("expected action %q, got %q", ActionDropHistory, action.Action)
	}
	if action.DroppedTurns != 1 {
		t.Fatalf("expected 1 dropped turn, got %d", action.DroppedTurns)
	}
	if len(kept) != 2 || kept[0].Content != "recent question" {
		t.Fatalf("expected the recent turn kept intact, got %+v", kept)
	}
	if tokens > budget {
		t.Fatalf("kept history %d tokens exceeds budget %d", tokens, budget)
	}
	if action.BeforeTokens <= action.AfterTokens {
		t.Fatalf("expected before > after, got %d <= %d", action.BeforeTokens, action.AfterTokens)
	}
}

func TestReduceRetrieval_FitsUntouched(t *testing.T) {
	counter := NewEstimatedCounter()
	items := []Item{{ID: "r1", Content: "fact one"}, {ID: "r2", Content: "fact two"}}

	block, ids, action := reduceRetrieval(counter, items, 1000)
	if action != nil {
		t.Fatalf("expected no action, got %+v", action)
	}
	if !strings.HasPrefix(block, "[Retrieval]\n") {
		t.Fatalf("expected retrieval header, got %q", block)
	}
	if !strings.Contains(block, "[r1] fact one") || !strings.Contains(block, "[r2] fact two") {
		t.Fatalf("expected rendered items, got %q", block)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 kept ids, got %v", ids)
	}
}

func TestReduceRetrieval_DropsFromEnd(t *testing.T) {
	counter := NewEstimatedCounter()
	items := []Item{
		{ID: "r1", Content: strings.Repeat("a", 40)},
		{ID: "r2", Content: strings.Repeat("b", 40)},
		{ID: "r3", Content: strings.Repeat("c", 40)},
	}

	// Enough for the first item only
	budget := counter.Count("[Retrieval]\n[r1] " + items[0].Content)
	block, ids, action := reduceRetrieval(counter, items, budget)
	if action == nil {
		t.Fatal("expected trimming action")
	}
	if action.Action != ActionReduceRetrieval {
		t.Fatalf("expected action %q, got %q", ActionReduceRetrieval, action.Action)
	}
	if len(action.DroppedIDs) != 2 || action.DroppedIDs[0] != "r3" || action.DroppedIDs[1] != "r2" {
		t.Fatalf("expected drops from the end [r3 r2], got %v", action.DroppedIDs)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("expected only r1 kept, got %v", ids)
	}
	if counter.Count(block) > budget {
		t.Fatalf("block %d tokens exceeds budget %d", counter.Count(block), budget)
	}
}

func TestReduceRetrieval_KeepsAtLeastOne(t *testing.T) {
	counter := NewEstimatedCounter()
	items := []Item{{ID: "only", Content: strings.Repeat("x", 400)}}

	block, ids, action := reduceRetrieval(counter, items, 20)
	if action == nil {
		t.Fatal("expected trimming action")
	}
	if len(ids) != 1 || ids[0] != "only" {
		t.Fatalf("expected the single item kept, got %v", ids)
	}
	if !strings.Contains(block, "[only] ") {
		t.Fatalf("expected truncated item rendered, got %q", block)
	}
	if counter.Count(block) > 20 {
		t.Fatalf("block %d tokens exceeds budget 20", counter.Count(block))
	}
}

func TestTruncateToolOutputs_HeadTail(t *testing.T) {
	counter := NewEstimatedCounter()
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, strings.Repeat("line", 8))
	}
	items := []Item{{ID: "tool-1", Content: strings.Join(lines, "\n")}}

	block, ids, action := truncateToolOutputs(counter, items, 80)
	if action == nil {
		t.Fatal("expected trimming action")
	}
	if action.Action != ActionTruncateTools {
		t.Fatalf("expected action %q, got %q", ActionTruncateTools, action.Action)
	}
	if !strings.Contains(block, truncationMarker) {
		t.Fatalf("expected truncation marker in block, got %q", block)
	}
	if len(ids) != 1 || ids[0] != "tool-1" {
		t.Fatalf("expected item never dropped, got %v", ids)
	}
	if counter.Count(block) > 80 {
		t.Fatalf("block %d tokens exceeds budget 80", counter.Count(block))
	}
}

func TestTruncateToolOutputs_FitsUntouched(t *testing.T) {
	counter := NewEstimatedCounter()
	items := []Item{{ID: "t1", Content: "ok"}}

	block, _, action := truncateToolOutputs(counter, items, 1000)
	if action != nil {
		t.Fatalf("expected no action, got %+v", action)
	}
	if block != "[Tool Results]\n[t1] ok" {
		t.Fatalf("unexpected block: %q", block)
	}
}

func TestSummarizeMemory_FitsUntouched(t *testing.T) {
	counter := NewEstimatedCounter()
	block, action := summarizeMemory(counter, "likes tea", 1000)
	if action != nil {
		t.Fatalf("expected no action, got %+v", action)
	}
	if block != "[Memory]\nlikes tea" {
		t.Fatalf("unexpected block: %q", block)
	}
}

func TestSummarizeMemory_Compresses(t *testing.T) {
	counter := NewEstimatedCounter()
	text := "First sentence about preferences. Second sentence about schedule. " +
		strings.Repeat("Filler detail sentence here. ", 20) +
		"Final important sentence."

	budget := 30
	block, action := summarizeMemory(counter, text, budget)
	if action == nil {
		t.Fatal("expected trimming action")
	}
	if action.Action != ActionSummarizeMemory {
		t.Fatalf("expected action %q, got %q", ActionSummarizeMemory, action.Action)
	}
	if !strings.HasPrefix(block, "[Memory]\n") {
		t.Fatalf("expected memory header, got %q", block)
	}
	if counter.Count(block) > budget {
		t.Fatalf("block %d tokens exceeds budget %d", counter.Count(block), budget)
	}
	if action.AfterTokens > budget {
		t.Fatalf("AfterTokens %d exceeds budget %d", action.AfterTokens, budget)
	}
}

func TestSummarizeMemory_Empty(t *testing.T) {
	counter := NewEstimatedCounter()
	block, action := summarizeMemory(counter, "", 100)
	if block != "" || action != nil {
		t.Fatalf("expected empty result, got %q %+v", block, action)
	}
}

func TestTruncateToTokens(t *testing.T) {
	counter := NewEstimatedCounter()

	if got := truncateToTokens("anything", 0, counter); got != "" {
		t.Fatalf("expected empty string for zero budget, got %q", got)
	}
	if got := truncateToTokens("short", 100, counter); got != "short" {
		t.Fatalf("expected text unchanged when it fits, got %q", got)
	}

	long := strings.Repeat("word ", 100)
	got := truncateToTokens(long, 10, counter)
	if got == "" {
		t.Fatal("expected non-empty prefix")
	}
	if counter.Count(got) > 10 {
		t.Fatalf("truncated text %d tokens exceeds budget 10", counter.Count(got))
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("expected trailing whitespace removed, got %q", got)
	}
}

func TestTruncateToTokens_RuneBoundary(t *testing.T) {
	counter := NewEstimatedCounter()
	text := strings.Repeat("日本語のテキスト", 50)

	got := truncateToTokens(text, 20, counter)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8 after truncation, got %q", got)
	}
	if counter.Count(got) > 20 {
		t.Fatalf("truncated text %d tokens exceeds budget 20", counter.Count(got))
	}
}

func TestHeadTailLines(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, "line")
	}
	text := strings.Join(lines, "\n")

	got := headTailLines(text, 3, 6)
	outLines := strings.Split(got, "\n")
	if len(outLines) != 10 {
		t.Fatalf("expected 10 lines (3 head + marker + 6 tail), got %d", len(outLines))
	}
	if outLines[3] != truncationMarker {
		t.Fatalf("expected marker at position 3, got %q", outLines[3])
	}

	short := "a\nb\nc"
	if got := headTailLines(short, 3, 6); got != short {
		t.Fatalf("expected short text unchanged, got %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three? Four")
	if len(got) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %v", len(got), got)
	}
	if got[0] != "One." || got[3] != "Four" {
		t.Fatalf("unexpected sentences: %v", got)
	}

	cjk := splitSentences("第一句。第二句！第三句？")
	if len(cjk) != 3 {
		t.Fatalf("expected 3 CJK sentences, got %d: %v", len(cjk), cjk)
	}
}
