package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/easyops/steward-go/pkg/core/message"
)

// 组装时使用的分量块标题。
const (
	memoryHeader    = "[Memory]"
	retrievalHeader = "[Retrieval]"
	toolHeader      = "[Tool Results]"
)

// truncationMarker 标记工具输出的头尾截断位置。
const truncationMarker = "...(truncated)..."

// maxTruncateProbes 是二分截断的探测次数上限。
// 固定上限保证终止，也让最坏情况的代价一目了然。
const maxTruncateProbes = 18

// 工具输出头尾截断保留的行数。
const (
	toolHeadLines = 3
	toolTailLines = 6
)

// groupTurns 把历史消息按用户消息边界分轮：
// 一轮 = 一条用户消息加上到下一条用户消息之前的全部消息。
// 首条用户消息之前的消息自成最旧的一轮，最先被丢弃。
func groupTurns(history []message.Message) [][]message.Message {
	var turns [][]message.Message
	var current []message.Message

	for _, msg := range history {
		if msg.Role == message.RoleUser && len(current) > 0 {
			turns = append(turns, current)
			current = nil
		}
		current = append(current, msg)
	}
	if len(current) > 0 {
		turns = append(turns, current)
	}

	return turns
}

// flattenTurns 把轮还原为消息序列。
func flattenTurns(turns [][]message.Message) []message.Message {
	var out []message.Message
	for _, turn := range turns {
		out = append(out, turn...)
	}
	return out
}

// trimHistory 在超出预算时从最旧的整轮开始逐轮丢弃，
// 从不拆轮。只有实际丢弃了至少一轮才返回动作记录。
func trimHistory(counter TokenCounter, history []message.Message, budget int) ([]message.Message, int, *TrimmingAction) {
	if len(history) == 0 {
		return nil, 0, nil
	}

	before := counter.CountMessages(history)
	if before <= budget {
		return history, before, nil
	}

	turns := groupTurns(history)
	dropped := 0
	for len(turns) > 0 && counter.CountMessages(flattenTurns(turns)) > budget {
		turns = turns[1:]
		dropped++
	}

	kept := flattenTurns(turns)
	after := counter.CountMessages(kept)

	return kept, after, &TrimmingAction{
		Action:       ActionDropHistory,
		BeforeTokens: before,
		AfterTokens:  after,
		DroppedTurns: dropped,
	}
}

// renderItem 渲染单个条目为 "[id] content"。
func renderItem(item Item) string {
	return "[" + item.ID + "] " + item.Content
}

// assembleBlock 把标题和条目拼成一个文本块。
func assembleBlock(header string, lines []string) string {
	return header + "\n" + strings.Join(lines, "\n")
}

// reduceRetrieval 先从列表末尾（优先级最低）逐条丢弃，
// 但只要原本有条目就至少保留一条；仍超预算时对最后这条
// 做二分前缀截断。返回块文本、保留的标识和动作记录。
func reduceRetrieval(counter TokenCounter, items []Item, budget int) (string, []string, *TrimmingAction) {
	if len(items) == 0 {
		return "", nil, nil
	}

	render := func(kept []Item) string {
		lines := make([]string, 0, len(kept))
		for _, item := range kept {
			lines = append(lines, renderItem(item))
		}
		return assembleBlock(retrievalHeader, lines)
	}

	block := render(items)
	before := counter.Count(block)
	if before <= budget {
		return block, itemIDs(items), nil
	}

	kept := items
	var droppedIDs []string
	for len(kept) > 1 && counter.Count(render(kept)) > budget {
		droppedIDs = append(droppedIDs, kept[len(kept)-1].ID)
		kept = kept[:len(kept)-1]
	}

	block = render(kept)
	if counter.Count(block) > budget {
		// 只剩一条仍然超预算：对其内容做二分前缀截断
		last := kept[len(kept)-1]
		prefix := assembleBlock(retrievalHeader, nil) + "[" + last.ID + "] "
		bodyBudget := budget - counter.Count(prefix)
		truncated := truncateToTokens(last.Content, bodyBudget, counter)
		kept = []Item{{ID: last.ID, Content: truncated}}
		block = render(kept)
	}

	after := counter.Count(block)
	return block, itemIDs(kept), &TrimmingAction{
		Action:       ActionReduceRetrieval,
		BeforeTokens: before,
		AfterTokens:  after,
		DroppedIDs:   droppedIDs,
	}
}

// truncateToolOutputs 以截断为先：超出均摊份额的条目先做
// 头尾截断（保留前 toolHeadLines 行和后 toolTailLines 行，
// 中间插入显式截断标记），仍超则退回二分字符截断。
// 条目本身从不丢弃。
func truncateToolOutputs(counter TokenCounter, items []Item, budget int) (string, []string, *TrimmingAction) {
	if len(items) == 0 {
		return "", nil, nil
	}

	render := func(list []Item) string {
		lines := make([]string, 0, len(list))
		for _, item := range list {
			lines = append(lines, renderItem(item))
		}
		return assembleBlock(toolHeader, lines)
	}

	block := render(items)
	before := counter.Count(block)
	if before <= budget {
		return block, itemIDs(items), nil
	}

	headerCost := counter.Count(toolHeader + "\n")
	fairShare := (budget - headerCost) / len(items)
	if fairShare < 1 {
		fairShare = 1
	}

	truncated := make([]Item, len(items))
	copy(truncated, items)

	for i, item := range truncated {
		rendered := renderItem(item)
		if counter.Count(rendered) <= fairShare {
			continue
		}

		content := headTailLines(item.Content, toolHeadLines, toolTailLines)
		truncated[i].Content = content

		if counter.Count(renderItem(truncated[i])) > fairShare {
			prefixCost := counter.Count("[" + item.ID + "] ")
			truncated[i].Content = truncateToTokens(content, fairShare-prefixCost, counter)
		}
	}

	block = render(truncated)
	if counter.Count(block) > budget {
		// 分隔符等固定开销导致的溢出：对块体做最后的二分截断
		body := strings.TrimPrefix(block, toolHeader+"\n")
		block = toolHeader + "\n" + truncateToTokens(body, budget-headerCost, counter)
	}

	after := counter.Count(block)
	return block, itemIDs(truncated), &TrimmingAction{
		Action:       ActionTruncateTools,
		BeforeTokens: before,
		AfterTokens:  after,
	}
}

// summarizeMemory 分级压缩记忆文本：先合并为单行；仍超预算
// 且句子数 >= 3 时保留前两句加最后一句；最后退回二分截断。
func summarizeMemory(counter TokenCounter, memoryText string, budget int) (string, *TrimmingAction) {
	if memoryText == "" {
		return "", nil
	}

	render := func(text string) string {
		return memoryHeader + "\n" + text
	}

	before := counter.Count(render(memoryText))
	if before <= budget {
		return render(memoryText), nil
	}

	// 第一级：空白折叠为单行
	text := strings.Join(strings.Fields(memoryText), " ")

	// 第二级：头尾摘要
	if counter.Count(render(text)) > budget {
		sentences := splitSentences(text)
		if len(sentences) >= 3 {
			text = strings.TrimSpace(sentences[0] + " " + sentences[1] + " " + sentences[len(sentences)-1])
		}
	}

	// 第三级：二分截断兜底
	if counter.Count(render(text)) > budget {
		bodyBudget := budget - counter.Count(memoryHeader+"\n")
		text = truncateToTokens(text, bodyBudget, counter)
	}

	block := render(text)
	return block, &TrimmingAction{
		Action:       ActionSummarizeMemory,
		BeforeTokens: before,
		AfterTokens:  counter.Count(block),
	}
}

// truncateToTokens 用有界二分查找返回 text 中能放进 budget
// 的最长前缀，尾部空白去除。预算不足时返回空串。
func truncateToTokens(text string, budget int, counter TokenCounter) string {
	if budget <= 0 {
		return ""
	}
	if counter.Count(text) <= budget {
		return text
	}

	lo, hi, best := 0, len(text), 0
	for probe := 0; probe < maxTruncateProbes && lo <= hi; probe++ {
		mid := runeBoundary(text, (lo+hi)/2)
		if counter.Count(text[:mid]) <= budget {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	return strings.TrimRight(text[:best], " \t\r\n")
}

// runeBoundary 把切割点回退到最近的 UTF-8 字符边界。
func runeBoundary(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// headTailLines 保留文本的前 head 行和后 tail 行，
// 中间以截断标记替代。行数不足时原样返回。
func headTailLines(text string, head, tail int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= head+tail {
		return text
	}

	out := make([]string, 0, head+tail+1)
	out = append(out, lines[:head]...)
	out = append(out, truncationMarker)
	out = append(out, lines[len(lines)-tail:]...)
	return strings.Join(out, "\n")
}

// splitSentences 按句末标点切分文本，保留标点。
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// itemIDs 收集条目标识。
func itemIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// textPreview 取文本的头尾片段作为审计预览。
func textPreview(text string) Preview {
	const edge = 40

	runes := []rune(text)
	if len(runes) <= edge*2 {
		return Preview{Head: text, Tail: ""}
	}

	return Preview{
		Head: string(runes[:edge]),
		Tail: string(runes[len(runes)-edge:]),
	}
}
