package budget

import (
	"strings"
	"sync"

	"github.com/easyops/steward-go/pkg/core/message"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 定义 Token 计数接口。
type TokenCounter interface {
	// Count 返回给定文本的 Token 数量。
	// 空文本返回 0，实现必须是确定性的。
	Count(text string) int

	// CountMessages 返回消息列表的总 Token 数量，
	// 包括每条消息的封装开销和整个列表的基础开销。
	// 空列表返回 0。
	CountMessages(messages []message.Message) int
}

// 共享的编码器缓存，按模型名缓存 tiktoken 编码器实例。
// 编码器初始化较重，同一模型的所有构建共用一个实例。
var (
	encodingMu    sync.Mutex
	encodingCache = make(map[string]*tiktoken.Tiktoken)
)

// encodingForModel 返回模型对应的编码器（带缓存）。
func encodingForModel(model string) (*tiktoken.Tiktoken, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// 降级到 cl100k_base 编码
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	encodingCache[model] = enc
	return enc, nil
}

// TiktokenCounter 使用 tiktoken 实现精确的 Token 计数。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTiktokenCounter 创建指定模型的 TiktokenCounter。
// 未知模型降级到 cl100k_base 编码（GPT-4、GPT-4o 等使用）。
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	if model == "" {
		model = "gpt-4o"
	}

	encoding, err := encodingForModel(model)
	if err != nil {
		return nil, err
	}

	return &TiktokenCounter{encoding: encoding, model: model}, nil
}

// Count 返回给定文本的 Token 数量。
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages 返回消息列表的总 Token 数量。
// 这会考虑 OpenAI API 中消息格式化的开销。
func (c *TiktokenCounter) CountMessages(messages []message.Message) int {
	if len(messages) == 0 {
		return 0
	}

	// 基于 OpenAI 的 Token 计数指南：
	// https://cookbook.openai.com/examples/how_to_count_tokens_with_tiktoken
	tokensPerMessage := 3 // <|start|>{role}\n{content}<|end|>\n

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += c.Count(string(msg.Role))
		total += c.Count(msg.Content)
	}
	total += 3 // 每个回复都以 <|start|>assistant<|message|> 开头

	return total
}

// EstimatedCounter 使用字符估算实现 Token 计数。
//
// 这是 tiktoken 不可用时的保底方案：普通文本按每 4 字符 1 个
// Token 向上取整，``` 围栏代码块（含围栏标记本身）按每 3 字符
// 1 个 Token 向上取整。纯函数，相同输入永远得到相同计数。
type EstimatedCounter struct{}

// NewEstimatedCounter 创建新的 EstimatedCounter。
func NewEstimatedCounter() *EstimatedCounter {
	return &EstimatedCounter{}
}

const codeFence = "```"

// Count 返回估算的 Token 数量。
func (c *EstimatedCounter) Count(text string) int {
	total := 0
	rest := text

	for {
		start := strings.Index(rest, codeFence)
		if start < 0 {
			total += ceilDiv(len(rest), 4)
			break
		}

		// 围栏之前的普通文本
		total += ceilDiv(len(rest[:start]), 4)
		rest = rest[start:]

		// 查找闭合围栏；未闭合时剩余部分全部按代码计
		end := strings.Index(rest[len(codeFence):], codeFence)
		if end < 0 {
			total += ceilDiv(len(rest), 3)
			break
		}

		block := len(codeFence) + end + len(codeFence)
		total += ceilDiv(block, 3)
		rest = rest[block:]
	}

	return total
}

// CountMessages 返回消息列表的估算 Token 数量。
func (c *EstimatedCounter) CountMessages(messages []message.Message) int {
	if len(messages) == 0 {
		return 0
	}

	tokensPerMessage := 4 // 每条消息的封装开销

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += c.Count(string(msg.Role))
		total += c.Count(msg.Content)
	}
	total += 3 // 回复引导

	return total
}

// ceilDiv 返回 n/d 向上取整，n 为 0 时返回 0。
func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// CounterForModel 返回模型对应的 TokenCounter，
// 优先使用 TiktokenCounter，不可用时降级到 EstimatedCounter。
func CounterForModel(model string) TokenCounter {
	counter, err := NewTiktokenCounter(model)
	if err != nil {
		return NewEstimatedCounter()
	}
	return counter
}

// 编译时接口检查
var _ TokenCounter = (*TiktokenCounter)(nil)
var _ TokenCounter = (*EstimatedCounter)(nil)
