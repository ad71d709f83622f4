package runner

import (
	"context"

	"github.com/easyops/steward-go/pkg/core/llm"
	"github.com/easyops/steward-go/pkg/core/message"
)

// ChatResponse 模型调用结果
type ChatResponse struct {
	// Content 响应文本
	Content string
	// ModelUsed 实际使用的模型
	ModelUsed string
	// Provider 实际使用的提供商
	Provider string
	// Usage Token 使用统计
	Usage message.TokenUsage
}

// ChatClient 模型调用客户端接口
//
// Runner 只依赖该接口，测试中用桩实现替换真实提供商。
type ChatClient interface {
	// Available 探测端点是否可用
	Available(ctx context.Context) bool

	// SendChat 发送组装好的消息序列。
	// temperature <= 0 表示使用提供商默认采样温度。
	SendChat(ctx context.Context, messages []message.Message, maxOutputTokens int, temperature float64) (ChatResponse, error)
}

// ProviderClient 将 llm.Provider 适配为 ChatClient
type ProviderClient struct {
	provider llm.Provider
}

// 编译时检查
var _ ChatClient = (*ProviderClient)(nil)

// NewProviderClient 创建提供商适配客户端
func NewProviderClient(provider llm.Provider) *ProviderClient {
	return &ProviderClient{provider: provider}
}

// Available 探测提供商可用性
func (c *ProviderClient) Available(ctx context.Context) bool {
	return llm.CheckAvailability(ctx, c.provider)
}

// SendChat 发送消息序列并返回响应
func (c *ProviderClient) SendChat(ctx context.Context, messages []message.Message, maxOutputTokens int, temperature float64) (ChatResponse, error) {
	req := llm.Request{Messages: messages}
	if maxOutputTokens > 0 {
		req.MaxTokens = &maxOutputTokens
	}
	if temperature > 0 {
		req.Temperature = &temperature
	}

	resp, err := c.provider.Generate(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}

	return ChatResponse{
		Content:   resp.Content,
		ModelUsed: c.provider.Model(),
		Provider:  c.provider.Name(),
		Usage:     resp.TokenUsage,
	}, nil
}
