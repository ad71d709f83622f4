package llm

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/easyops/steward-go/pkg/core/errors"
	"github.com/easyops/steward-go/pkg/core/message"
)

// OpenAIClient OpenAI 客户端
//
// 通过设置 BaseURL 同样适用于 OpenAI 兼容端点
// （DeepSeek、Ollama、vLLM 等）。
type OpenAIClient struct {
	client       *openai.Client
	opts         Options
	providerName string
}

// 编译时检查
var _ Provider = (*OpenAIClient)(nil)

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(options ...Option) (*OpenAIClient, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	if opts.Model == "" {
		return nil, errors.ErrModelRequired
	}
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, errors.ErrAPIKeyRequired
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		opts:         opts,
		providerName: providerNameFor(opts.BaseURL),
	}, nil
}

// NewCompatClient 创建 OpenAI 兼容客户端
//
// 指定提供商名称，用于 DeepSeek、Ollama、vLLM 等
// 自建或第三方端点。
func NewCompatClient(providerName string, options ...Option) (*OpenAIClient, error) {
	c, err := NewOpenAIClient(options...)
	if err != nil {
		return nil, err
	}
	if providerName != "" {
		c.providerName = providerName
	}
	return c, nil
}

// Generate 生成响应
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	chatReq := c.buildChatRequest(req)
	cfg := defaultRetryConfig(c.opts.MaxRetries)

	return withRetry(ctx, cfg, func() (Response, error) {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return Response{}, mapOpenAIError(err)
		}
		return parseResponse(resp)
	})
}

// Name 返回提供商名称
func (c *OpenAIClient) Name() string {
	return c.providerName
}

// Model 返回当前模型名称
func (c *OpenAIClient) Model() string {
	return c.opts.Model
}

// Close 关闭客户端
func (c *OpenAIClient) Close() error {
	return nil
}

// buildChatRequest 构建聊天请求
func (c *OpenAIClient) buildChatRequest(req Request) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(c.opts.Temperature),
		MaxTokens:   c.opts.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if len(req.Stop) > 0 {
		chatReq.Stop = req.Stop
	}
	return chatReq
}

// convertMessages 转换消息格式
func convertMessages(msgs []message.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return result
}

// parseResponse 解析响应
func parseResponse(resp openai.ChatCompletionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, errors.ErrInvalidResponse
	}
	choice := resp.Choices[0]
	return Response{
		ID:      resp.ID,
		Content: choice.Message.Content,
		TokenUsage: message.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// mapOpenAIError 映射 OpenAI 错误到统一错误类型
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return errors.WrapError(errors.ErrInvalidAPIKey, apiErr.Message)
		case http.StatusNotFound:
			return errors.WrapError(errors.ErrModelNotFound, apiErr.Message)
		case http.StatusTooManyRequests:
			return errors.WrapError(errors.ErrRateLimited, apiErr.Message)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return errors.WrapError(errors.ErrProviderUnavailable, apiErr.Message)
			}
		}
		return errors.WrapError(err, "openai api error")
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapError(errors.ErrTimeout, err.Error())
	}
	return errors.WrapError(err, "openai request failed")
}

// providerNameFor 根据地址推断提供商名称
func providerNameFor(baseURL string) string {
	switch {
	case baseURL == "":
		return "openai"
	case strings.Contains(baseURL, "deepseek"):
		return "deepseek"
	case strings.Contains(baseURL, "11434"):
		return "ollama"
	default:
		return "openai-compatible"
	}
}
