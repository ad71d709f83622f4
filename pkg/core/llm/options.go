package llm

import "time"

// Options LLM 客户端配置选项
type Options struct {
	// APIKey API 密钥
	APIKey string
	// Model 模型名称
	Model string
	// BaseURL 自定义 API 地址（OpenAI 兼容端点使用）
	BaseURL string
	// Timeout 请求超时时间
	Timeout time.Duration
	// MaxRetries 最大重试次数
	MaxRetries int
	// Temperature 默认温度参数
	Temperature float64
	// MaxTokens 默认最大输出 token 数
	MaxTokens int
}

// Option 配置选项函数
type Option func(*Options)

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// WithAPIKey 设置 API 密钥
func WithAPIKey(key string) Option {
	return func(o *Options) {
		o.APIKey = key
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithBaseURL 设置自定义 API 地址
func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTemperature 设置默认温度
func WithTemperature(t float64) Option {
	return func(o *Options) {
		o.Temperature = t
	}
}

// WithMaxTokens 设置默认最大输出 token 数
func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}
