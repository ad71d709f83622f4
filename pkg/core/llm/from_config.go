package llm

import (
	"fmt"
	"time"

	"github.com/easyops/steward-go/pkg/core/config"
)

// FromConfig 从配置创建 LLM Provider
func FromConfig(cfg config.LLMConfig) (Provider, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []Option{
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, WithAPIKey(cfg.APIKey))
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewOpenAIClient(opts...)
	case config.ProviderDeepSeek:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}
		opts = append(opts, WithBaseURL(baseURL))
		return NewCompatClient("deepseek", opts...)
	case config.ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		opts = append(opts, WithBaseURL(baseURL))
		return NewCompatClient("ollama", opts...)
	case config.ProviderVLLM:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("vllm provider requires base_url")
		}
		opts = append(opts, WithBaseURL(cfg.BaseURL))
		return NewCompatClient("vllm", opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// MustFromConfig 从配置创建 Provider，失败时 panic
func MustFromConfig(cfg config.LLMConfig) Provider {
	provider, err := FromConfig(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create provider from config: %v", err))
	}
	return provider
}

// DefaultConfig 返回默认配置
func DefaultConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderOpenAI,
		Model:      "gpt-4o-mini",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// OllamaDefaultConfig 返回 Ollama 默认配置
func OllamaDefaultConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderOllama,
		Model:      "llama3.2",
		BaseURL:    "http://localhost:11434/v1",
		Timeout:    5 * time.Minute,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// DeepSeekDefaultConfig 返回 DeepSeek 默认配置
func DeepSeekDefaultConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderDeepSeek,
		Model:      "deepseek-chat",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}
