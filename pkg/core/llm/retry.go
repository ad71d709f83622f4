package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/easyops/steward-go/pkg/core/errors"
)

// retryConfig 重试配置
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig 默认重试配置
func defaultRetryConfig(maxRetries int) retryConfig {
	return retryConfig{
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// withRetry 带重试的执行函数
//
// 只对可重试错误（限流、超时、服务端错误）进行重试，
// 致命错误（认证失败、模型不存在）立即返回。
func withRetry(ctx context.Context, cfg retryConfig, fn func() (Response, error)) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, cfg.baseDelay, cfg.maxDelay)
			select {
			case <-ctx.Done():
				return Response{}, errors.WrapError(ctx.Err(), "retry interrupted")
			case <-time.After(delay):
			}
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.IsFatal(err) || !errors.IsRetryable(err) {
			return Response{}, err
		}
	}
	return Response{}, errors.WrapError(lastErr, "max retries exceeded")
}

// calculateBackoff 计算指数退避延迟
//
// 延迟 = baseDelay * 2^(attempt-1)，附加 10% 抖动，上限 maxDelay。
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			return maxDelay
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay) / 10))
	delay += jitter
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
