package llm

import (
	"context"
	"time"

	"github.com/easyops/steward-go/pkg/core/message"
)

// probeTimeout 可用性探测超时
const probeTimeout = 5 * time.Second

// CheckAvailability 探测提供商是否可用
//
// 发送最小化请求验证端点连通性与认证状态。
// 探测失败不区分原因，调用方按不可用处理。
func CheckAvailability(ctx context.Context, p Provider) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	one := 1
	_, err := p.Generate(ctx, Request{
		Messages:  []message.Message{message.NewUserMessage("ping")},
		MaxTokens: &one,
	})
	return err == nil
}
