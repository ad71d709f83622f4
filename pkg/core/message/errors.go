package message

import "errors"

// 消息相关错误
var (
	// ErrInvalidRole 无效的消息角色
	ErrInvalidRole = errors.New("invalid message role")
	// ErrEmptyContent 消息内容为空
	ErrEmptyContent = errors.New("empty message content")
)
