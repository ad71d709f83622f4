package store

import "errors"

// Store errors
var (
	// ErrRunNotFound run 记录未找到
	ErrRunNotFound = errors.New("run record not found")
	// ErrInvalidInput 无效输入
	ErrInvalidInput = errors.New("invalid input")
	// ErrConnectionFailed 连接失败
	ErrConnectionFailed = errors.New("connection failed")
)
