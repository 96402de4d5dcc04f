package handler

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrRequestNotFound    = errors.New("匹配请求不存在")
	ErrUserNotFound       = errors.New("用户不存在")
	ErrAlgorithmFailed    = errors.New("匹配算法执行失败")
	ErrCacheWriteFailed   = errors.New("写入匹配结果缓存失败")
	ErrPublishFailed      = errors.New("发布匹配事件失败")
	ErrDatabaseFailed     = errors.New("数据库操作失败")
	ErrResultNotAvailable = errors.New("匹配结果不存在或已过期")
)

// MatchProcessError 包含详细上下文的匹配处理错误
type MatchProcessError struct {
	RequestID string
	Op        string
	BaseErr   error
	Detail    string
}

func (e *MatchProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, RequestID:%s): %s", e.BaseErr, e.Op, e.RequestID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, RequestID:%s)", e.BaseErr, e.Op, e.RequestID)
}

func (e *MatchProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *MatchProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewDatabaseError(requestID, detail string) error {
	return &MatchProcessError{
		RequestID: requestID,
		Op:        "database",
		BaseErr:   ErrDatabaseFailed,
		Detail:    detail,
	}
}

func NewPublishError(requestID, detail string) error {
	return &MatchProcessError{
		RequestID: requestID,
		Op:        "publish",
		BaseErr:   ErrPublishFailed,
		Detail:    detail,
	}
}

func NewUserNotFoundError(requestID string) error {
	return &MatchProcessError{
		RequestID: requestID,
		Op:        "load_user",
		BaseErr:   ErrUserNotFound,
	}
}

func NewAlgorithmError(requestID, detail string) error {
	return &MatchProcessError{
		RequestID: requestID,
		Op:        "calculate",
		BaseErr:   ErrAlgorithmFailed,
		Detail:    detail,
	}
}

func NewCacheError(requestID, detail string) error {
	return &MatchProcessError{
		RequestID: requestID,
		Op:        "cache",
		BaseErr:   ErrCacheWriteFailed,
		Detail:    detail,
	}
}
