package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有语义校验错误的公共根，调用方可用 errors.Is 区分读取失败与校验失败。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap 让 FieldError 匹配 ErrInvalidConfig。
func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
