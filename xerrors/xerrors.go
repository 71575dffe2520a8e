// Package xerrors 提供 fedgate 统一的错误处理工具。
//
// 组件通过 Wrap/Wrapf 为错误附加上下文并保留错误链，
// 分片级失败通过 WithCode 附加机器可读的错误码，多个分片的失败由 Combine 合并。
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// 通用哨兵错误，各组件在 errors.go 中基于它们派生自己的错误
var (
	// ErrInvalidInput 参数或配置无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound 目标不存在
	ErrNotFound = errors.New("not found")

	// ErrUnavailable 目标暂时不可用（例如熔断打开）
	ErrUnavailable = errors.New("unavailable")
)

// 错误码
const (
	CodeShardFailed  = "SHARD_FAILED"
	CodeShardOpen    = "SHARD_OPEN"
	CodeCommitFanout = "COMMIT_FANOUT"
)

// Wrap 用上下文信息包装错误，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CodedError 带有错误码的错误
type CodedError struct {
	Code  string
	Cause error
}

// WithCode 为错误附加错误码，已带有相同错误码时原样返回
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	if GetCode(err) == code {
		return err
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "]"
	}
	return "[" + e.Code + "] " + e.Cause.Error()
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// GetCode 返回错误链中最外层的错误码，没有时返回空串
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// MultiError 多个分片各自的失败
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 合并多个错误并忽略 nil；只有一个时原样返回
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
