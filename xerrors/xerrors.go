// Package xerrors 提供 meshlink 统一的错误处理工具。
//
// 组件通过 NewCoded 声明带机器可读错误码的哨兵错误，调用方既可以用
// Is 判断具体错误，也可以用 GetCode 按错误码分支：
//
//	var ErrAckTimeout = xerrors.NewCoded("ACK_TIMEOUT", "pubsub: ack timeout")
//
//	if xerrors.GetCode(err) == "ACK_TIMEOUT" { ... }
package xerrors

import (
	"errors"
	"fmt"
)

// 通用错误类别，组件错误可通过 Wrap 挂到这些类别上
var (
	ErrNotFound     = NewCoded("NOT_FOUND", "not found")
	ErrInvalidInput = NewCoded("INVALID_INPUT", "invalid input")
	ErrTimeout      = NewCoded("TIMEOUT", "timeout")
	ErrUnavailable  = NewCoded("UNAVAILABLE", "unavailable")
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

// CodedError 带错误码的错误
type CodedError struct {
	Code  string
	Msg   string
	Cause error
}

// NewCoded 创建带错误码的哨兵错误
func NewCoded(code, msg string) *CodedError {
	return &CodedError{Code: code, Msg: msg}
}

// WithCode 为已有错误附加错误码
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	case e.Msg != "":
		return e.Msg
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	default:
		return fmt.Sprintf("[%s]", e.Code)
	}
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// GetCode 返回错误链上最外层的错误码，没有时返回空字符串
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Must 如果 err 不为 nil 则 panic，仅用于初始化阶段
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// MultiError 合并多个错误
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
	}
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 合并多个错误，忽略 nil
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
	Join   = errors.Join
)
