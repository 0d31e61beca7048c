package config

import "github.com/ceyewan/meshlink/xerrors"

// ErrValidationFailed 配置校验失败
var ErrValidationFailed = xerrors.NewCoded("CONFIG_INVALID", "configuration validation failed")

// IsValidationError 判断是否为配置校验错误
func IsValidationError(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}
