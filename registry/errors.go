package registry

import "github.com/ceyewan/meshlink/xerrors"

// ErrInvalidInstance 注册信息不合法
var ErrInvalidInstance = xerrors.NewCoded("INVALID_INSTANCE", "registry: invalid service instance")

func wrapInvalid(format string, args ...any) error {
	return xerrors.Wrapf(ErrInvalidInstance, format, args...)
}
