package breaker

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: config is nil")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态
	ErrOpenState = xerrors.Wrap(xerrors.ErrUnavailable, "breaker: circuit breaker is open")
)
