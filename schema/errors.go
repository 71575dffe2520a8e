package schema

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrUnknownEntity 类型或表没有注册映射
	ErrUnknownEntity = xerrors.Wrap(xerrors.ErrNotFound, "schema: unknown entity")

	// ErrInvalidModel 无法从模型解析出映射
	ErrInvalidModel = xerrors.Wrap(xerrors.ErrInvalidInput, "schema: invalid model")
)
