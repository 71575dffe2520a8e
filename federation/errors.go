package federation

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrUnknownRangeType 无法识别的范围类型名称
	ErrUnknownRangeType = xerrors.Wrap(xerrors.ErrInvalidInput, "federation: unknown range type")

	// ErrInvalidValue 值无法转换为联邦的范围类型
	ErrInvalidValue = xerrors.Wrap(xerrors.ErrInvalidInput, "federation: invalid distribution value")

	// ErrInvalidConfig 联邦配置无效
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "federation: invalid config")
)
