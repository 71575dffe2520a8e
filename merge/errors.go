package merge

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrUnknownColumn 排序键或聚合引用的列不在结果集中
	ErrUnknownColumn = xerrors.Wrap(xerrors.ErrInvalidInput, "merge: unknown column")

	// ErrNotNumeric 求和或平均的值不是数字
	ErrNotNumeric = xerrors.Wrap(xerrors.ErrInvalidInput, "merge: value is not numeric")

	// ErrColumnMismatch 各分片结果集的列不一致
	ErrColumnMismatch = xerrors.Wrap(xerrors.ErrInvalidInput, "merge: shard columns differ")
)
