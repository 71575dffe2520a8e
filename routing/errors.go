package routing

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrNoTarget 写操作无法解析到目标分片
	ErrNoTarget = xerrors.New("routing: no target shard")

	// ErrUnparseableTable 无法从原生 SQL 中解析出表名
	ErrUnparseableTable = xerrors.Wrap(xerrors.ErrInvalidInput, "routing: cannot determine table")
)
