package scatter

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrShardFailed 某个分片任务失败，整个操作失败
	ErrShardFailed = xerrors.New("scatter: shard task failed")

	// ErrNilQuery 查询为空
	ErrNilQuery = xerrors.Wrap(xerrors.ErrInvalidInput, "scatter: query is nil")

	// ErrNoLockStatement 查询未配置加锁或解锁语句
	ErrNoLockStatement = xerrors.Wrap(xerrors.ErrInvalidInput, "scatter: query has no lock statement")
)
