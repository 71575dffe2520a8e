package replication

import (
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/xerrors"
)

var (
	// ErrNoReplica 复制写没有任何成员接受该对象
	ErrNoReplica = xerrors.Wrap(routing.ErrNoTarget, "replication: no member accepts the object")

	// ErrNoPartitionKey 分区表的对象无法求出分区键
	ErrNoPartitionKey = xerrors.Wrap(routing.ErrNoTarget, "replication: partition key unavailable")
)
