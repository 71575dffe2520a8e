package shardconn

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrClosed 多路连接已关闭
	ErrClosed = xerrors.New("shardconn: connection closed")

	// ErrSessionOpen 无法打开分片物理会话
	ErrSessionOpen = xerrors.New("shardconn: open shard session")

	// ErrNoWorkingSet 执行语句前未选择工作集
	ErrNoWorkingSet = xerrors.New("shardconn: working set is empty")

	// ErrRowRejected 广播插入被所有成员拒绝
	ErrRowRejected = xerrors.New("shardconn: row rejected by every member")
)
