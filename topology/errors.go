package topology

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrUnknownFederation 联邦没有在目录中配置
	ErrUnknownFederation = xerrors.Wrap(xerrors.ErrNotFound, "topology: unknown federation")

	// ErrDiscovery 查询成员边界失败
	ErrDiscovery = xerrors.New("topology: member discovery failed")
)
