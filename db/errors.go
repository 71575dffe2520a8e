package db

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "db: invalid config")

	// ErrRootConnectorRequired 根库连接器未提供
	ErrRootConnectorRequired = xerrors.Wrap(xerrors.ErrInvalidInput, "db: root connector is required")

	// ErrMemberDriverRequired catalog 方言下既没有成员连接模板也没有自定义 opener
	ErrMemberDriverRequired = xerrors.Wrap(xerrors.ErrInvalidInput, "db: members.driver or a member opener is required")

	// ErrClosed 组件已关闭
	ErrClosed = xerrors.New("db: closed")
)
