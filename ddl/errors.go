package ddl

import "github.com/ceyewan/fedgate/xerrors"

var (
	// ErrEmptyStatement 建表语句为空
	ErrEmptyStatement = xerrors.Wrap(xerrors.ErrInvalidInput, "ddl: empty create statement")

	// ErrEmptyTable 表名为空
	ErrEmptyTable = xerrors.Wrap(xerrors.ErrInvalidInput, "ddl: empty table name")
)
