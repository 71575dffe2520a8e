package routing

import (
	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/schema"
)

// ForeignKeyLookup 提供表的外键关系
type ForeignKeyLookup interface {
	ForeignKeys(table string) []schema.ForeignKey
}

// Option 配置 Resolver 的选项
type Option func(*options)

type options struct {
	logger clog.Logger
	fks    ForeignKeyLookup
}

// WithLogger 注入日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("routing")
		}
	}
}

// WithForeignKeys 启用外键可达性，读写解析会考虑被引用表所在的联邦
func WithForeignKeys(fks ForeignKeyLookup) Option {
	return func(o *options) {
		o.fks = fks
	}
}
