package connector

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fedgate/clog"
)

type options struct {
	logger         clog.Logger
	tracerProvider trace.TracerProvider
	silent         bool
}

// Option 配置连接器的选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithTracerProvider 为 SQL 与 Redis 客户端启用 OpenTelemetry 追踪
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithSilentSQL 关闭 GORM 的 SQL 日志
func WithSilentSQL() Option {
	return func(o *options) {
		o.silent = true
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = clog.Discard()
	}
	return o
}
