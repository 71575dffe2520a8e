package db

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/schema"
	"github.com/ceyewan/fedgate/shardconn"
)

// Option 配置 DB 实例的选项
type Option func(*options)

// options 内部选项结构
type options struct {
	logger clog.Logger
	meter  metrics.Meter
	tracer trace.TracerProvider
	root   connector.SQLConnector
	redis  connector.RedisConnector
	opener shardconn.MemberOpener
	schema *schema.Registry
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithMeter 注入指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithTracer 注入 TracerProvider（用于 OpenTelemetry trace）
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithRootConnector 注入根库连接器，生命周期由调用方管理
func WithRootConnector(conn connector.SQLConnector) Option {
	return func(o *options) {
		o.root = conn
	}
}

// WithRedisConnector 启用跨进程的拓扑失效广播，连接器由调用方 Connect 与 Close
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redis = conn
	}
}

// WithMemberOpener 自定义按位置打开成员连接的方式，覆盖 Config.Members
func WithMemberOpener(opener shardconn.MemberOpener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

// WithSchema 注入实体映射：分区键提取器与外键关系
func WithSchema(reg *schema.Registry) Option {
	return func(o *options) {
		o.schema = reg
	}
}
