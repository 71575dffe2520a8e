package scatter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/metrics"
)

// 指标名称
const (
	MetricTasksTotal = "fedgate_scatter_tasks_total"
	MetricDuration   = "fedgate_scatter_duration_seconds"
)

// Option 配置 Coordinator 的选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	tracer   trace.TracerProvider
	pool     *Pool
	rejector dialect.Dialect
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: otel.GetTracerProvider(),
	}
}

// WithLogger 注入日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("scatter")
		}
	}
}

// WithMeter 注入指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithTracerProvider 注入链路追踪，每次 Execute 一个 span
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithPool 使用共享的有界工作池，未设置时每个 Coordinator 使用 DefaultPoolSize 的私有池
func WithPool(pool *Pool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithDialect 识别广播插入中"行不属于本成员"的错误，未设置时不做识别
func WithDialect(d dialect.Dialect) Option {
	return func(o *options) {
		o.rejector = d
	}
}
