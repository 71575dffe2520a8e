package shardconn

import (
	"github.com/ceyewan/fedgate/breaker"
	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/metrics"
)

// MetricShardSessions 当前打开的分片物理会话数 (Gauge)
const MetricShardSessions = "fedgate_shard_sessions"

// Option 配置 PoolSet 与 Conn 的选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	breaker breaker.Breaker
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 注入日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("shardconn")
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

// WithBreaker 为分片会话的建立加上按目标隔离的熔断保护
func WithBreaker(brk breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = brk
	}
}
