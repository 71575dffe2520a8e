package topology

import (
	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/metrics"
)

// DefaultChannel Redis 失效广播的默认频道
const DefaultChannel = "fedgate:topology:invalidate"

// Option 配置 Registry 与 RedisInvalidator 的选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	cacheSize int
	channel   string
}

func defaultOptions() *options {
	return &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		cacheSize: 1024,
		channel:   DefaultChannel,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger 注入日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("topology")
		}
	}
}

// WithMeter 注入指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithCacheSize 设置缓存可容纳的联邦数量上限
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithChannel 设置 Redis 失效广播的频道
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel != "" {
			o.channel = channel
		}
	}
}
