package metrics

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ceyewan/fedgate/clog"
)

// Option 配置 Meter 的选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	readers []sdkmetric.Reader
}

// WithLogger 注入 Logger
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}

// WithReader 附加额外的 Reader，测试中配合 sdkmetric.NewManualReader 读取指标
func WithReader(reader sdkmetric.Reader) Option {
	return func(o *options) {
		o.readers = append(o.readers, reader)
	}
}
