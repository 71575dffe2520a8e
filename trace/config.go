package trace

import "github.com/ceyewan/fedgate/xerrors"

// 导出方式
const (
	BatcherBatch  = "batch"
	BatcherSimple = "simple"
)

// Config 链路追踪配置
type Config struct {
	// ServiceName [必填] 服务名，写入 Resource
	ServiceName string `mapstructure:"service_name"`

	// Endpoint OTLP gRPC 地址（如 Tempo/Jaeger），为空时只生成 span 不导出
	Endpoint string `mapstructure:"endpoint"`

	// Sampler 采样率 [0, 1]，默认 1
	Sampler float64 `mapstructure:"sampler"`

	// Batcher "batch"（默认）或 "simple"
	Batcher string `mapstructure:"batcher"`

	Insecure bool `mapstructure:"insecure"`
}

// DefaultConfig 返回默认配置：全采样、批量导出、不导出
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Sampler:     1.0,
		Batcher:     BatcherBatch,
	}
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "service_name is required")
	}
	if c.Sampler < 0 || c.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sampler must be between 0 and 1, got %v", c.Sampler)
	}
	if c.Batcher != "" && c.Batcher != BatcherBatch && c.Batcher != BatcherSimple {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "batcher must be %q or %q, got %q", BatcherBatch, BatcherSimple, c.Batcher)
	}
	return nil
}
