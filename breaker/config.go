package breaker

import "time"

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数（默认：1）
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`

	// Interval 闭合状态下的统计周期（默认：0，不清空统计）
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Timeout 打开状态持续时间（默认：30s），超时后进入半开状态
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// FailureRatio 失败率阈值（默认：0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinimumRequests 触发熔断的最小请求数（默认：3）
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 3
	}
}
