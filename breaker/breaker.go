// Package breaker 提供按键隔离的熔断器，基于 gobreaker。
//
// fedgate 用它保护分片物理连接的建立：每个分片目标一个独立的熔断器，
// 连续拨号失败后熔断打开，后续拨号快速失败，超时后半开探测恢复。
//
//	brk, _ := breaker.New(&breaker.Config{
//		Timeout:         30 * time.Second,
//		FailureRatio:    0.6,
//		MinimumRequests: 3,
//	}, breaker.WithLogger(logger))
//
//	v, err := brk.Execute(ctx, "FED_1/0", func() (any, error) {
//		return dial(ctx)
//	})
package breaker

import (
	"context"

	"github.com/ceyewan/fedgate/clog"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数，熔断打开时返回 ErrOpenState
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 获取指定键的熔断器状态，从未执行过的键处于 StateClosed
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// New 创建熔断器实例
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	opt.logger.Debug("creating circuit breaker",
		clog.Int("max_requests", int(c.MaxRequests)),
		clog.Duration("timeout", c.Timeout),
		clog.Float64("failure_ratio", c.FailureRatio),
		clog.Int("minimum_requests", int(c.MinimumRequests)))

	return newBreaker(&c, opt)
}
