package breaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/xerrors"
)

// MetricStateChanges 状态变更次数 (Counter)
const MetricStateChanges = "fedgate_breaker_state_changes_total"

type circuitBreaker struct {
	cfg     *Config
	logger  clog.Logger
	changes metrics.Counter

	// 键级熔断器管理
	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg *Config, opt options) (Breaker, error) {
	cb := &circuitBreaker{cfg: cfg, logger: opt.logger}
	if opt.meter != nil {
		changes, err := opt.meter.Counter(MetricStateChanges, "circuit breaker state transitions")
		if err != nil {
			return nil, xerrors.Wrap(err, "breaker: create counter")
		}
		cb.changes = changes
	}
	return cb, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreateBreaker(key).Execute(fn)
	if err != nil && (xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests)) {
		cb.logger.WarnContext(ctx, "circuit breaker open",
			clog.String("key", key),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
	}
	return result, err
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}

	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	switch val.(*gobreaker.CircuitBreaker[any]).State() {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen, nil
	case gobreaker.StateOpen:
		return StateOpen, nil
	default:
		return StateClosed, nil
	}
}

func (cb *circuitBreaker) getOrCreateBreaker(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
	}
	breaker := gobreaker.NewCircuitBreaker[any](settings)

	// 并发创建时以先存入者为准
	actual, _ := cb.breakers.LoadOrStore(key, breaker)
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Info("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", from.String()),
		clog.String("to", to.String()))
	if cb.changes != nil {
		cb.changes.Inc(context.Background(), metrics.L("to", to.String()))
	}
}
