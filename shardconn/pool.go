package shardconn

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/breaker"
	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/xerrors"
)

// MemberOpener 按成员位置打开并连接一个 SQL 连接器，返回的连接器归 PoolSet 所有
type MemberOpener func(ctx context.Context, location string) (connector.SQLConnector, error)

// PoolSet 进程内共享的连接池集合：根库连接池，以及按成员位置惰性创建的连接池
//
// 位置为空的成员（azure 方言）与根库共用同一个连接池，依靠定位指令切换成员。
type PoolSet struct {
	root    connector.SQLConnector
	dialect dialect.Dialect
	opener  MemberOpener
	breaker breaker.Breaker
	logger  clog.Logger
	gauge   metrics.Gauge

	mu     sync.Mutex
	pools  map[string]connector.SQLConnector
	closed bool
}

// NewPoolSet 创建连接池集合，root 必须已连接
func NewPoolSet(root connector.SQLConnector, d dialect.Dialect, opener MemberOpener, opts ...Option) (*PoolSet, error) {
	if root == nil || d == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "shardconn: root connector and dialect are required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	gauge, err := o.meter.Gauge(MetricShardSessions, "open physical shard sessions")
	if err != nil {
		return nil, xerrors.Wrap(err, "shardconn: create gauge")
	}
	return &PoolSet{
		root:    root,
		dialect: d,
		opener:  opener,
		breaker: o.breaker,
		logger:  o.logger,
		gauge:   gauge,
		pools:   make(map[string]connector.SQLConnector),
	}, nil
}

// Dialect 返回存储方言
func (p *PoolSet) Dialect() dialect.Dialect {
	return p.dialect
}

// Root 返回根库连接池
func (p *PoolSet) Root() *gorm.DB {
	return p.root.GetClient()
}

// Pool 返回目标所在的连接池，成员连接池在首次使用时创建
func (p *PoolSet) Pool(ctx context.Context, target federation.ShardTarget) (*gorm.DB, error) {
	if target.IsRoot() || target.Location == "" {
		db := p.root.GetClient()
		if db == nil {
			return nil, connector.ErrClientNil
		}
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if conn, ok := p.pools[target.Location]; ok {
		return conn.GetClient(), nil
	}
	if p.opener == nil {
		return nil, fmt.Errorf("%w: no opener for member location of %s", ErrSessionOpen, target)
	}
	conn, err := p.opener(ctx, target.Location)
	if err != nil {
		return nil, err
	}
	p.pools[target.Location] = conn
	p.logger.InfoContext(ctx, "member pool opened", clog.Stringer("target", target))
	return conn.GetClient(), nil
}

// openSession 在目标上打开一个物理会话并执行定位指令
func (p *PoolSet) openSession(ctx context.Context, target federation.ShardTarget, fed *federation.Federation) (*session, error) {
	open := func() (any, error) {
		pool, err := p.Pool(ctx, target)
		if err != nil {
			return nil, err
		}
		return newSession(ctx, pool, target, p.dialect, fed)
	}

	var (
		v   any
		err error
	)
	if p.breaker != nil {
		v, err = p.breaker.Execute(ctx, target.Key(), open)
	} else {
		v, err = open()
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to open shard session", clog.Stringer("target", target), clog.Error(err))
		return nil, fmt.Errorf("%w %s: %w", ErrSessionOpen, target, err)
	}
	p.gauge.Inc(ctx, metrics.L("federation", federationLabel(target)))
	return v.(*session), nil
}

func (p *PoolSet) releaseSession(ctx context.Context, s *session) error {
	err := s.close(ctx)
	p.gauge.Dec(ctx, metrics.L("federation", federationLabel(s.target)))
	return err
}

// Close 关闭所有成员连接池，根库连接器由调用方管理
func (p *PoolSet) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for location, conn := range p.pools {
		if err := conn.Close(); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "close member pool %s", location))
		}
	}
	p.pools = nil
	return xerrors.Combine(errs...)
}

func federationLabel(t federation.ShardTarget) string {
	if t.IsRoot() {
		return federation.RootKey
	}
	return t.Federation
}
