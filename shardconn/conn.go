// Package shardconn 提供多路复用连接：对外表现为一个连接，
// 内部按 (联邦, 成员) 惰性持有多个物理会话，外加一个始终打开的根库会话。
//
// 典型用法：
//
//	conn, _ := shardconn.Open(ctx, shardconn.Deps{Resolver: r, Replication: rc, Pools: pools, Mapping: reg})
//	defer conn.Close()
//
//	_, _ = conn.SelectWriteSet(ctx, "orders", 7)
//	n, _ := conn.Prepare("INSERT INTO orders (id, customer_id) VALUES (?, ?)").ExecUpdate(ctx, 1, 7)
//	_ = conn.Commit(ctx)
package shardconn

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/replication"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/schema"
	"github.com/ceyewan/fedgate/xerrors"
)

// Mapping 提供按表注册的分区键提取器
type Mapping interface {
	KeyExtractor(table string) (schema.KeyFunc, bool)
}

// Deps 多路连接依赖的共享组件
type Deps struct {
	Resolver    *routing.Resolver
	Replication *replication.Coordinator
	Pools       *PoolSet
	Mapping     Mapping // 可选
}

// Conn 多路复用连接，不可在多个 goroutine 间并发执行语句；
// Session 可以在持有期间由不同 goroutine 分别使用不同分片的会话
type Conn struct {
	deps   Deps
	logger clog.Logger

	mu       sync.Mutex
	root     *session
	sessions map[string]*session
	order    []string // 打开顺序，提交时按此顺序扇出
	working  []federation.ShardTarget
	closed   bool
}

// Open 创建多路连接并打开根库会话
func Open(ctx context.Context, deps Deps, opts ...Option) (*Conn, error) {
	if deps.Resolver == nil || deps.Pools == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "shardconn: resolver and pools are required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	root, err := deps.Pools.openSession(ctx, federation.Root(), nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		deps:     deps,
		logger:   o.logger,
		root:     root,
		sessions: make(map[string]*session),
	}, nil
}

// SelectWorkingSet 按读路由重新计算工作集，value 为 nil 表示广播
func (c *Conn) SelectWorkingSet(ctx context.Context, table string, value any) ([]federation.ShardTarget, error) {
	targets, err := c.deps.Resolver.ResolveForRead(ctx, table, value)
	if err != nil {
		return nil, err
	}
	return targets, c.SelectTargets(ctx, targets)
}

// SelectWriteSet 按写路由重新计算工作集
func (c *Conn) SelectWriteSet(ctx context.Context, table string, value any) ([]federation.ShardTarget, error) {
	targets, err := c.deps.Resolver.ResolveForWrite(ctx, table, value)
	if err != nil {
		return nil, err
	}
	return targets, c.SelectTargets(ctx, targets)
}

// SelectTargets 直接设置工作集，尚未连接的目标会立即打开会话
func (c *Conn) SelectTargets(ctx context.Context, targets []federation.ShardTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, t := range targets {
		if _, err := c.sessionLocked(ctx, t); err != nil {
			return err
		}
	}
	c.working = append([]federation.ShardTarget(nil), targets...)
	return nil
}

// WorkingSet 返回当前工作集
func (c *Conn) WorkingSet() []federation.ShardTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]federation.ShardTarget(nil), c.working...)
}

// Opened 返回这个连接上打开过的全部分片目标（不含根库），按打开顺序
func (c *Conn) Opened() []federation.ShardTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]federation.ShardTarget, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.sessions[key].target)
	}
	return out
}

// Session 返回绑定到目标当前事务的 GORM 会话，必要时打开物理会话
func (c *Conn) Session(ctx context.Context, target federation.ShardTarget) (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s, err := c.sessionLocked(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.db(ctx)
}

func (c *Conn) sessionLocked(ctx context.Context, target federation.ShardTarget) (*session, error) {
	if target.IsRoot() {
		return c.root, nil
	}
	if s, ok := c.sessions[target.Key()]; ok {
		return s, nil
	}

	fed, ok := c.deps.Resolver.Catalog().Federation(target.Federation)
	if !ok {
		return nil, fmt.Errorf("%w: unknown federation %s", ErrSessionOpen, target.Federation)
	}
	s, err := c.deps.Pools.openSession(ctx, target, fed)
	if err != nil {
		return nil, err
	}
	c.sessions[target.Key()] = s
	c.order = append(c.order, target.Key())
	c.logger.DebugContext(ctx, "shard session opened", clog.Stringer("target", target))
	return s, nil
}

// Commit 提交这个连接上打开过的每一个会话，根库最后提交
func (c *Conn) Commit(ctx context.Context) error {
	return xerrors.WithCode(c.fanOut(ctx, "commit", (*session).commit), xerrors.CodeCommitFanout)
}

// Rollback 回滚这个连接上打开过的每一个会话，根库最后回滚
func (c *Conn) Rollback(ctx context.Context) error {
	return c.fanOut(ctx, "rollback", (*session).rollback)
}

func (c *Conn) fanOut(ctx context.Context, op string, fn func(*session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var errs []error
	for _, key := range c.order {
		if err := fn(c.sessions[key]); err != nil {
			c.logger.ErrorContext(ctx, "shard "+op+" failed", clog.String("target", key), clog.Error(err))
			errs = append(errs, xerrors.Wrapf(err, "%s %s", op, key))
		}
	}
	if err := fn(c.root); err != nil {
		c.logger.ErrorContext(ctx, "root "+op+" failed", clog.Error(err))
		errs = append(errs, xerrors.Wrapf(err, "%s %s", op, federation.RootKey))
	}
	return xerrors.Combine(errs...)
}

// Close 回滚未提交的工作并释放全部物理会话，重复调用无副作用
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx := context.Background()
	var errs []error
	for _, key := range c.order {
		if err := c.deps.Pools.releaseSession(ctx, c.sessions[key]); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "close %s", key))
		}
	}
	if err := c.deps.Pools.releaseSession(ctx, c.root); err != nil {
		errs = append(errs, xerrors.Wrapf(err, "close %s", federation.RootKey))
	}
	c.sessions = nil
	c.order = nil
	c.working = nil
	return xerrors.Combine(errs...)
}
