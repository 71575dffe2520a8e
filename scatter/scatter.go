// Package scatter 实现分散-聚合查询：把同一条逻辑查询并发地发往多个分片，
// 再把各分片的结果交给 merge 合并。
//
// 每个分片一个任务，任务在进程内共享的有界工作池上执行；
// 调用方等待全部任务结束（不会提前短路，每个分片都会被尝试），
// 然后按分片顺序检查每个任务的结果。
package scatter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/replication"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/xerrors"
)

// Sessions 按分片目标提供已绑定事务的 GORM 会话，*shardconn.Conn 实现了它
type Sessions interface {
	Session(ctx context.Context, target federation.ShardTarget) (*gorm.DB, error)
}

// Query 一条编译后的逻辑查询
type Query struct {
	SQL string

	// Table 候选实体的表，为空时从 SQL 中解析，此时 Kind 也由解析得出
	Table string
	Kind  routing.StatementKind

	// Value 分区值，nil 表示广播
	Value any

	// Targets 调用方在取数阶段已经确定的目标，非空时跳过路由
	Targets []federation.ShardTarget

	// Merge 合并方式，Range 由 Execute 的参数覆盖
	//
	// 跨联邦复制的表在路由阶段已裁掉兄弟联邦，这类表不需要再设置 Replicated。
	Merge merge.Descriptor

	// LockSQL、UnlockSQL 供 Statement.Lock/Unlock 在同一组分片上执行
	LockSQL   string
	UnlockSQL string
}

// Result 合并后的结果：查询得到 Cursor，写操作得到 Affected
type Result struct {
	Cursor   merge.Cursor
	Affected int64
	Targets  []federation.ShardTarget
}

// Close 关闭结果游标
func (r *Result) Close() error {
	if r == nil || r.Cursor == nil {
		return nil
	}
	return r.Cursor.Close()
}

// outcome 单个分片任务的结果，Ignorable 表示可忽略的所有权拒绝
type outcome struct {
	cursor    merge.Cursor
	affected  int64
	err       error
	ignorable bool
}

// Coordinator 分散-聚合协调器，可被多个 goroutine 共享
type Coordinator struct {
	resolver    *routing.Resolver
	replication *replication.Coordinator
	catalog     *federation.Catalog
	pool        *Pool
	rejector    dialect.Dialect
	logger      clog.Logger
	tracer      trace.Tracer
	tasks       metrics.Counter
	duration    metrics.Histogram
}

// New 创建协调器，replication 可为空（此时读取不裁剪复制目标）
func New(resolver *routing.Resolver, repl *replication.Coordinator, catalog *federation.Catalog, opts ...Option) (*Coordinator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.pool == nil {
		o.pool = NewPool(DefaultPoolSize)
	}

	tasks, err := o.meter.Counter(MetricTasksTotal, "scatter tasks by federation and outcome")
	if err != nil {
		return nil, xerrors.Wrap(err, "scatter: create counter")
	}
	duration, err := o.meter.Histogram(MetricDuration, "scatter-gather execution time", metrics.WithUnit("s"))
	if err != nil {
		return nil, xerrors.Wrap(err, "scatter: create histogram")
	}

	return &Coordinator{
		resolver:    resolver,
		replication: repl,
		catalog:     catalog,
		pool:        o.pool,
		rejector:    o.rejector,
		logger:      o.logger,
		tracer:      o.tracer.Tracer("github.com/ceyewan/fedgate/scatter"),
		tasks:       tasks,
		duration:    duration,
	}, nil
}

// Execute 解析目标分片，并发执行子查询并合并结果
//
// 任一分片的失败（广播插入中的所有权拒绝除外）会使整个操作失败，
// 已打开的分片游标全部关闭。
func (c *Coordinator) Execute(ctx context.Context, sessions Sessions, q *Query, params []any, rng merge.Range) (*Result, error) {
	if q == nil {
		return nil, ErrNilQuery
	}
	table, kind, err := classify(q)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "scatter.Execute", trace.WithAttributes(
		attribute.String("fedgate.table", table),
		attribute.String("fedgate.statement", kind.String()),
	))
	defer span.End()
	start := time.Now()
	defer func() {
		c.duration.Record(ctx, time.Since(start).Seconds(), metrics.L("statement", kind.String()))
	}()

	result, err := c.execute(ctx, sessions, q, table, kind, params, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("fedgate.shards", len(result.Targets)))
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, sessions Sessions, q *Query, table string, kind routing.StatementKind,
	params []any, rng merge.Range) (*Result, error) {
	targets, err := c.targets(ctx, q, table, kind)
	if err != nil {
		return nil, err
	}

	// 会话在调用方 goroutine 中打开，任务只使用各自的会话
	dbs := make([]*gorm.DB, len(targets))
	for i, t := range targets {
		if dbs[i], err = sessions.Session(ctx, t); err != nil {
			return nil, xerrors.WithCode(fmt.Errorf("%w: %s: %w", ErrShardFailed, t, err), xerrors.CodeShardOpen)
		}
	}

	guarded := kind == routing.Insert && len(targets) > 1 && c.rejector != nil
	outcomes := c.scatter(ctx, targets, func(i int) outcome {
		switch {
		case kind == routing.Select:
			rows, err := dbs[i].Raw(q.SQL, params...).Rows()
			if err != nil {
				return outcome{err: err}
			}
			return outcome{cursor: merge.NewRowsCursor(rows)}
		case guarded:
			return c.guardedExec(dbs[i], q.SQL, params)
		default:
			res := dbs[i].Exec(q.SQL, params...)
			return outcome{affected: res.RowsAffected, err: res.Error}
		}
	})

	if err := c.firstFailure(ctx, targets, outcomes); err != nil {
		return nil, err
	}

	if kind != routing.Select {
		return &Result{Affected: affected(outcomes), Targets: targets}, nil
	}

	cursors := make([]merge.Cursor, len(outcomes))
	for i, o := range outcomes {
		cursors[i] = o.cursor
	}
	d := q.Merge
	d.Range = rng
	if len(d.Aggregates) == 0 && !d.NativeAggregate {
		d.NativeAggregate = merge.IsNativeAggregate(q.SQL)
	}
	cursor, err := merge.Merge(cursors, d)
	if err != nil {
		return nil, err
	}
	return &Result{Cursor: cursor, Targets: targets}, nil
}

// scatter 每个目标一个任务，在共享工作池上执行并等待全部结束
func (c *Coordinator) scatter(ctx context.Context, targets []federation.ShardTarget, task func(i int) outcome) []outcome {
	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	for i := range targets {
		g.Go(func() error {
			if err := c.pool.run(ctx, func() { outcomes[i] = task(i) }); err != nil {
				outcomes[i] = outcome{err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range targets {
		result := "ok"
		switch {
		case outcomes[i].ignorable:
			result = "ignored"
		case outcomes[i].err != nil:
			result = "error"
		}
		c.tasks.Inc(ctx, metrics.L("federation", federationLabel(t)), metrics.L("outcome", result))
	}
	return outcomes
}

const broadcastSavepoint = "fedgate_scatter"

// guardedExec 在保存点内执行广播插入，所有权拒绝回滚到保存点并标记为可忽略
func (c *Coordinator) guardedExec(db *gorm.DB, query string, params []any) outcome {
	if err := db.SavePoint(broadcastSavepoint).Error; err != nil {
		return outcome{err: err}
	}
	res := db.Exec(query, params...)
	if res.Error == nil {
		return outcome{affected: res.RowsAffected}
	}
	if !c.rejector.IsOwnershipRejection(res.Error) {
		return outcome{err: res.Error}
	}
	if err := db.RollbackTo(broadcastSavepoint).Error; err != nil {
		return outcome{err: err}
	}
	return outcome{ignorable: true}
}

func (c *Coordinator) firstFailure(ctx context.Context, targets []federation.ShardTarget, outcomes []outcome) error {
	for i, o := range outcomes {
		if o.ignorable {
			c.logger.DebugContext(ctx, "row not owned by member", clog.Stringer("target", targets[i]))
			continue
		}
		if o.err == nil {
			continue
		}
		for _, other := range outcomes {
			if other.cursor != nil {
				_ = other.cursor.Close()
			}
		}
		err := xerrors.WithCode(fmt.Errorf("%w: %s: %w", ErrShardFailed, targets[i], o.err), xerrors.CodeShardFailed)
		c.logger.ErrorContext(ctx, "shard task failed", clog.Stringer("target", targets[i]),
			clog.ErrorWithCode(o.err, xerrors.GetCode(err)))
		return err
	}
	return nil
}

// targets 解析目标分片，读取按 ReadSkipSiblingReplicas 策略裁剪
func (c *Coordinator) targets(ctx context.Context, q *Query, table string, kind routing.StatementKind) ([]federation.ShardTarget, error) {
	targets := q.Targets
	if len(targets) == 0 {
		var err error
		switch {
		case kind != routing.Select && q.Value != nil:
			targets, err = c.resolver.ResolveForWrite(ctx, table, q.Value)
		default:
			targets, err = c.resolver.ResolveForRead(ctx, table, q.Value)
			if err == nil && kind != routing.Select && onlyRoot(targets) && len(c.catalog.FederationsFor(table)) > 0 {
				err = fmt.Errorf("%w: federations of %s have no members", routing.ErrNoTarget, table)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if kind == routing.Select && c.replication != nil {
		crossFederation := len(c.catalog.FederationsFor(table)) > 1
		targets = c.replication.ReadTargets(table, crossFederation, targets)
	}
	return targets, nil
}

func classify(q *Query) (string, routing.StatementKind, error) {
	if q.Table != "" {
		return q.Table, q.Kind, nil
	}
	return routing.Classify(q.SQL)
}

// affected 每个目标都恰好影响 1 行时为 1，否则为各分片之和
func affected(outcomes []outcome) int64 {
	var total int64
	allOne := len(outcomes) > 0
	for _, o := range outcomes {
		total += o.affected
		if o.affected != 1 {
			allOne = false
		}
	}
	if allOne {
		return 1
	}
	return total
}

func onlyRoot(targets []federation.ShardTarget) bool {
	return len(targets) == 1 && targets[0].IsRoot()
}

func federationLabel(t federation.ShardTarget) string {
	if t.IsRoot() {
		return federation.RootKey
	}
	return t.Federation
}
