// Package ddl 在表所在的每个联邦成员上确保表存在。
//
// 表落在哪些成员由联邦目录决定：直接拥有该表的联邦，加上经外键可达的联邦；
// 未映射的表建在根库。每个成员先探测，不存在时才执行方言改写后的建表语句。
package ddl

import (
	"context"
	"strings"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/shardconn"
	"github.com/ceyewan/fedgate/xerrors"
)

// Provisioner 建表器
type Provisioner struct {
	deps   shardconn.Deps
	logger clog.Logger
}

// New 创建建表器，deps 与查询路径共用同一组连接池
func New(deps shardconn.Deps, opts ...Option) *Provisioner {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return &Provisioner{deps: deps, logger: o.logger}
}

// EnsureTable 在表所在的全部成员上创建缺失的表，返回实际建表的目标
//
// 所有成员的建表在一个多路连接中执行，任一成员失败则整体回滚。
func (p *Provisioner) EnsureTable(ctx context.Context, table, createSQL string) ([]federation.ShardTarget, error) {
	table = strings.ToLower(strings.TrimSpace(table))
	if table == "" {
		return nil, ErrEmptyTable
	}
	if strings.TrimSpace(createSQL) == "" {
		return nil, ErrEmptyStatement
	}

	plan, err := p.plan(ctx, table)
	if err != nil {
		return nil, err
	}

	conn, err := shardconn.Open(ctx, p.deps, shardconn.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	d := p.deps.Pools.Dialect()
	var created []federation.ShardTarget
	for _, step := range plan {
		target := step.member.Target()
		if step.fed == nil {
			target = federation.Root()
		}
		session, err := conn.Session(ctx, target)
		if err != nil {
			_ = conn.Rollback(ctx)
			return nil, err
		}
		exists, err := d.TableExists(ctx, session, table)
		if err != nil {
			_ = conn.Rollback(ctx)
			return nil, xerrors.Wrapf(err, "probe %s on %s", table, target)
		}
		if exists {
			continue
		}

		stmt := createSQL
		if step.fed != nil {
			stmt = d.CreateTableStatement(createSQL, step.fed, table, step.member)
		}
		if err := session.Exec(stmt).Error; err != nil {
			_ = conn.Rollback(ctx)
			return nil, xerrors.Wrapf(err, "create %s on %s", table, target)
		}
		p.logger.InfoContext(ctx, "table created", clog.String("table", table), clog.Stringer("target", target))
		created = append(created, target)
	}

	if err := conn.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

type step struct {
	fed    *federation.Federation
	member federation.Member
}

// plan 列出表所在的全部成员，fed 为空的步骤表示根库
func (p *Provisioner) plan(ctx context.Context, table string) ([]step, error) {
	direct, reachable := p.deps.Resolver.Federations(table)
	feds := append(append([]*federation.Federation{}, direct...), reachable...)
	if len(feds) == 0 {
		return []step{{}}, nil
	}

	var steps []step
	for _, fed := range feds {
		members, err := p.deps.Resolver.Topology().Members(ctx, fed.Name)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			steps = append(steps, step{fed: fed, member: m})
		}
	}
	return steps, nil
}
