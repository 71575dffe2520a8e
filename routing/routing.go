// Package routing 将 (表, 分区值) 解析为参与操作的分片目标集合。
//
//   - 表未映射到任何联邦：根库
//   - 表在联邦 F 中按键切分且给出分区值：上界 >= 分区值的第一个成员
//   - 表在 F 中本地复制，或读操作未给出分区值：F 的全部成员
//   - 表映射到多个联邦：各联邦结果的并集
//
// 读操作找不到目标时静默回落到根库；写操作从不静默回落，返回 ErrNoTarget。
package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
)

// Topology 提供联邦的有序成员列表
type Topology interface {
	Members(ctx context.Context, federation string) ([]federation.Member, error)
}

// Resolver 路由解析器，无内部可变状态，并发安全
type Resolver struct {
	catalog  *federation.Catalog
	topology Topology
	fks      ForeignKeyLookup
	logger   clog.Logger
}

// New 创建路由解析器
func New(catalog *federation.Catalog, topology Topology, opts ...Option) *Resolver {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return &Resolver{
		catalog:  catalog,
		topology: topology,
		fks:      o.fks,
		logger:   o.logger,
	}
}

// Catalog 返回解析器使用的联邦目录
func (r *Resolver) Catalog() *federation.Catalog {
	return r.catalog
}

// Topology 返回解析器使用的拓扑
func (r *Resolver) Topology() Topology {
	return r.topology
}

// Locate 返回上界 >= v 的第一个成员，members 必须按上界升序
func Locate(members []federation.Member, v federation.Value) (federation.Member, bool) {
	for _, m := range members {
		if m.High.IsPosInfinity() || v.Compare(m.High) <= 0 {
			return m, true
		}
	}
	return federation.Member{}, false
}

// Federations 返回直接拥有该表的联邦，以及经外键可达的联邦
func (r *Resolver) Federations(table string) (direct, reachable []*federation.Federation) {
	direct = r.catalog.FederationsFor(table)
	if r.fks == nil {
		return direct, nil
	}

	seen := make(map[string]bool, len(direct))
	for _, f := range direct {
		seen[f.Name] = true
	}
	visited := map[string]bool{strings.ToLower(table): true}
	queue := []string{strings.ToLower(table)}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, fk := range r.fks.ForeignKeys(current) {
			ref := strings.ToLower(fk.RefTable)
			if visited[ref] {
				continue
			}
			visited[ref] = true
			queue = append(queue, ref)
			for _, f := range r.catalog.FederationsFor(ref) {
				if !seen[f.Name] {
					seen[f.Name] = true
					reachable = append(reachable, f)
				}
			}
		}
	}
	return direct, reachable
}

// ResolveForWrite 返回写操作的目标，每个拥有该表的联邦贡献一个成员（本地复制表贡献全部成员）
//
// 表没有直接映射时才使用外键可达的联邦。value 为 nil 表示没有分区值。
func (r *Resolver) ResolveForWrite(ctx context.Context, table string, value any) ([]federation.ShardTarget, error) {
	direct, reachable := r.Federations(table)
	feds := direct
	if len(feds) == 0 {
		feds = reachable
	}
	if len(feds) == 0 {
		return []federation.ShardTarget{federation.Root()}, nil
	}

	var targets []federation.ShardTarget
	for _, fed := range feds {
		members, err := r.topology.Members(ctx, fed.Name)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: federation %s has no members", ErrNoTarget, fed.Name)
		}

		if fed.IsLocallyReplicated(table) {
			for _, m := range members {
				targets = append(targets, m.Target())
			}
			continue
		}

		if value == nil {
			return nil, fmt.Errorf("%w: table %s requires a partition value in federation %s", ErrNoTarget, table, fed.Name)
		}
		m, err := r.locate(fed, members, value)
		if err != nil {
			return nil, err
		}
		targets = append(targets, m.Target())
	}
	return dedupe(targets), nil
}

// ResolveForRead 返回读操作的目标，直接联邦与外键可达联邦取并集；没有目标时返回根库
func (r *Resolver) ResolveForRead(ctx context.Context, table string, value any) ([]federation.ShardTarget, error) {
	direct, reachable := r.Federations(table)
	feds := append(direct, reachable...)

	var targets []federation.ShardTarget
	for _, fed := range feds {
		members, err := r.topology.Members(ctx, fed.Name)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}

		if value == nil || fed.IsLocallyReplicated(table) {
			for _, m := range members {
				targets = append(targets, m.Target())
			}
			continue
		}
		m, err := r.locate(fed, members, value)
		if err != nil {
			return nil, err
		}
		targets = append(targets, m.Target())
	}

	if len(targets) == 0 {
		r.logger.DebugContext(ctx, "no federation target, reading from root", clog.String("table", table))
		return []federation.ShardTarget{federation.Root()}, nil
	}
	return dedupe(targets), nil
}

func (r *Resolver) locate(fed *federation.Federation, members []federation.Member, raw any) (federation.Member, error) {
	v, err := federation.Coerce(fed.RangeType, raw)
	if err != nil {
		return federation.Member{}, fmt.Errorf("federation %s: %w", fed.Name, err)
	}
	m, ok := Locate(members, v)
	if !ok {
		return federation.Member{}, fmt.Errorf("%w: value %s outside federation %s", ErrNoTarget, v, fed.Name)
	}
	return m, nil
}

func dedupe(targets []federation.ShardTarget) []federation.ShardTarget {
	seen := make(map[string]bool, len(targets))
	out := targets[:0]
	for _, t := range targets {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}
	return out
}
