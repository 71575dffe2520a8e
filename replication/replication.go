// Package replication 决定复制实体的写入目标与读取目标。
//
// 写与读使用两个不同的策略，二者刻意不合并：
//
//   - WriteOneRepresentativePerFederation：每个拥有该表的联邦写入一个代表目标。
//     表在联邦内本地复制时写入全部（被对象接受的）成员，按键分区时只写入拥有该键的成员。
//   - ReadSkipSiblingReplicas：读取时同一逻辑行只保留一个副本，
//     已访问过的联邦中的本地复制成员与其它联邦中的兄弟副本都会被跳过。
package replication

import (
	"context"
	"fmt"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/schema"
)

// Policy 复制目标的选择策略
type Policy string

const (
	// WriteOneRepresentativePerFederation 复制写：每个联邦一个代表目标
	WriteOneRepresentativePerFederation Policy = "write-one-representative-per-federation"

	// ReadSkipSiblingReplicas 复制读：跳过兄弟副本
	ReadSkipSiblingReplicas Policy = "read-skip-sibling-replicas"
)

// ReplicaFilter 对象可以实现该接口，拒绝写入某些成员
type ReplicaFilter interface {
	AcceptsMember(m federation.Member) bool
}

// Mapping 提供按表注册的分区键提取器
type Mapping interface {
	KeyExtractor(table string) (schema.KeyFunc, bool)
}

// Coordinator 复制协调器，无内部可变状态
type Coordinator struct {
	catalog  *federation.Catalog
	resolver *routing.Resolver
	mapping  Mapping
	logger   clog.Logger
}

// New 创建复制协调器，mapping 可为空（此时对象需实现 schema.PartitionKeyer）
func New(catalog *federation.Catalog, resolver *routing.Resolver, mapping Mapping, opts ...Option) *Coordinator {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return &Coordinator{
		catalog:  catalog,
		resolver: resolver,
		mapping:  mapping,
		logger:   o.logger,
	}
}

// IsReplicated 表是否被多个联邦拥有，或在某个联邦内本地复制
func (c *Coordinator) IsReplicated(table string) bool {
	feds := c.catalog.FederationsFor(table)
	if len(feds) > 1 {
		return true
	}
	for _, f := range feds {
		if f.IsLocallyReplicated(table) {
			return true
		}
	}
	return false
}

// TargetsForReplicatedWrite 按 WriteOneRepresentativePerFederation 策略返回写入目标
func (c *Coordinator) TargetsForReplicatedWrite(ctx context.Context, table string, identity any) ([]federation.ShardTarget, error) {
	feds := c.catalog.FederationsFor(table)
	if len(feds) == 0 {
		return []federation.ShardTarget{federation.Root()}, nil
	}

	filter, _ := identity.(ReplicaFilter)
	seen := make(map[string]bool)
	var targets []federation.ShardTarget
	add := func(m federation.Member) {
		t := m.Target()
		if !seen[t.Key()] {
			seen[t.Key()] = true
			targets = append(targets, t)
		}
	}

	for _, fed := range feds {
		members, err := c.resolver.Topology().Members(ctx, fed.Name)
		if err != nil {
			return nil, err
		}

		if fed.IsLocallyReplicated(table) {
			for _, m := range members {
				if filter == nil || filter.AcceptsMember(m) {
					add(m)
				}
			}
			continue
		}

		value, ok := c.partitionValue(table, identity)
		if !ok {
			return nil, fmt.Errorf("%w: table %s in federation %s", ErrNoPartitionKey, table, fed.Name)
		}
		v, err := federation.Coerce(fed.RangeType, value)
		if err != nil {
			return nil, fmt.Errorf("federation %s: %w", fed.Name, err)
		}
		m, ok := routing.Locate(members, v)
		if !ok {
			return nil, fmt.Errorf("%w: value %s outside federation %s", routing.ErrNoTarget, v, fed.Name)
		}
		add(m)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: table %s", ErrNoReplica, table)
	}
	c.logger.DebugContext(ctx, "replicated write targets",
		clog.String("policy", string(WriteOneRepresentativePerFederation)),
		clog.String("table", table),
		clog.Int("targets", len(targets)),
	)
	return targets, nil
}

// ReadTargets 按 ReadSkipSiblingReplicas 策略裁剪读目标，输入顺序保持不变
//
// replicated 为 true 表示候选实体跨联邦复制：只读取一个代表联邦，
// 优先选择表在其中本地复制的联邦。表在某联邦内本地复制时只读取该联邦的第一个成员。
// 根库目标总是保留。
func (c *Coordinator) ReadTargets(table string, replicated bool, targets []federation.ShardTarget) []federation.ShardTarget {
	representative := ""
	if replicated {
		representative = c.representative(table, targets)
	}

	visited := make(map[string]bool)
	out := make([]federation.ShardTarget, 0, len(targets))
	for _, t := range targets {
		if t.IsRoot() {
			out = append(out, t)
			continue
		}
		if representative != "" && t.Federation != representative {
			continue
		}
		if visited[t.Federation] && c.locallyReplicated(t.Federation, table) {
			continue
		}
		visited[t.Federation] = true
		out = append(out, t)
	}
	return out
}

func (c *Coordinator) representative(table string, targets []federation.ShardTarget) string {
	first := ""
	for _, t := range targets {
		if t.IsRoot() {
			continue
		}
		if c.locallyReplicated(t.Federation, table) {
			return t.Federation
		}
		if first == "" {
			first = t.Federation
		}
	}
	return first
}

func (c *Coordinator) locallyReplicated(name, table string) bool {
	fed, ok := c.catalog.Federation(name)
	return ok && fed.IsLocallyReplicated(table)
}

func (c *Coordinator) partitionValue(table string, identity any) (any, bool) {
	if identity == nil {
		return nil, false
	}
	if c.mapping != nil {
		if key, ok := c.mapping.KeyExtractor(table); ok {
			return key(identity)
		}
	}
	if k, ok := identity.(schema.PartitionKeyer); ok {
		v := k.PartitionKey()
		return v, v != nil
	}
	return nil, false
}
