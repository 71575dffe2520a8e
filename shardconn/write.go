package shardconn

import (
	"context"
	"fmt"

	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/schema"
)

// MutationKind 写操作类型
type MutationKind int

const (
	Insert MutationKind = iota
	Update
	Delete
)

func (k MutationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation 一条待写入的变更
//
// 分区值依次取自 Value、Mapping 为 Table 注册的提取器、Identity 实现的 schema.PartitionKeyer。
// 都取不到时 Insert 广播到全部成员（只有拥有该键的成员接受），Update/Delete 广播执行。
type Mutation struct {
	Kind     MutationKind
	Table    string // 为空时从 SQL 中解析
	SQL      string
	Args     []any
	Value    any
	Identity any
}

// Write 按变更自身的分区值重新计算工作集后执行
func (c *Conn) Write(ctx context.Context, m Mutation) (int64, error) {
	table := m.Table
	if table == "" {
		var err error
		if table, err = routing.TableFromSQL(m.SQL); err != nil {
			return 0, err
		}
	}

	stmt := c.Prepare(m.SQL)
	value := c.partitionValue(table, m)

	var (
		targets []federation.ShardTarget
		err     error
	)
	switch {
	case m.Identity != nil && c.deps.Replication != nil && c.deps.Replication.IsReplicated(table):
		targets, err = c.deps.Replication.TargetsForReplicatedWrite(ctx, table, m.Identity)
	case value != nil:
		targets, err = c.deps.Resolver.ResolveForWrite(ctx, table, value)
	default:
		targets, err = c.broadcastTargets(ctx, table)
		stmt.tolerateRejection = m.Kind == Insert
	}
	if err != nil {
		return 0, err
	}
	if err := c.SelectTargets(ctx, targets); err != nil {
		return 0, err
	}
	return stmt.ExecUpdate(ctx, m.Args...)
}

// Flush 依次写入一批变更，每条变更各自重新计算工作集，返回受影响行数之和
func (c *Conn) Flush(ctx context.Context, batch []Mutation) (int64, error) {
	var total int64
	for i, m := range batch {
		n, err := c.Write(ctx, m)
		if err != nil {
			return total, fmt.Errorf("mutation %d (%s %s): %w", i, m.Kind, m.Table, err)
		}
		total += n
	}
	return total, nil
}

// broadcastTargets 写广播：表所属联邦的全部成员，表未映射时为根库
func (c *Conn) broadcastTargets(ctx context.Context, table string) ([]federation.ShardTarget, error) {
	targets, err := c.deps.Resolver.ResolveForRead(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	if len(targets) == 1 && targets[0].IsRoot() && len(c.deps.Resolver.Catalog().FederationsFor(table)) > 0 {
		return nil, fmt.Errorf("%w: federations of %s have no members", routing.ErrNoTarget, table)
	}
	return targets, nil
}

func (c *Conn) partitionValue(table string, m Mutation) any {
	if m.Value != nil {
		return m.Value
	}
	if m.Identity == nil {
		return nil
	}
	if c.deps.Mapping != nil {
		if key, ok := c.deps.Mapping.KeyExtractor(table); ok {
			if v, ok := key(m.Identity); ok {
				return v
			}
			return nil
		}
	}
	if k, ok := m.Identity.(schema.PartitionKeyer); ok {
		return k.PartitionKey()
	}
	return nil
}
