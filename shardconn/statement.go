package shardconn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/merge"
)

// MultiStatement 在工作集的每个连接上执行同一条语句
type MultiStatement struct {
	conn  *Conn
	query string

	// tolerateRejection 广播插入：成员的所有权拒绝记为 0 行
	tolerateRejection bool
}

// Prepare 返回在当前工作集上执行 query 的语句句柄，工作集在执行时读取
func (c *Conn) Prepare(query string) *MultiStatement {
	return &MultiStatement{conn: c, query: query}
}

// ExecUpdate 依次在工作集的每个分片上执行，返回受影响行数
//
// 每个目标分片都恰好影响 1 行时返回 1（一条逻辑行写到了它应到达的每个分片），
// 否则原样返回各分片之和。
func (m *MultiStatement) ExecUpdate(ctx context.Context, args ...any) (int64, error) {
	c := m.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if len(c.working) == 0 {
		return 0, ErrNoWorkingSet
	}

	rejectedBy := c.deps.Pools.Dialect().IsOwnershipRejection
	var (
		total    int64
		allOne   = true
		rejected int
	)
	for _, t := range c.working {
		s, err := c.sessionLocked(ctx, t)
		if err != nil {
			return 0, err
		}

		var (
			n    int64
			skip bool
		)
		if m.tolerateRejection {
			n, skip, err = s.execGuarded(ctx, rejectedBy, m.query, args...)
		} else {
			n, err = s.exec(ctx, m.query, args...)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "shard statement failed", clog.Stringer("target", t), clog.Error(err))
			return 0, fmt.Errorf("shard %s: %w", t, err)
		}
		if skip {
			rejected++
			c.logger.DebugContext(ctx, "row not owned by member", clog.Stringer("target", t))
		}
		total += n
		if n != 1 {
			allOne = false
		}
	}

	if m.tolerateRejection && rejected == len(c.working) {
		return 0, ErrRowRejected
	}
	if allOne {
		return 1, nil
	}
	return total, nil
}

// Query 依次在工作集的每个分片上查询，返回按工作集顺序排列的游标
//
// 任一分片失败时已打开的游标会被关闭。
func (m *MultiStatement) Query(ctx context.Context, args ...any) ([]merge.Cursor, error) {
	c := m.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if len(c.working) == 0 {
		return nil, ErrNoWorkingSet
	}

	cursors := make([]merge.Cursor, 0, len(c.working))
	for _, t := range c.working {
		rows, err := m.queryLocked(ctx, t, args)
		if err != nil {
			for _, cur := range cursors {
				_ = cur.Close()
			}
			return nil, fmt.Errorf("shard %s: %w", t, err)
		}
		cursors = append(cursors, merge.NewRowsCursor(rows))
	}
	return cursors, nil
}

func (m *MultiStatement) queryLocked(ctx context.Context, t federation.ShardTarget, args []any) (*sql.Rows, error) {
	s, err := m.conn.sessionLocked(ctx, t)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, m.query, args...)
}
