package scatter

import (
	"context"
	"sync"

	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/routing"
)

// Statement 绑定到一条查询的执行对象
//
// Execute、Lock、Unlock 共用同一把互斥锁：同一个 Statement 的并发使用被串行化，
// 不同 Statement 之间互不影响。
type Statement struct {
	c  *Coordinator
	q  *Query
	mu sync.Mutex
}

// Prepare 返回绑定到 q 的执行对象
func (c *Coordinator) Prepare(q *Query) *Statement {
	return &Statement{c: c, q: q}
}

// Query 返回绑定的查询
func (s *Statement) Query() *Query {
	return s.q
}

// Execute 执行绑定的查询
func (s *Statement) Execute(ctx context.Context, sessions Sessions, params []any, rng merge.Range) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Execute(ctx, sessions, s.q, params, rng)
}

// Lock 在查询的目标分片上执行 LockSQL，返回受影响行数
func (s *Statement) Lock(ctx context.Context, sessions Sessions, params []any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, sessions, s.q.LockSQL, params)
}

// Unlock 在查询的目标分片上执行 UnlockSQL，返回受影响行数
func (s *Statement) Unlock(ctx context.Context, sessions Sessions, params []any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, sessions, s.q.UnlockSQL, params)
}

func (s *Statement) run(ctx context.Context, sessions Sessions, stmt string, params []any) (int64, error) {
	if s.q == nil {
		return 0, ErrNilQuery
	}
	if stmt == "" {
		return 0, ErrNoLockStatement
	}
	table, _, err := classify(s.q)
	if err != nil {
		return 0, err
	}
	lq := &Query{
		SQL:     stmt,
		Table:   table,
		Kind:    routing.Update,
		Value:   s.q.Value,
		Targets: s.q.Targets,
	}
	res, err := s.c.Execute(ctx, sessions, lq, params, merge.Range{})
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}
