package db

import (
	"context"

	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/scatter"
	"github.com/ceyewan/fedgate/shardconn"
)

// Tx 事务内的操作句柄，仅在 Transaction 的回调中有效
type Tx struct {
	conn        *shardconn.Conn
	coordinator *scatter.Coordinator
}

// Conn 返回底层的多路连接
func (tx *Tx) Conn() *shardconn.Conn {
	return tx.conn
}

// Write 执行一条写入，按分区值或实体路由
func (tx *Tx) Write(ctx context.Context, m shardconn.Mutation) (int64, error) {
	return tx.conn.Write(ctx, m)
}

// Flush 按顺序执行一批写入
func (tx *Tx) Flush(ctx context.Context, batch []shardconn.Mutation) (int64, error) {
	return tx.conn.Flush(ctx, batch)
}

// Query 在事务内执行分散-聚合查询，能读到本事务尚未提交的写入
func (tx *Tx) Query(ctx context.Context, q *scatter.Query, rng merge.Range, params ...any) (merge.Cursor, error) {
	res, err := tx.coordinator.Execute(ctx, tx.conn, q, params, rng)
	if err != nil {
		return nil, err
	}
	return res.Cursor, nil
}

// Exec 在事务内执行分散写语句，返回归一后的受影响行数
func (tx *Tx) Exec(ctx context.Context, q *scatter.Query, params ...any) (int64, error) {
	res, err := tx.coordinator.Execute(ctx, tx.conn, q, params, merge.Range{})
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

// Prepare 返回绑定到查询的语句对象，Lock/Unlock 与执行在同一事务内
func (tx *Tx) Prepare(q *scatter.Query) *Statement {
	return &Statement{stmt: tx.coordinator.Prepare(q), conn: tx.conn}
}

// Statement 绑定到事务连接的语句
type Statement struct {
	stmt *scatter.Statement
	conn *shardconn.Conn
}

// Execute 执行查询
func (s *Statement) Execute(ctx context.Context, rng merge.Range, params ...any) (*scatter.Result, error) {
	return s.stmt.Execute(ctx, s.conn, params, rng)
}

// Lock 执行查询的加锁语句
func (s *Statement) Lock(ctx context.Context, params ...any) (int64, error) {
	return s.stmt.Lock(ctx, s.conn, params)
}

// Unlock 执行查询的解锁语句
func (s *Statement) Unlock(ctx context.Context, params ...any) (int64, error) {
	return s.stmt.Unlock(ctx, s.conn, params)
}
