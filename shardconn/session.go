package shardconn

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/xerrors"
)

const broadcastSavepoint = "fedgate_broadcast"

// session 一个分片上的物理会话：独占的 *sql.Conn，以及其上惰性开启的事务
//
// 提交或回滚后会话保持打开，下一次使用时开启新事务。
type session struct {
	target  federation.ShardTarget
	pool    *gorm.DB
	conn    *sql.Conn
	tx      *sql.Tx
	dialect dialect.Dialect
}

func newSession(ctx context.Context, pool *gorm.DB, target federation.ShardTarget, d dialect.Dialect, fed *federation.Federation) (*session, error) {
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if stmt := d.ScopeStatement(target, fed); stmt != "" {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, xerrors.Wrapf(err, "scope to %s", target)
		}
	}
	return &session{target: target, pool: pool, conn: conn, dialect: d}, nil
}

// db 返回绑定到当前事务的 GORM 会话
func (s *session) db(ctx context.Context) (*gorm.DB, error) {
	if s.tx == nil {
		// 事务跨越多次调用，不随单次调用的 ctx 取消而回滚
		tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, xerrors.Wrapf(err, "begin on %s", s.target)
		}
		s.tx = tx
	}
	db := s.pool.Session(&gorm.Session{NewDB: true, Context: ctx})
	db.Statement.ConnPool = s.tx
	return db, nil
}

func (s *session) exec(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Exec(query, args...)
	return res.RowsAffected, res.Error
}

// execGuarded 在保存点内执行，rejected 命中时回滚到保存点并报告被拒绝，事务保持可用
func (s *session) execGuarded(ctx context.Context, rejected func(error) bool, query string, args ...any) (int64, bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, false, err
	}
	if err := db.SavePoint(broadcastSavepoint).Error; err != nil {
		return 0, false, xerrors.Wrapf(err, "savepoint on %s", s.target)
	}
	res := db.Exec(query, args...)
	if res.Error == nil {
		return res.RowsAffected, false, nil
	}
	if !rejected(res.Error) {
		return 0, false, res.Error
	}
	if err := db.RollbackTo(broadcastSavepoint).Error; err != nil {
		return 0, true, xerrors.Wrapf(err, "rollback to savepoint on %s", s.target)
	}
	return 0, true, nil
}

func (s *session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	return db.Raw(query, args...).Rows()
}

func (s *session) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *session) rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !xerrors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// close 回滚未提交的事务，把成员会话重新定位到根库后归还连接
func (s *session) close(ctx context.Context) error {
	err := s.rollback()
	if !s.target.IsRoot() {
		if stmt := s.dialect.ScopeStatement(federation.Root(), nil); stmt != "" {
			_, _ = s.conn.ExecContext(ctx, stmt)
		}
	}
	return xerrors.Combine(err, s.conn.Close())
}
