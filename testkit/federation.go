package testkit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/dialect"
)

// FederationSpec 描述一个待创建的联邦
//
// Bounds 为除末成员外每个成员的上界，长度为 n 时创建 n+1 个成员。
type FederationSpec struct {
	Name   string
	Bounds []any
}

// Federations 基于 sqlite 文件的联邦夹具：root.db 保存目录表，每个成员一个数据库文件
type Federations struct {
	Dir  string
	Root connector.SQLConnector

	members map[string][]string
}

// SQLiteDSN 返回带忙等待与 WAL 的 sqlite DSN
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// NewFederations 在 t.TempDir() 中创建根库与所有成员库，并写入目录表
func NewFederations(t *testing.T, specs ...FederationSpec) *Federations {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	root := NewSQLiteConnector(t, "root", SQLiteDSN(filepath.Join(dir, "root.db")))
	db := root.GetClient()
	for _, stmt := range dialect.CatalogSchema {
		require.NoError(t, db.WithContext(ctx).Exec(stmt).Error)
	}

	f := &Federations{Dir: dir, Root: root, members: make(map[string][]string)}
	for i, spec := range specs {
		fedID := i + 1
		require.NoError(t, db.Exec("INSERT INTO "+dialect.FederationsTable+" (federation_id, name) VALUES (?, ?)", fedID, spec.Name).Error)

		for ordinal := 0; ordinal <= len(spec.Bounds); ordinal++ {
			var low, high any
			if ordinal > 0 {
				low = spec.Bounds[ordinal-1]
			}
			if ordinal < len(spec.Bounds) {
				high = spec.Bounds[ordinal]
			}
			dsn := SQLiteDSN(filepath.Join(dir, fmt.Sprintf("%s_%d.db", spec.Name, ordinal)))
			require.NoError(t, db.Exec(
				"INSERT INTO "+dialect.DistributionsTable+" (federation_id, member_id, range_low, range_high, location) VALUES (?, ?, ?, ?, ?)",
				fedID, ordinal, low, high, dsn,
			).Error)
			f.members[spec.Name] = append(f.members[spec.Name], dsn)
		}
	}
	return f
}

// RootConfig 返回根库的连接配置
func (f *Federations) RootConfig() *connector.SQLConfig {
	return &connector.SQLConfig{
		Name:   "root",
		Driver: connector.DriverSQLite,
		DSN:    SQLiteDSN(filepath.Join(f.Dir, "root.db")),
	}
}

// MemberDSN 返回成员库的 DSN
func (f *Federations) MemberDSN(fed string, ordinal int) string {
	return f.members[fed][ordinal]
}

// MemberCount 返回联邦的成员数
func (f *Federations) MemberCount(fed string) int {
	return len(f.members[fed])
}

// MemberDB 直接打开成员库，绕过路由，用于断言数据落点
func (f *Federations) MemberDB(t *testing.T, fed string, ordinal int) *gorm.DB {
	t.Helper()
	return NewSQLiteConnector(t, fmt.Sprintf("%s/%d", fed, ordinal), f.MemberDSN(fed, ordinal)).GetClient()
}

// ExecMembers 在联邦的每个成员上直接执行语句，build 为每个成员生成 SQL
func (f *Federations) ExecMembers(t *testing.T, fed string, build func(ordinal int) string) {
	t.Helper()
	for ordinal := range f.members[fed] {
		require.NoError(t, f.MemberDB(t, fed, ordinal).Exec(build(ordinal)).Error)
	}
}

// Opener 返回按位置打开成员连接的函数，连接的关闭由调用方负责
func (f *Federations) Opener() func(ctx context.Context, location string) (connector.SQLConnector, error) {
	return func(ctx context.Context, location string) (connector.SQLConnector, error) {
		conn, err := connector.NewSQL(&connector.SQLConfig{Name: location, Driver: connector.DriverSQLite, DSN: location},
			connector.WithLogger(NewLogger()), connector.WithSilentSQL())
		if err != nil {
			return nil, err
		}
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// NewSQLiteConnector 返回已连接的 sqlite 连接器，生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T, name, dsn string) connector.SQLConnector {
	t.Helper()
	conn, err := connector.NewSQL(&connector.SQLConfig{Name: name, Driver: connector.DriverSQLite, DSN: dsn},
		connector.WithLogger(NewLogger()), connector.WithSilentSQL())
	require.NoError(t, err, "failed to create sqlite connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to sqlite")
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
