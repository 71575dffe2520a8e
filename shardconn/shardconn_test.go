package shardconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fedgate/breaker"
	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/replication"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/testkit"
	"github.com/ceyewan/fedgate/topology"
	"github.com/ceyewan/fedgate/xerrors"
)

type Country struct {
	Code string
}

type fixture struct {
	feds  *testkit.Federations
	deps  Deps
	pools *PoolSet
}

const (
	ordersDDL    = "CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, amount INTEGER NOT NULL DEFAULT 0)"
	countriesDDL = "CREATE TABLE countries (code TEXT PRIMARY KEY)"
)

// newFixture FED_1 在 5 处切分为两个成员，orders 按 customer_id 分区，countries 本地复制
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	feds := testkit.NewFederations(t, testkit.FederationSpec{Name: "FED_1", Bounds: []any{5}})
	catalog, err := federation.NewCatalog([]federation.Config{
		{Name: "FED_1", RangeType: "bigint", Tables: "orders:customer_id,countries"},
	})
	require.NoError(t, err)

	d := dialect.NewCatalog()
	topo, err := topology.New(catalog, topology.NewSQLDiscoverer(feds.Root.GetClient(), d))
	require.NoError(t, err)

	fed, _ := catalog.Federation("FED_1")
	members, err := topo.Members(ctx, "FED_1")
	require.NoError(t, err)
	for _, m := range members {
		db := feds.MemberDB(t, "FED_1", m.Ordinal)
		require.NoError(t, db.Exec(d.CreateTableStatement(ordersDDL, fed, "orders", m)).Error)
		require.NoError(t, db.Exec(d.CreateTableStatement(countriesDDL, fed, "countries", m)).Error)
	}
	require.NoError(t, feds.Root.GetClient().Exec("CREATE TABLE settings (name TEXT PRIMARY KEY, value TEXT)").Error)

	pools, err := NewPoolSet(feds.Root, d, feds.Opener(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Close() })

	resolver := routing.New(catalog, topo)
	return &fixture{
		feds:  feds,
		pools: pools,
		deps: Deps{
			Resolver:    resolver,
			Replication: replication.New(catalog, resolver, nil),
			Pools:       pools,
		},
	}
}

func (f *fixture) open(t *testing.T) *Conn {
	t.Helper()
	conn, err := Open(context.Background(), f.deps, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) count(t *testing.T, ordinal int, query string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.feds.MemberDB(t, "FED_1", ordinal).Raw(query).Scan(&n).Error)
	return n
}

func insertOrder(id, customer int64) Mutation {
	return Mutation{
		Kind:  Insert,
		Table: "orders",
		SQL:   "INSERT INTO orders (id, customer_id) VALUES (?, ?)",
		Args:  []any{id, customer},
		Value: customer,
	}
}

func TestWriteRoutesByPartitionValue(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	n, err := conn.Write(ctx, insertOrder(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "FED_1/0", conn.WorkingSet()[0].Key())

	n, err = conn.Write(ctx, insertOrder(2, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "FED_1/1", conn.WorkingSet()[0].Key())

	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM orders WHERE customer_id = 2"))
	assert.Equal(t, int64(0), f.count(t, 0, "SELECT COUNT(*) FROM orders WHERE customer_id = 7"))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM orders WHERE customer_id = 7"))
}

func TestCommitFansOutToEveryOpenedSession(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	_, err := conn.Write(ctx, insertOrder(1, 2))
	require.NoError(t, err)
	_, err = conn.Write(ctx, insertOrder(2, 9))
	require.NoError(t, err)

	// 工作集只剩成员 1，但成员 0 上的写入也必须提交
	require.Len(t, conn.WorkingSet(), 1)
	assert.Len(t, conn.Opened(), 2)
	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM orders"))
}

func TestRollbackAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn := f.open(t)
	_, err := conn.Write(ctx, insertOrder(1, 2))
	require.NoError(t, err)
	require.NoError(t, conn.Rollback(ctx))
	assert.Equal(t, int64(0), f.count(t, 0, "SELECT COUNT(*) FROM orders"))

	// 回滚后会话可继续使用，新事务惰性开启
	_, err = conn.Write(ctx, insertOrder(1, 2))
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))
	_, err = conn.Write(ctx, insertOrder(2, 3))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM orders"))

	assert.NoError(t, conn.Close())
	_, err = conn.Write(ctx, insertOrder(3, 4))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Commit(ctx), ErrClosed)
}

func TestBroadcastInsertLandsOnOwningMember(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	n, err := conn.Write(ctx, Mutation{
		Kind: Insert,
		SQL:  "INSERT INTO orders (id, customer_id) VALUES (10, 8)",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, conn.WorkingSet(), 2)

	// 同一事务中，被拒绝的成员仍可继续写入
	_, err = conn.Write(ctx, insertOrder(11, 1))
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM orders WHERE id = 10"))
}

func TestReplicatedWriteReachesEveryMember(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	n, err := conn.Write(ctx, Mutation{
		Kind:     Insert,
		Table:    "countries",
		SQL:      "INSERT INTO countries (code) VALUES (?)",
		Args:     []any{"CN"},
		Identity: &Country{Code: "CN"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "one logical row written to each replica")
	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM countries"))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM countries"))
}

func TestBroadcastUpdateAffectedCount(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	n, err := conn.Flush(ctx, []Mutation{insertOrder(1, 1), insertOrder(2, 2), insertOrder(3, 8)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	update := Mutation{Kind: Update, SQL: "UPDATE orders SET amount = amount + 1"}
	n, err = conn.Write(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "member 0 updated 2 rows, member 1 updated 1")

	n, err = conn.Write(ctx, Mutation{Kind: Delete, SQL: "DELETE FROM orders WHERE id IN (1, 3)"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "each targeted member affected exactly one row")

	n, err = conn.Write(ctx, Mutation{Kind: Delete, SQL: "DELETE FROM orders WHERE customer_id = ?", Args: []any{2}, Value: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, conn.Commit(ctx))

	assert.Equal(t, int64(0), f.count(t, 0, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(0), f.count(t, 1, "SELECT COUNT(*) FROM orders"))
}

func TestWriteUnmappedTableGoesToRoot(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	n, err := conn.Write(ctx, Mutation{Kind: Insert, SQL: "INSERT INTO settings (name, value) VALUES ('mode', 'on')"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, conn.WorkingSet()[0].IsRoot())
	require.NoError(t, conn.Commit(ctx))

	var count int64
	require.NoError(t, f.feds.Root.GetClient().Raw("SELECT COUNT(*) FROM settings").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriteErrors(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	_, err := conn.Write(ctx, Mutation{Kind: Insert, SQL: "THIS IS NOT SQL"})
	assert.ErrorIs(t, err, routing.ErrUnparseableTable)

	_, err = conn.Write(ctx, insertOrder(1, 2))
	require.NoError(t, err)
	_, err = conn.Write(ctx, insertOrder(1, 2))
	assert.Error(t, err, "duplicate primary key on the owning member")

	_, err = conn.Flush(ctx, []Mutation{insertOrder(5, 3), {Kind: Insert, SQL: "???"}})
	assert.ErrorIs(t, err, routing.ErrUnparseableTable)
	assert.Contains(t, err.Error(), "mutation 1")
}

func TestPrepareRequiresWorkingSet(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)

	_, err := conn.Prepare("SELECT 1").ExecUpdate(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkingSet)
	_, err = conn.Prepare("SELECT 1").Query(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkingSet)
}

func TestMultiStatementQuery(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	_, err := conn.Flush(ctx, []Mutation{insertOrder(1, 2), insertOrder(2, 7), insertOrder(3, 4)})
	require.NoError(t, err)

	targets, err := conn.SelectWorkingSet(ctx, "orders", nil)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	cursors, err := conn.Prepare("SELECT id FROM orders ORDER BY id DESC").Query(ctx)
	require.NoError(t, err)
	merged, err := merge.Merge(cursors, merge.Descriptor{SortKeys: []merge.SortKey{{Column: "id", Descending: true}}})
	require.NoError(t, err)
	rows, err := merge.Drain(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(3)}, {int64(2)}, {int64(1)}}, rows)
}

func TestSessionBoundToTransaction(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	ctx := context.Background()

	targets, err := conn.SelectWorkingSet(ctx, "orders", 7)
	require.NoError(t, err)
	db, err := conn.Session(ctx, targets[0])
	require.NoError(t, err)
	require.NoError(t, db.Exec("INSERT INTO orders (id, customer_id) VALUES (1, 7)").Error)

	// 未提交时其它连接看不到
	assert.Equal(t, int64(0), f.count(t, 1, "SELECT COUNT(*) FROM orders"))
	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM orders"))
}

func TestBreakerFailsFast(t *testing.T) {
	f := newFixture(t)
	dialErr := errors.New("member unreachable")
	brk, err := breaker.New(&breaker.Config{Timeout: time.Minute, FailureRatio: 0.5, MinimumRequests: 1})
	require.NoError(t, err)

	opens := 0
	pools, err := NewPoolSet(f.feds.Root, dialect.NewCatalog(), func(context.Context, string) (connector.SQLConnector, error) {
		opens++
		return nil, dialErr
	}, WithBreaker(brk), WithMeter(testkit.NewMeter(t)))
	require.NoError(t, err)

	deps := f.deps
	deps.Pools = pools
	conn, err := Open(context.Background(), deps)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.SelectWriteSet(context.Background(), "orders", 7)
	assert.ErrorIs(t, err, ErrSessionOpen)
	assert.ErrorIs(t, err, dialErr)

	_, err = conn.SelectWriteSet(context.Background(), "orders", 7)
	assert.ErrorIs(t, err, xerrors.ErrUnavailable)
	assert.Equal(t, 1, opens)
}

func TestPoolSetClose(t *testing.T) {
	f := newFixture(t)
	conn := f.open(t)
	_, err := conn.SelectWorkingSet(context.Background(), "orders", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, f.pools.Close())
	require.NoError(t, f.pools.Close())
	_, err = f.pools.Pool(context.Background(), federation.ShardTarget{Federation: "FED_1", Location: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}
