package scatter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/replication"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/shardconn"
	"github.com/ceyewan/fedgate/testkit"
	"github.com/ceyewan/fedgate/topology"
	"github.com/ceyewan/fedgate/xerrors"
)

const (
	ordersDDL    = "CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, amount INTEGER NOT NULL DEFAULT 0)"
	countriesDDL = "CREATE TABLE countries (code TEXT PRIMARY KEY)"
)

type fixture struct {
	feds        *testkit.Federations
	catalog     *federation.Catalog
	dialect     dialect.Dialect
	resolver    *routing.Resolver
	replication *replication.Coordinator
	deps        shardconn.Deps
}

// newFixture FED_1 在 5 处切分：成员 0 持有 customer_id <= 5，成员 1 持有其余
func newFixture(t *testing.T) *fixture {
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
		require.NoError(t, db.Exec("INSERT INTO countries (code) VALUES ('CN'), ('DE')").Error)
	}
	require.NoError(t, feds.Root.GetClient().Exec("CREATE TABLE settings (name TEXT PRIMARY KEY, value TEXT)").Error)
	require.NoError(t, feds.Root.GetClient().Exec("INSERT INTO settings (name, value) VALUES ('mode', 'test')").Error)

	// 成员 0：客户 1..5，成员 1：客户 6..9
	seed := map[int]string{
		0: "INSERT INTO orders (id, customer_id, amount) VALUES (1, 1, 10), (3, 3, 30), (5, 5, 50)",
		1: "INSERT INTO orders (id, customer_id, amount) VALUES (2, 6, 20), (4, 7, 40), (6, 9, 60)",
	}
	for ordinal, stmt := range seed {
		require.NoError(t, feds.MemberDB(t, "FED_1", ordinal).Exec(stmt).Error)
	}

	pools, err := shardconn.NewPoolSet(feds.Root, d, feds.Opener())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Close() })

	resolver := routing.New(catalog, topo)
	repl := replication.New(catalog, resolver, nil)
	return &fixture{
		feds:        feds,
		catalog:     catalog,
		dialect:     d,
		resolver:    resolver,
		replication: repl,
		deps: shardconn.Deps{
			Resolver:    resolver,
			Replication: repl,
			Pools:       pools,
		},
	}
}

func (f *fixture) coordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(testkit.NewLogger()), WithDialect(f.dialect)}, opts...)
	c, err := New(f.resolver, f.replication, f.catalog, opts...)
	require.NoError(t, err)
	return c
}

func (f *fixture) conn(t *testing.T) *shardconn.Conn {
	t.Helper()
	conn, err := shardconn.Open(context.Background(), f.deps)
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

func drain(t *testing.T, res *Result) [][]any {
	t.Helper()
	rows, err := merge.Drain(res.Cursor)
	require.NoError(t, err)
	return rows
}

func column(rows [][]any, i int) []any {
	out := make([]any, len(rows))
	for j, r := range rows {
		out[j] = r[i]
	}
	return out
}

func TestBroadcastReadMergesInOrder(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:   "SELECT id, customer_id FROM orders ORDER BY id",
		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "id"}}},
	}, nil, merge.Range{})
	require.NoError(t, err)

	assert.Len(t, res.Targets, 2)
	rows := drain(t, res)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6)}, column(rows, 0))
}

func TestReadWithValueHitsOneMember(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:   "SELECT id FROM orders WHERE customer_id = ?",
		Value: int64(7),
	}, []any{7}, merge.Range{})
	require.NoError(t, err)

	require.Len(t, res.Targets, 1)
	assert.Equal(t, "FED_1/1", res.Targets[0].Key())
	assert.Equal(t, [][]any{{int64(4)}}, drain(t, res))
}

func TestNativeCountIsSummed(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL: "SELECT COUNT(*) FROM orders",
	}, nil, merge.Range{})
	require.NoError(t, err)

	rows := drain(t, res)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 6, rows[0][0])
}

func TestStructuredAggregates(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL: "SELECT MIN(amount) AS lo, MAX(amount) AS hi, SUM(amount) AS total FROM orders",
		Merge: merge.Descriptor{Aggregates: []merge.Aggregate{
			{Column: "lo", Func: merge.Min},
			{Column: "hi", Func: merge.Max},
			{Column: "total", Func: merge.Sum},
		}},
	}, nil, merge.Range{})
	require.NoError(t, err)

	rows := drain(t, res)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 10, rows[0][0])
	assert.EqualValues(t, 60, rows[0][1])
	assert.EqualValues(t, 210, rows[0][2])
}

func TestGlobalRangeAppliesAfterMerge(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:   "SELECT id FROM orders ORDER BY id",
		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "id"}}},
	}, nil, merge.Window(2, 3))
	require.NoError(t, err)

	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, column(drain(t, res), 0))
}

func TestReplicatedReadSkipsSiblings(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:   "SELECT code FROM countries ORDER BY code",
		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "code"}}},
	}, nil, merge.Range{})
	require.NoError(t, err)

	require.Len(t, res.Targets, 1)
	assert.Equal(t, []any{"CN", "DE"}, column(drain(t, res), 0))
}

func TestCrossFederationReadUsesOneFederation(t *testing.T) {
	ctx := context.Background()
	feds := testkit.NewFederations(t,
		testkit.FederationSpec{Name: "FED_1", Bounds: []any{5}},
		testkit.FederationSpec{Name: "FED_2", Bounds: []any{5}},
	)
	catalog, err := federation.NewCatalog([]federation.Config{
		{Name: "FED_1", RangeType: "bigint", Tables: "countries"},
		{Name: "FED_2", RangeType: "bigint", Tables: "countries"},
	})
	require.NoError(t, err)
	for _, fed := range []string{"FED_1", "FED_2"} {
		for ordinal := 0; ordinal < feds.MemberCount(fed); ordinal++ {
			db := feds.MemberDB(t, fed, ordinal)
			require.NoError(t, db.Exec(countriesDDL).Error)
			require.NoError(t, db.Exec("INSERT INTO countries (code) VALUES ('CN'), ('DE')").Error)
		}
	}

	d := dialect.NewCatalog()
	topo, err := topology.New(catalog, topology.NewSQLDiscoverer(feds.Root.GetClient(), d))
	require.NoError(t, err)
	pools, err := shardconn.NewPoolSet(feds.Root, d, feds.Opener())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Close() })

	resolver := routing.New(catalog, topo)
	repl := replication.New(catalog, resolver, nil)
	c, err := New(resolver, repl, catalog, WithLogger(testkit.NewLogger()), WithDialect(d))
	require.NoError(t, err)
	conn, err := shardconn.Open(ctx, shardconn.Deps{Resolver: resolver, Replication: repl, Pools: pools})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	res, err := c.Execute(ctx, conn, &Query{
		SQL:   "SELECT code FROM countries ORDER BY code",
		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "code"}}},
	}, nil, merge.Range{})
	require.NoError(t, err)

	require.Len(t, res.Targets, 1)
	assert.Equal(t, []any{"CN", "DE"}, column(drain(t, res), 0))
}

func TestUnmappedTableReadsRoot(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL: "SELECT value FROM settings WHERE name = 'mode'",
	}, nil, merge.Range{})
	require.NoError(t, err)

	require.Len(t, res.Targets, 1)
	assert.True(t, res.Targets[0].IsRoot())
	assert.Equal(t, [][]any{{"test"}}, drain(t, res))
}

func TestTargetHintSkipsRouting(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	hint, err := f.resolver.ResolveForWrite(context.Background(), "orders", int64(1))
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:     "SELECT COUNT(*) FROM orders",
		Targets: hint,
	}, nil, merge.Range{})
	require.NoError(t, err)

	rows := drain(t, res)
	assert.EqualValues(t, 3, rows[0][0])
}

func TestBroadcastMutationCounts(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	ctx := context.Background()
	conn := f.conn(t)

	res, err := c.Execute(ctx, conn, &Query{SQL: "UPDATE orders SET amount = amount + 1"}, nil, merge.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Affected)

	// 每个成员各删一行，按单行语义归一为 1
	res, err = c.Execute(ctx, conn, &Query{SQL: "DELETE FROM orders WHERE id IN (1, 2)"}, nil, merge.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, int64(2), f.count(t, 0, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(2), f.count(t, 1, "SELECT COUNT(*) FROM orders"))
	assert.Equal(t, int64(82), f.count(t, 0, "SELECT SUM(amount) FROM orders"))
}

func TestBroadcastInsertToleratesOwnershipRejection(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	ctx := context.Background()
	conn := f.conn(t)

	res, err := c.Execute(ctx, conn, &Query{
		SQL: "INSERT INTO orders (id, customer_id) VALUES (?, ?)",
	}, []any{10, 8}, merge.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Len(t, res.Targets, 2)

	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, int64(0), f.count(t, 0, "SELECT COUNT(*) FROM orders WHERE id = 10"))
	assert.Equal(t, int64(1), f.count(t, 1, "SELECT COUNT(*) FROM orders WHERE id = 10"))
}

func TestInsertWithValueRoutesToOwner(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	ctx := context.Background()
	conn := f.conn(t)

	res, err := c.Execute(ctx, conn, &Query{
		SQL:   "INSERT INTO orders (id, customer_id) VALUES (?, ?)",
		Value: int64(4),
	}, []any{11, 4}, merge.Range{})
	require.NoError(t, err)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "FED_1/0", res.Targets[0].Key())
	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, int64(1), f.count(t, 0, "SELECT COUNT(*) FROM orders WHERE id = 11"))
}

func TestShardFailureFailsWholeOperation(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	require.NoError(t, f.feds.MemberDB(t, "FED_1", 1).Exec("DROP TABLE orders").Error)

	_, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL: "SELECT id FROM orders",
	}, nil, merge.Range{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShardFailed))
	assert.Contains(t, err.Error(), "FED_1/1")
	assert.Equal(t, xerrors.CodeShardFailed, xerrors.GetCode(err))
}

func TestExecuteRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	ctx := context.Background()

	_, err := c.Execute(ctx, f.conn(t), nil, nil, merge.Range{})
	assert.ErrorIs(t, err, ErrNilQuery)

	_, err = c.Execute(ctx, f.conn(t), &Query{SQL: "NOT SQL AT ALL"}, nil, merge.Range{})
	assert.ErrorIs(t, err, routing.ErrUnparseableTable)
}

func TestStatementLockUnlock(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	ctx := context.Background()
	conn := f.conn(t)

	stmt := c.Prepare(&Query{
		SQL:       "SELECT id FROM orders WHERE customer_id = ?",
		Value:     int64(9),
		LockSQL:   "UPDATE orders SET amount = -1 WHERE customer_id = 9",
		UnlockSQL: "UPDATE orders SET amount = 60 WHERE customer_id = 9",
	})

	n, err := stmt.Lock(ctx, conn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err := stmt.Execute(ctx, conn, []any{9}, merge.Range{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(6)}}, drain(t, res))

	n, err = stmt.Unlock(ctx, conn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.Prepare(&Query{SQL: "SELECT id FROM orders"}).Lock(ctx, conn, nil)
	assert.ErrorIs(t, err, ErrNoLockStatement)
}

func TestSharedPoolAndTracing(t *testing.T) {
	f := newFixture(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	pool := NewPool(1)
	assert.Equal(t, 1, pool.Size())
	c := f.coordinator(t, WithPool(pool), WithTracerProvider(tp), WithMeter(testkit.NewMeter(t)))

	res, err := c.Execute(context.Background(), f.conn(t), &Query{
		SQL:   "SELECT id FROM orders ORDER BY id",
		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "id"}}},
	}, nil, merge.Range{})
	require.NoError(t, err)
	assert.Len(t, drain(t, res), 6)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "scatter.Execute", spans[0].Name())
}

func TestPoolSizeDefaults(t *testing.T) {
	assert.Equal(t, DefaultPoolSize, NewPool(0).Size())
}
