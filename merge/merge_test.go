package merge

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fedgate/testkit"
)

// trackingCursor 记录 Close 调用，可在读完后返回错误
type trackingCursor struct {
	Cursor
	closed bool
	err    error
}

func (c *trackingCursor) Next() bool {
	if c.closed {
		return false
	}
	return c.Cursor.Next()
}

func (c *trackingCursor) Err() error { return c.err }

func (c *trackingCursor) Close() error {
	c.closed = true
	return errors.New("close failure is swallowed")
}

func shard(columns []string, rows ...[]any) *trackingCursor {
	return &trackingCursor{Cursor: NewSliceCursor(columns, rows)}
}

func ids(t *testing.T, c Cursor) []any {
	t.Helper()
	rows, err := Drain(c)
	require.NoError(t, err)
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[0])
	}
	return out
}

var idCols = []string{"id", "name"}

func TestConcat(t *testing.T) {
	a := shard(idCols, []any{int64(3), "c"}, []any{int64(1), "a"})
	b := shard(idCols)
	c := shard(idCols, []any{int64(2), "b"})

	merged, err := Merge([]Cursor{a, b, c}, Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, idCols, merged.Columns())
	assert.Equal(t, []any{int64(3), int64(1), int64(2)}, ids(t, merged))
	assert.True(t, a.closed && b.closed && c.closed)
}

func TestOrderedMerge(t *testing.T) {
	t.Run("ascending", func(t *testing.T) {
		a := shard(idCols, []any{int64(1), "a"}, []any{int64(4), "d"}, []any{int64(7), "g"})
		b := shard(idCols, []any{int64(2), "b"}, []any{int64(5), "e"})
		c := shard(idCols, []any{int64(3), "c"}, []any{int64(6), "f"}, []any{int64(8), "h"})

		merged, err := Merge([]Cursor{a, b, c}, Descriptor{SortKeys: []SortKey{{Column: "ID"}}})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7), int64(8)}, ids(t, merged))
	})

	t.Run("descending with nulls lowest", func(t *testing.T) {
		a := shard(idCols, []any{int64(9), "x"}, []any{nil, "n"})
		b := shard(idCols, []any{2.5, "y"})

		merged, err := Merge([]Cursor{a, b}, Descriptor{SortKeys: []SortKey{{Column: "id", Descending: true}}})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(9), 2.5, nil}, ids(t, merged))
	})

	t.Run("ties keep shard order", func(t *testing.T) {
		a := shard(idCols, []any{int64(1), "first"})
		b := shard(idCols, []any{int64(1), "second"})

		merged, err := Merge([]Cursor{b, a}, Descriptor{SortKeys: []SortKey{{Column: "id"}}})
		require.NoError(t, err)
		rows, err := Drain(merged)
		require.NoError(t, err)
		assert.Equal(t, "second", rows[0][1])
		assert.Equal(t, "first", rows[1][1])
	})

	t.Run("secondary key", func(t *testing.T) {
		a := shard(idCols, []any{int64(1), "b"}, []any{int64(2), "a"})
		b := shard(idCols, []any{int64(1), "a"})

		merged, err := Merge([]Cursor{a, b}, Descriptor{SortKeys: []SortKey{{Column: "id"}, {Column: "name"}}})
		require.NoError(t, err)
		rows, err := Drain(merged)
		require.NoError(t, err)
		assert.Equal(t, [][]any{{int64(1), "a"}, {int64(1), "b"}, {int64(2), "a"}}, rows)
	})

	t.Run("unknown column", func(t *testing.T) {
		a := shard(idCols, []any{int64(1), "a"})
		_, err := Merge([]Cursor{a}, Descriptor{SortKeys: []SortKey{{Column: "missing"}}})
		assert.ErrorIs(t, err, ErrUnknownColumn)
		assert.True(t, a.closed)
	})
}

// 有序合并的结果与对全部行整体排序一致
func TestOrderedMergeMatchesGlobalSort(t *testing.T) {
	var (
		cursors []Cursor
		all     []int
	)
	for s := 0; s < 5; s++ {
		var rows [][]any
		for i := 0; i < 7; i++ {
			v := (i*7 + s*3) % 23
			all = append(all, v)
			rows = append(rows, []any{int64(v), "x"})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0].(int64) < rows[j][0].(int64) })
		cursors = append(cursors, NewSliceCursor(idCols, rows))
	}
	sort.Ints(all)

	merged, err := Merge(cursors, Descriptor{SortKeys: []SortKey{{Column: "id"}}})
	require.NoError(t, err)
	got := ids(t, merged)
	require.Len(t, got, len(all))
	for i, v := range all {
		assert.Equal(t, int64(v), got[i])
	}
}

func TestStructuredAggregates(t *testing.T) {
	cols := []string{"lo", "hi", "total", "n", "mean"}
	shards := [][]int64{{4, 9, 2}, {1, 3}, {7, 8, 10, 5}}

	var (
		cursors []Cursor
		all     []int64
	)
	for _, values := range shards {
		lo, hi, sum := values[0], values[0], int64(0)
		for _, v := range values {
			lo, hi, sum = min(lo, v), max(hi, v), sum+v
			all = append(all, v)
		}
		mean := float64(sum) / float64(len(values))
		cursors = append(cursors, NewSliceCursor(cols, [][]any{{lo, hi, sum, int64(len(values)), mean}}))
	}

	merged, err := Merge(cursors, Descriptor{
		Aggregates: []Aggregate{
			{Column: "lo", Func: Min},
			{Column: "hi", Func: Max},
			{Column: "total", Func: Sum},
			{Column: "n", Func: Count},
			{Column: "mean", Func: Avg, Weight: "n"},
		},
		NativeAggregate: true,
	})
	require.NoError(t, err)
	rows, err := Drain(merged)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	lo, hi, sum := all[0], all[0], int64(0)
	for _, v := range all {
		lo, hi, sum = min(lo, v), max(hi, v), sum+v
	}
	assert.Equal(t, lo, rows[0][0])
	assert.Equal(t, hi, rows[0][1])
	assert.Equal(t, sum, rows[0][2])
	assert.Equal(t, int64(len(all)), rows[0][3])
	assert.InDelta(t, float64(sum)/float64(len(all)), rows[0][4], 1e-9)
}

func TestAggregateEdgeCases(t *testing.T) {
	t.Run("unweighted avg", func(t *testing.T) {
		cols := []string{"avg"}
		merged, err := Merge([]Cursor{
			NewSliceCursor(cols, [][]any{{2.0}}),
			NewSliceCursor(cols, [][]any{{nil}}),
			NewSliceCursor(cols, [][]any{{int64(4)}}),
		}, Descriptor{Aggregates: []Aggregate{{Column: "avg", Func: Avg}}})
		require.NoError(t, err)
		rows, err := Drain(merged)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, rows[0][0], 1e-9)
	})

	t.Run("decimal text", func(t *testing.T) {
		cols := []string{"total"}
		merged, err := Merge([]Cursor{
			NewSliceCursor(cols, [][]any{{[]byte("1.5")}}),
			NewSliceCursor(cols, [][]any{{[]byte("2")}}),
		}, Descriptor{Aggregates: []Aggregate{{Column: "total", Func: Sum}}})
		require.NoError(t, err)
		rows, err := Drain(merged)
		require.NoError(t, err)
		assert.InDelta(t, 3.5, rows[0][0], 1e-9)
	})

	t.Run("all null", func(t *testing.T) {
		cols := []string{"total", "n"}
		merged, err := Merge([]Cursor{
			NewSliceCursor(cols, [][]any{{nil, nil}}),
		}, Descriptor{Aggregates: []Aggregate{{Column: "total", Func: Sum}, {Column: "n", Func: Count}}})
		require.NoError(t, err)
		rows, err := Drain(merged)
		require.NoError(t, err)
		assert.Equal(t, [][]any{{nil, int64(0)}}, rows)
	})

	t.Run("not numeric", func(t *testing.T) {
		cols := []string{"total"}
		_, err := Merge([]Cursor{
			NewSliceCursor(cols, [][]any{{"abc"}}),
		}, Descriptor{Aggregates: []Aggregate{{Column: "total", Func: Sum}}})
		assert.ErrorIs(t, err, ErrNotNumeric)
	})
}

func TestNativeAggregate(t *testing.T) {
	query := "SELECT COUNT(*) FROM orders"
	require.True(t, IsNativeAggregate(query))

	cols := []string{"count(*)"}
	merged, err := Merge([]Cursor{
		NewSliceCursor(cols, [][]any{{int64(3)}}),
		NewSliceCursor(cols, [][]any{{int64(0)}}),
		NewSliceCursor(cols, [][]any{{int64(4)}}),
	}, Descriptor{NativeAggregate: IsNativeAggregate(query)})
	require.NoError(t, err)
	rows, err := Drain(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(7)}}, rows)
}

func TestIsNativeAggregate(t *testing.T) {
	assert.True(t, IsNativeAggregate("select count(id) from orders"))
	assert.True(t, IsNativeAggregate("  SELECT\n\tCOUNT (*) FROM t"))
	assert.False(t, IsNativeAggregate("SELECT id, COUNT(*) FROM t GROUP BY id"))
	assert.False(t, IsNativeAggregate("SELECT * FROM counters"))
	assert.False(t, IsNativeAggregate("UPDATE t SET count = 1"))
}

func TestRangeIsGlobal(t *testing.T) {
	a := shard(idCols, []any{int64(1), "a"}, []any{int64(4), "d"})
	b := shard(idCols, []any{int64(2), "b"}, []any{int64(5), "e"})
	c := shard(idCols, []any{int64(3), "c"}, []any{int64(6), "f"})

	merged, err := Merge([]Cursor{a, b, c}, Descriptor{
		SortKeys: []SortKey{{Column: "id"}},
		Range:    Window(2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, ids(t, merged))
}

func TestWindow(t *testing.T) {
	assert.Equal(t, Range{Start: 2, End: 5}, Window(2, 3))
	assert.Equal(t, Range{Start: 4}, Window(4, 0))
	assert.Equal(t, Range{}, Window(-1, 0))
	assert.True(t, Window(0, 0).IsZero())

	merged, err := Merge([]Cursor{shard(idCols, []any{int64(1), "a"}, []any{int64(2), "b"})}, Descriptor{Range: Window(5, 0)})
	require.NoError(t, err)
	assert.Empty(t, ids(t, merged))
}

func TestReplicatedReadsFirstShardWithRows(t *testing.T) {
	a := shard(idCols)
	b := shard(idCols, []any{int64(1), "a"}, []any{int64(2), "b"})
	c := shard(idCols, []any{int64(1), "a"}, []any{int64(2), "b"})

	merged, err := Merge([]Cursor{a, b, c}, Descriptor{Replicated: true, SortKeys: []SortKey{{Column: "id"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, ids(t, merged))
	assert.True(t, c.closed)
}

func TestCloseIsBestEffortOnPartialRead(t *testing.T) {
	a := shard(idCols, []any{int64(1), "a"}, []any{int64(2), "b"})
	b := shard(idCols, []any{int64(3), "c"})

	merged, err := Merge([]Cursor{a, b}, Descriptor{SortKeys: []SortKey{{Column: "id"}}})
	require.NoError(t, err)
	require.True(t, merged.Next())
	assert.NoError(t, merged.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestShardErrorSurfaces(t *testing.T) {
	boom := errors.New("shard read failed")
	a := shard(idCols, []any{int64(1), "a"})
	b := shard(idCols)
	b.err = boom

	merged, err := Merge([]Cursor{a, b}, Descriptor{})
	require.NoError(t, err)
	_, err = Drain(merged)
	assert.ErrorIs(t, err, boom)

	a = shard(idCols, []any{int64(1), "a"})
	b = shard(idCols)
	b.err = boom
	merged, err = Merge([]Cursor{a, b}, Descriptor{SortKeys: []SortKey{{Column: "id"}}})
	require.NoError(t, err)
	_, err = Drain(merged)
	assert.ErrorIs(t, err, boom)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, -1, Compare(nil, int64(0)))
	assert.Equal(t, 1, Compare("a", nil))
	assert.Equal(t, -1, Compare(int32(1), 1.5))
	assert.Equal(t, 0, Compare(uint8(2), int64(2)))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare([]byte{0x01}, []byte{0x02}))
	assert.Equal(t, -1, Compare(false, true))
}

func TestRowsCursor(t *testing.T) {
	conn := testkit.NewSQLiteConnector(t, "merge", testkit.SQLiteDSN(filepath.Join(t.TempDir(), "rows.db")))
	db := conn.GetClient()
	require.NoError(t, db.Exec("CREATE TABLE items (id INTEGER, name TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO items VALUES (1, 'a'), (2, 'b')").Error)

	rows, err := db.Raw("SELECT id, name FROM items ORDER BY id").Rows()
	require.NoError(t, err)

	released := false
	c := NewRowsCursor(rows, func() error {
		released = true
		return nil
	})
	assert.Equal(t, []string{"id", "name"}, c.Columns())

	all, err := Drain(c)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0][0])
	assert.Equal(t, int64(2), all[1][0])
	assert.True(t, released)
}

// decimalShard 以 blob 写入 DECIMAL 列，驱动返回 []byte，与 MySQL 的 DECIMAL 一致
func decimalShard(t *testing.T, name string, amounts ...string) Cursor {
	t.Helper()
	conn := testkit.NewSQLiteConnector(t, name, testkit.SQLiteDSN(filepath.Join(t.TempDir(), name+".db")))
	db := conn.GetClient()
	require.NoError(t, db.Exec("CREATE TABLE payments (amount DECIMAL(10,2), payload BLOB)").Error)
	for _, a := range amounts {
		require.NoError(t, db.Exec("INSERT INTO payments VALUES (CAST(? AS BLOB), CAST(? AS BLOB))", a, a).Error)
	}
	rows, err := db.Raw("SELECT amount, payload FROM payments").Rows()
	require.NoError(t, err)
	return NewRowsCursor(rows)
}

func TestDecimalTextMergesNumerically(t *testing.T) {
	c := decimalShard(t, "dec_raw", "9.50")
	rows, err := Drain(c)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9.5, rows[0][0])
	assert.Equal(t, []byte("9.50"), rows[0][1], "varbinary keeps its bytes")

	merged, err := Merge([]Cursor{decimalShard(t, "dec_a", "9.50"), decimalShard(t, "dec_b", "10.25")},
		Descriptor{Aggregates: []Aggregate{{Column: "amount", Func: Max}}})
	require.NoError(t, err)
	assert.Equal(t, []any{10.25}, ids(t, merged))

	merged, err = Merge([]Cursor{decimalShard(t, "dec_c", "9.50"), decimalShard(t, "dec_d", "10.25")},
		Descriptor{SortKeys: []SortKey{{Column: "amount"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{9.5, 10.25}, ids(t, merged))

	merged, err = Merge([]Cursor{decimalShard(t, "dec_e", "9.50"), decimalShard(t, "dec_f", "10.25")},
		Descriptor{SortKeys: []SortKey{{Column: "payload"}}})
	require.NoError(t, err)
	rows, err = Drain(merged)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []byte("10.25"), rows[0][1], "blob columns order bytewise")
}

func TestIsDecimalType(t *testing.T) {
	for _, name := range []string{"DECIMAL", "decimal(10,2)", "NUMERIC", "NEWDECIMAL", "MONEY"} {
		assert.True(t, isDecimalType(name), name)
	}
	for _, name := range []string{"VARBINARY", "BLOB", "TEXT", ""} {
		assert.False(t, isDecimalType(name), name)
	}
	assert.Equal(t, int64(10), decimalValue("10"))
	assert.Equal(t, 9.5, decimalValue([]byte("9.50")))
	assert.Equal(t, "n/a", decimalValue("n/a"))
}
