// Package merge 将多个分片的结果游标合并为一个流。
//
// 合并方式由 Descriptor 决定，优先级依次为：
//
//  1. 结构化聚合（Aggregates 非空）：每个分片一行，按列用同一算子合并
//  2. 原生聚合（NativeAggregate，例如 SELECT COUNT(...)）：各分片标量求和
//  3. 有序合并（SortKeys 非空）：k 路归并，结果全局有序
//  4. 拼接：分片顺序，分片内保持原顺序
//
// Range 总是在合并之后应用，不会下推到单个分片。
package merge

import (
	"regexp"
	"strings"
)

// SortKey 排序键
type SortKey struct {
	Column     string
	Descending bool
}

// AggregateFunc 聚合算子
type AggregateFunc int

const (
	None AggregateFunc = iota
	Min
	Max
	Sum
	Count
	Avg
)

func (f AggregateFunc) String() string {
	switch f {
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Sum:
		return "SUM"
	case Count:
		return "COUNT"
	case Avg:
		return "AVG"
	default:
		return "NONE"
	}
}

// Aggregate 一个结构化聚合列
//
// Avg 给出 Weight（通常是同一分片的 COUNT 列）时按权重合并，否则取各分片平均值的平均。
type Aggregate struct {
	Column string
	Func   AggregateFunc
	Weight string
}

// Range 合并后的行区间 [Start, End)，End 为 0 表示不设上限
type Range struct {
	Start int
	End   int
}

// Window 由 offset/limit 构造区间，limit <= 0 表示不设上限
func Window(offset, limit int) Range {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return Range{Start: offset}
	}
	return Range{Start: offset, End: offset + limit}
}

// IsZero 区间是否为空操作
func (r Range) IsZero() bool {
	return r.Start <= 0 && r.End <= 0
}

// Descriptor 描述如何合并分片结果
type Descriptor struct {
	SortKeys        []SortKey
	Aggregates      []Aggregate
	NativeAggregate bool
	// Replicated 候选实体是复制实体：只取第一个有数据的分片
	Replicated bool
	Range      Range
}

var nativeCount = regexp.MustCompile(`(?is)^\s*select\s+count\s*\(`)

// IsNativeAggregate 判断原生 SQL 是否为 COUNT 形式的标量聚合
func IsNativeAggregate(query string) bool {
	return nativeCount.MatchString(query)
}

// Merge 按 d 合并分片游标，返回的游标在 Close 时关闭全部输入游标
func Merge(cursors []Cursor, d Descriptor) (Cursor, error) {
	if len(cursors) == 0 {
		return limit(NewSliceCursor(nil, nil), d.Range), nil
	}

	var (
		merged Cursor
		err    error
	)
	switch {
	case len(d.Aggregates) > 0:
		merged, err = aggregate(cursors, d.Aggregates)
	case d.NativeAggregate:
		merged, err = sumScalars(cursors)
	case d.Replicated:
		merged = newFirstCursor(cursors)
	case len(d.SortKeys) > 0:
		merged, err = newOrderedCursor(cursors, d.SortKeys)
	default:
		merged = newConcatCursor(cursors)
	}
	if err != nil {
		closeAll(cursors)
		return nil, err
	}
	return limit(merged, d.Range), nil
}

func columnIndex(columns []string, name string) (int, bool) {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	// 带表前缀的列名，例如 o.amount
	if _, short, ok := strings.Cut(name, "."); ok {
		return columnIndex(columns, short)
	}
	return -1, false
}

func closeAll(cursors []Cursor) {
	for _, c := range cursors {
		_ = c.Close()
	}
}

// concatCursor 按分片顺序依次读取
type concatCursor struct {
	cursors []Cursor
	current int
	err     error
}

func newConcatCursor(cursors []Cursor) *concatCursor {
	return &concatCursor{cursors: cursors}
}

func (c *concatCursor) Columns() []string {
	return c.cursors[0].Columns()
}

func (c *concatCursor) Next() bool {
	for c.err == nil && c.current < len(c.cursors) {
		cur := c.cursors[c.current]
		if cur.Next() {
			return true
		}
		if err := cur.Err(); err != nil {
			c.err = err
			return false
		}
		c.current++
	}
	return false
}

func (c *concatCursor) Row() []any {
	if c.current >= len(c.cursors) {
		return nil
	}
	return c.cursors[c.current].Row()
}

func (c *concatCursor) Err() error { return c.err }

func (c *concatCursor) Close() error {
	closeAll(c.cursors)
	return nil
}

// newFirstCursor 只读取第一个有数据的分片，其余分片不再消费
func newFirstCursor(cursors []Cursor) Cursor {
	return &firstCursor{concatCursor: newConcatCursor(cursors), chosen: -1}
}

type firstCursor struct {
	*concatCursor
	chosen int
}

func (c *firstCursor) Next() bool {
	if c.chosen >= 0 {
		cur := c.cursors[c.chosen]
		if cur.Next() {
			return true
		}
		c.err = cur.Err()
		return false
	}
	if !c.concatCursor.Next() {
		return false
	}
	c.chosen = c.current
	return true
}

// limitCursor 跳过 Start 行后最多返回 End-Start 行
type limitCursor struct {
	Cursor
	rng  Range
	seen int
}

func limit(c Cursor, rng Range) Cursor {
	if rng.IsZero() {
		return c
	}
	return &limitCursor{Cursor: c, rng: rng}
}

func (c *limitCursor) Next() bool {
	for c.seen < c.rng.Start {
		if !c.Cursor.Next() {
			return false
		}
		c.seen++
	}
	if c.rng.End > 0 && c.seen >= c.rng.End {
		return false
	}
	if !c.Cursor.Next() {
		return false
	}
	c.seen++
	return true
}
