package merge

import (
	"container/heap"
	"fmt"
)

// orderedCursor 对各自有序的分片游标做 k 路归并
type orderedCursor struct {
	cursors []Cursor
	keys    []SortKey
	index   []int
	h       rowHeap
	row     []any
	started bool
	err     error
}

func newOrderedCursor(cursors []Cursor, keys []SortKey) (*orderedCursor, error) {
	columns := cursors[0].Columns()
	index := make([]int, len(keys))
	for i, k := range keys {
		idx, ok := columnIndex(columns, k.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k.Column)
		}
		index[i] = idx
	}
	c := &orderedCursor{cursors: cursors, keys: keys, index: index}
	c.h.less = c.less
	return c, nil
}

func (c *orderedCursor) Columns() []string {
	return c.cursors[0].Columns()
}

// less 按排序键比较，键相等时按分片提交顺序
func (c *orderedCursor) less(a, b heapItem) bool {
	for i, k := range c.keys {
		cmp := Compare(a.row[c.index[i]], b.row[c.index[i]])
		if k.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
	}
	return a.shard < b.shard
}

func (c *orderedCursor) advance(shard int) bool {
	cur := c.cursors[shard]
	if cur.Next() {
		row := append([]any(nil), cur.Row()...)
		heap.Push(&c.h, heapItem{shard: shard, row: row})
		return true
	}
	if err := cur.Err(); err != nil {
		c.err = err
	}
	return false
}

func (c *orderedCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.started {
		c.started = true
		for i := range c.cursors {
			c.advance(i)
			if c.err != nil {
				return false
			}
		}
	}
	if c.h.Len() == 0 {
		c.row = nil
		return false
	}
	top := heap.Pop(&c.h).(heapItem)
	c.row = top.row
	c.advance(top.shard)
	return c.err == nil
}

func (c *orderedCursor) Row() []any { return c.row }
func (c *orderedCursor) Err() error { return c.err }

func (c *orderedCursor) Close() error {
	closeAll(c.cursors)
	return nil
}

type heapItem struct {
	shard int
	row   []any
}

type rowHeap struct {
	items []heapItem
	less  func(a, b heapItem) bool
}

func (h *rowHeap) Len() int           { return len(h.items) }
func (h *rowHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *rowHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rowHeap) Push(x any)         { h.items = append(h.items, x.(heapItem)) }

func (h *rowHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}
