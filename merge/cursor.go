package merge

import (
	"database/sql"
	"strings"
)

// Cursor 单向、不可重放的行游标
//
// 使用方式与 database/sql.Rows 相同：
//
//	for c.Next() {
//	    row := c.Row()
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor interface {
	Columns() []string
	Next() bool
	// Row 返回当前行，调用方不得在下一次 Next 之后继续持有
	Row() []any
	Err() error
	Close() error
}

type sliceCursor struct {
	columns []string
	rows    [][]any
	pos     int
}

// NewSliceCursor 基于内存行构造游标
func NewSliceCursor(columns []string, rows [][]any) Cursor {
	return &sliceCursor{columns: columns, rows: rows, pos: -1}
}

func (c *sliceCursor) Columns() []string { return c.columns }
func (c *sliceCursor) Err() error        { return nil }

func (c *sliceCursor) Close() error {
	c.pos = len(c.rows)
	return nil
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Row() []any {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil
	}
	return c.rows[c.pos]
}

type rowsCursor struct {
	rows    *sql.Rows
	columns []string
	numeric []bool
	row     []any
	err     error
	closers []func() error
	closed  bool
}

// NewRowsCursor 包装 *sql.Rows，closers 在 Close 时按顺序调用（例如释放分片会话）
func NewRowsCursor(rows *sql.Rows, closers ...func() error) Cursor {
	c := &rowsCursor{rows: rows, closers: closers}
	c.columns, c.err = rows.Columns()
	if c.err != nil {
		return c
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		c.err = err
		return c
	}
	c.numeric = make([]bool, len(types))
	for i, ct := range types {
		c.numeric[i] = isDecimalType(ct.DatabaseTypeName())
	}
	return c
}

// isDecimalType 定点数列：MySQL 以 []byte、pgx 以 string 返回，按数值比较前需要转换
func isDecimalType(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	switch name {
	case "DECIMAL", "NUMERIC", "NEWDECIMAL", "MONEY", "SMALLMONEY":
		return true
	default:
		return false
	}
}

func (c *rowsCursor) Columns() []string { return c.columns }

func (c *rowsCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	values := make([]any, len(c.columns))
	dest := make([]any, len(c.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		c.err = err
		return false
	}
	for i, v := range values {
		if c.numeric[i] {
			values[i] = decimalValue(v)
		}
	}
	c.row = values
	return true
}

func (c *rowsCursor) Row() []any { return c.row }
func (c *rowsCursor) Err() error { return c.err }

func (c *rowsCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rows.Close()
	for _, fn := range c.closers {
		if cerr := fn(); err == nil {
			err = cerr
		}
	}
	return err
}

// Drain 读取游标剩余的全部行并关闭游标
func Drain(c Cursor) ([][]any, error) {
	defer c.Close()
	var rows [][]any
	for c.Next() {
		row := c.Row()
		rows = append(rows, append([]any(nil), row...))
	}
	return rows, c.Err()
}
