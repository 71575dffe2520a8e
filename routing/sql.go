package routing

import (
	"fmt"
	"strings"

	"github.com/longbridgeapp/sqlparser"
)

// StatementKind 原生 SQL 的语句类型
type StatementKind int

const (
	Select StatementKind = iota
	Insert
	Update
	Delete
)

func (k StatementKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "select"
	}
}

// Classify 解析原生 SQL，返回主表名（小写）与语句类型
//
// SELECT 取 FROM 中第一个表；INSERT、UPDATE、DELETE 取目标表。
// 语法分析失败时（关键字列名、TOP、方括号标识符等方言写法）按词法记号提取表名。
func Classify(query string) (string, StatementKind, error) {
	stmt, err := sqlparser.NewParser(strings.NewReader(query)).ParseStatement()
	if err != nil {
		if table, kind, ok := scanTable(query); ok {
			return table, kind, nil
		}
		return "", Select, fmt.Errorf("%w: %v", ErrUnparseableTable, err)
	}

	var (
		name *sqlparser.TableName
		kind StatementKind
	)
	switch s := stmt.(type) {
	case *sqlparser.SelectStatement:
		name, kind = sourceTable(s.FromItems), Select
	case *sqlparser.InsertStatement:
		name, kind = s.TableName, Insert
	case *sqlparser.UpdateStatement:
		name, kind = s.TableName, Update
	case *sqlparser.DeleteStatement:
		name, kind = s.TableName, Delete
	}
	if name == nil || name.Name == nil || name.Name.Name == "" {
		return "", kind, fmt.Errorf("%w: %q", ErrUnparseableTable, query)
	}
	return strings.ToLower(name.Name.Name), kind, nil
}

// TableFromSQL 从原生 SQL 中解析出主表名（小写）
func TableFromSQL(query string) (string, error) {
	table, _, err := Classify(query)
	return table, err
}

func sourceTable(src sqlparser.Source) *sqlparser.TableName {
	switch s := src.(type) {
	case *sqlparser.TableName:
		return s
	case *sqlparser.JoinClause:
		return sourceTable(s.X)
	default:
		return nil
	}
}

type lexeme struct {
	tok sqlparser.Token
	lit string
}

// scanTable 在词法记号上定位语句类型与主表名
func scanTable(query string) (string, StatementKind, bool) {
	var toks []lexeme
	lexer := sqlparser.NewLexer(strings.NewReader(query))
	for {
		_, tok, lit := lexer.Lex()
		if tok == sqlparser.EOF {
			break
		}
		toks = append(toks, lexeme{tok: tok, lit: lit})
	}

	for i, t := range toks {
		switch t.tok {
		case sqlparser.SELECT:
			if at := topLevelFrom(toks, i+1); at >= 0 {
				return nameAt(toks, at+1, Select)
			}
			return "", Select, false
		case sqlparser.INSERT:
			j := skipTop(toks, i+1)
			if j < len(toks) && toks[j].tok == sqlparser.INTO {
				j++
			}
			return nameAt(toks, j, Insert)
		case sqlparser.UPDATE:
			return nameAt(toks, skipTop(toks, i+1), Update)
		case sqlparser.DELETE:
			j := skipTop(toks, i+1)
			if j < len(toks) && toks[j].tok == sqlparser.FROM {
				j++
			}
			return nameAt(toks, j, Delete)
		}
	}
	return "", Select, false
}

// topLevelFrom 返回不在括号内的第一个 FROM 的下标
func topLevelFrom(toks []lexeme, from int) int {
	depth := 0
	for i := from; i < len(toks); i++ {
		switch toks[i].tok {
		case sqlparser.LP:
			depth++
		case sqlparser.RP:
			depth--
		case sqlparser.FROM:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// skipTop 跳过 T-SQL 的 TOP n 与 TOP (n)
func skipTop(toks []lexeme, i int) int {
	if i >= len(toks) || !strings.EqualFold(toks[i].lit, "top") {
		return i
	}
	i++
	if i < len(toks) && toks[i].tok == sqlparser.LP {
		for i < len(toks) && toks[i].tok != sqlparser.RP {
			i++
		}
	}
	return i + 1
}

// nameAt 读取 i 处的（可能带库名、schema 前缀的）表名，取最后一段
func nameAt(toks []lexeme, i int, kind StatementKind) (string, StatementKind, bool) {
	var name string
	for i < len(toks) {
		part, next, ok := identAt(toks, i)
		if !ok {
			break
		}
		name, i = part, next
		if i >= len(toks) || toks[i].tok != sqlparser.DOT {
			break
		}
		i++
	}
	if name == "" {
		return "", kind, false
	}
	return strings.ToLower(name), kind, true
}

func identAt(toks []lexeme, i int) (string, int, bool) {
	t := toks[i]
	switch {
	case t.tok == sqlparser.QIDENT:
		q := t.lit[:1]
		inner := t.lit[1 : len(t.lit)-1]
		return strings.ReplaceAll(inner, q+q, q), i + 1, true
	case t.tok == sqlparser.ILLEGAL && t.lit == "[":
		var parts []string
		for j := i + 1; j < len(toks); j++ {
			if toks[j].tok == sqlparser.ILLEGAL && toks[j].lit == "]" {
				return strings.Join(parts, " "), j + 1, len(parts) > 0
			}
			parts = append(parts, toks[j].lit)
		}
		return "", i, false
	case t.tok == sqlparser.IDENT:
		return t.lit, i + 1, true
	default:
		return "", i, false
	}
}
