// Package dialect 封装与存储相关的 SQL：分片定位指令、成员边界发现、表存在性探测、
// 建表语句后缀以及"行不属于本成员"错误的识别。
//
// 内置两种方言：
//   - azure：SQL Azure Federations，单一端点，通过 USE FEDERATION 切换成员
//   - catalog：可移植的模拟实现，每个成员是独立数据库，位置登记在根库的目录表中
package dialect

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/xerrors"
)

// ErrUnknownDialect 无法识别的方言名称
var ErrUnknownDialect = xerrors.Wrap(xerrors.ErrInvalidInput, "dialect: unknown dialect")

// Dialect 存储相关的 SQL 生成与错误识别
type Dialect interface {
	Name() string

	// ScopeStatement 返回在物理连接上定位到 target 的指令，空串表示无需定位
	ScopeStatement(target federation.ShardTarget, fed *federation.Federation) string

	// FederationIDQuery 按名称查询联邦内部 ID，参数：name
	FederationIDQuery() string

	// MemberBoundsQuery 查询联邦全部成员的 (range_low, range_high, location)，按下界升序，参数：federation_id
	MemberBoundsQuery(typ federation.RangeType) string

	// TableExists 在已定位到成员的会话上探测表是否存在
	TableExists(ctx context.Context, session *gorm.DB, table string) (bool, error)

	// CreateTableStatement 为成员生成建表语句，base 为标准 CREATE TABLE 语句
	CreateTableStatement(base string, fed *federation.Federation, table string, member federation.Member) string

	// IsOwnershipRejection 判断错误是否为"该行分布键不属于本成员"
	IsOwnershipRejection(err error) bool
}

// New 按名称创建方言：azure | catalog
func New(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "azure":
		return NewAzure(), nil
	case "", "catalog":
		return NewCatalog(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// appendBeforeTerminator 在 CREATE TABLE 语句末尾（分号之前）追加 suffix
func appendBeforeTerminator(stmt, suffix string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(stmt), ";")
	return strings.TrimRight(trimmed, " \t\r\n") + suffix
}

// insertBeforeClosingParen 在列定义的右括号之前插入 clause
func insertBeforeClosingParen(stmt, clause string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(stmt), ";")
	idx := strings.LastIndex(trimmed, ")")
	if idx < 0 {
		return trimmed + " " + clause
	}
	return strings.TrimRight(trimmed[:idx], " \t\r\n") + ", " + clause + trimmed[idx:]
}
