package dialect

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/federation"
)

// 根库中的目录表
const (
	FederationsTable   = "federations"
	DistributionsTable = "federation_member_distributions"

	// RangeConstraintName 成员范围 CHECK 约束的名称，违反它即视为所有权拒绝
	RangeConstraintName = "member_range"
)

// CatalogSchema 根库目录表的建表语句
var CatalogSchema = []string{
	"CREATE TABLE IF NOT EXISTS " + FederationsTable + " (federation_id INTEGER PRIMARY KEY, name VARCHAR(128) NOT NULL UNIQUE)",
	"CREATE TABLE IF NOT EXISTS " + DistributionsTable + " (federation_id INTEGER NOT NULL, member_id INTEGER NOT NULL, " +
		"range_low BLOB, range_high BLOB, location VARCHAR(1024) NOT NULL, PRIMARY KEY (federation_id, member_id))",
}

// Catalog 可移植方言，成员是独立数据库，连接即定位
type Catalog struct{}

// NewCatalog 创建目录方言
func NewCatalog() *Catalog {
	return &Catalog{}
}

func (c *Catalog) Name() string { return "catalog" }

func (c *Catalog) ScopeStatement(federation.ShardTarget, *federation.Federation) string {
	return ""
}

func (c *Catalog) FederationIDQuery() string {
	return "SELECT federation_id FROM " + FederationsTable + " WHERE name = ?"
}

// MemberBoundsQuery NULL 下界表示 -∞，NULL 上界表示 +∞，按 member_id 排序
func (c *Catalog) MemberBoundsQuery(federation.RangeType) string {
	return "SELECT range_low, range_high, location FROM " + DistributionsTable +
		" WHERE federation_id = ? ORDER BY member_id"
}

// TableExists 委托给驱动自身的 Migrator，兼容 mysql、postgres、sqlite
func (c *Catalog) TableExists(ctx context.Context, session *gorm.DB, table string) (bool, error) {
	return session.WithContext(ctx).Migrator().HasTable(table), nil
}

func (c *Catalog) CreateTableStatement(base string, fed *federation.Federation, table string, member federation.Member) string {
	column, _ := fed.PartitionColumn(table)
	// guid 的文本比较与 uniqueidentifier 的存储顺序不一致，不生成约束
	if column == "" || fed.RangeType == federation.RangeGUID {
		return base
	}
	var conds []string
	if member.Low.IsFinite() {
		conds = append(conds, fmt.Sprintf("%s > %s", column, catalogLiteral(member.Low)))
	}
	if member.High.IsFinite() {
		conds = append(conds, fmt.Sprintf("%s <= %s", column, catalogLiteral(member.High)))
	}
	if len(conds) == 0 {
		return base
	}
	return insertBeforeClosingParen(base,
		fmt.Sprintf("CONSTRAINT %s CHECK (%s)", RangeConstraintName, strings.Join(conds, " AND ")))
}

func (c *Catalog) IsOwnershipRejection(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), RangeConstraintName)
}

func catalogLiteral(v federation.Value) string {
	switch v.Type() {
	case federation.RangeBytes:
		return "X'" + hex.EncodeToString(v.Bytes()) + "'"
	default:
		return v.String()
	}
}
