package dialect

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/federation"
)

// DefaultOwnershipErrorNumber 插入的分布键超出当前成员范围时 SQL Azure 返回的错误号
const DefaultOwnershipErrorNumber int32 = 45022

// sqlErrorNumber 暴露 SQL Server 错误号的驱动错误
type sqlErrorNumber interface {
	SQLErrorNumber() int32
}

// Azure SQL Azure Federations 方言
type Azure struct {
	// OwnershipErrorNumber 识别为"行不属于本成员"的错误号
	OwnershipErrorNumber int32
}

// NewAzure 创建使用默认错误号的 Azure 方言
func NewAzure() *Azure {
	return &Azure{OwnershipErrorNumber: DefaultOwnershipErrorNumber}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) ScopeStatement(target federation.ShardTarget, fed *federation.Federation) string {
	if target.IsRoot() || fed == nil {
		return "USE FEDERATION ROOT WITH RESET"
	}
	value := target.Low
	if !value.IsFinite() {
		value = federation.MinValue(fed.RangeType)
	}
	return fmt.Sprintf("USE FEDERATION %s (%s = %s) WITH FILTERING=OFF, RESET",
		fed.Name, fed.DistributionKey, azureLiteral(value))
}

func (a *Azure) FederationIDQuery() string {
	return "SELECT federation_id FROM sys.federations WHERE name = ?"
}

func (a *Azure) MemberBoundsQuery(typ federation.RangeType) string {
	t := typ.SQLType()
	return fmt.Sprintf("SELECT CAST(range_low AS %s) AS range_low, CAST(range_high AS %s) AS range_high, '' AS location "+
		"FROM sys.federation_member_distributions WHERE federation_id = ? ORDER BY range_low", t, t)
}

// TableExistsQuery 基于分区统计视图的表探测，参数：table
func (a *Azure) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM sys.dm_db_partition_stats WHERE OBJECT_NAME(object_id) = ?"
}

func (a *Azure) TableExists(ctx context.Context, session *gorm.DB, table string) (bool, error) {
	var count int64
	if err := session.WithContext(ctx).Raw(a.TableExistsQuery(), table).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *Azure) CreateTableStatement(base string, fed *federation.Federation, table string, _ federation.Member) string {
	column, _ := fed.PartitionColumn(table)
	if column == "" {
		return base
	}
	return appendBeforeTerminator(base, fmt.Sprintf(" FEDERATED ON (%s = %s)", fed.DistributionKey, column))
}

func (a *Azure) IsOwnershipRejection(err error) bool {
	var coded sqlErrorNumber
	if errors.As(err, &coded) {
		return coded.SQLErrorNumber() == a.OwnershipErrorNumber
	}
	return false
}

func azureLiteral(v federation.Value) string {
	switch v.Type() {
	case federation.RangeGUID:
		return "'" + v.GUID().String() + "'"
	case federation.RangeBytes:
		if len(v.Bytes()) == 0 {
			return "0x"
		}
		return v.String()
	default:
		return v.String()
	}
}
