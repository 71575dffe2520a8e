// Package federation 定义联邦分片的数据模型：范围类型与取值、联邦、成员、分片目标，
// 以及由配置构建的联邦目录 Catalog。
//
// 成员按上界升序排列，第 i 个成员拥有区间 (High[i-1], High[i]]，
// 首成员下界为 -∞，末成员上界为 +∞。
package federation

import (
	"fmt"
	"strings"
)

// DefaultDistributionKey 未配置分布键名称时使用的默认值
const DefaultDistributionKey = "range_id"

// Federation 一个按分布键范围分片的联邦
type Federation struct {
	Name            string
	DistributionKey string
	RangeType       RangeType

	// tables 表名（小写）到分区列的映射，分区列为空表示该表在联邦内完全复制
	tables map[string]string
	order  []string
}

// NewFederation 创建联邦，tables 的 value 为空表示本地复制表
func NewFederation(name, distributionKey string, typ RangeType, tables map[string]string) *Federation {
	if distributionKey == "" {
		distributionKey = DefaultDistributionKey
	}
	f := &Federation{
		Name:            name,
		DistributionKey: distributionKey,
		RangeType:       typ,
		tables:          make(map[string]string, len(tables)),
	}
	for table, column := range tables {
		f.addTable(table, column)
	}
	return f
}

func (f *Federation) addTable(table, column string) {
	key := strings.ToLower(strings.TrimSpace(table))
	if _, ok := f.tables[key]; !ok {
		f.order = append(f.order, key)
	}
	f.tables[key] = strings.TrimSpace(column)
}

// HasTable 表是否属于该联邦
func (f *Federation) HasTable(table string) bool {
	_, ok := f.tables[strings.ToLower(table)]
	return ok
}

// PartitionColumn 返回表的分区列，ok 为 false 表示表不属于该联邦
func (f *Federation) PartitionColumn(table string) (column string, ok bool) {
	column, ok = f.tables[strings.ToLower(table)]
	return column, ok
}

// IsKeyPartitioned 表在该联邦中按分区列切分
func (f *Federation) IsKeyPartitioned(table string) bool {
	column, ok := f.PartitionColumn(table)
	return ok && column != ""
}

// IsLocallyReplicated 表属于该联邦但没有分区列，每个成员都持有全量副本
func (f *Federation) IsLocallyReplicated(table string) bool {
	column, ok := f.PartitionColumn(table)
	return ok && column == ""
}

// Tables 按配置顺序返回表名
func (f *Federation) Tables() []string {
	return append([]string(nil), f.order...)
}

// Member 联邦中的一个物理成员，拥有区间 (Low, High]
type Member struct {
	Federation string
	Ordinal    int
	Low        Value
	High       Value

	// Location 成员的连接位置，为空表示与根库共用同一个端点
	Location string
}

// Contains 判断 v 是否落在成员区间内
func (m Member) Contains(v Value) bool {
	if !m.Low.IsNegInfinity() && v.Compare(m.Low) <= 0 {
		return false
	}
	return m.High.IsPosInfinity() || v.Compare(m.High) <= 0
}

// Target 返回指向该成员的分片目标
func (m Member) Target() ShardTarget {
	return ShardTarget{
		Federation: m.Federation,
		Ordinal:    m.Ordinal,
		Low:        m.Low,
		High:       m.High,
		Location:   m.Location,
	}
}

func (m Member) String() string {
	return fmt.Sprintf("%s/%d(%s,%s]", m.Federation, m.Ordinal, m.Low, m.High)
}

// ShardTarget 一个可连接的分片：根库，或 (联邦, 成员)
type ShardTarget struct {
	Federation string
	Ordinal    int
	Low        Value
	High       Value
	Location   string
}

// RootKey 根库目标的 Key
const RootKey = "root"

// Root 返回根库目标
func Root() ShardTarget {
	return ShardTarget{}
}

// IsRoot 是否为根库
func (t ShardTarget) IsRoot() bool {
	return t.Federation == ""
}

// Key 分片目标的唯一标识，例如 "root"、"FED_1/0"
func (t ShardTarget) Key() string {
	if t.IsRoot() {
		return RootKey
	}
	return fmt.Sprintf("%s/%d", t.Federation, t.Ordinal)
}

func (t ShardTarget) String() string {
	return t.Key()
}
