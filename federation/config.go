package federation

import (
	"fmt"
	"sort"
	"strings"
)

// Config 单个联邦的配置
//
// Tables 为逗号分隔的 "表名[:分区列]" 列表，例如 "orders:customer_id,countries"，
// 省略分区列的表在联邦内完全复制。
type Config struct {
	Name            string `json:"name" yaml:"name" mapstructure:"name"`
	DistributionKey string `json:"distributionKey" yaml:"distribution_key" mapstructure:"distribution_key"`
	RangeType       string `json:"rangeType" yaml:"range_type" mapstructure:"range_type"`
	Tables          string `json:"tables" yaml:"tables" mapstructure:"tables"`
}

// Build 校验配置并构建 Federation
func (c Config) Build() (*Federation, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: federation name is required", ErrInvalidConfig)
	}
	typ := RangeInt64
	if c.RangeType != "" {
		var err error
		if typ, err = ParseRangeType(c.RangeType); err != nil {
			return nil, err
		}
	}

	f := NewFederation(c.Name, c.DistributionKey, typ, nil)
	for _, item := range strings.Split(c.Tables, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		table, column, _ := strings.Cut(item, ":")
		if strings.TrimSpace(table) == "" {
			return nil, fmt.Errorf("%w: federation %s: empty table name", ErrInvalidConfig, c.Name)
		}
		f.addTable(table, column)
	}
	return f, nil
}

// Catalog 所有已配置联邦的只读目录
type Catalog struct {
	feds    map[string]*Federation
	names   []string
	byTable map[string][]*Federation
}

// NewCatalog 由配置构建目录，联邦名称必须唯一
func NewCatalog(cfgs []Config) (*Catalog, error) {
	feds := make([]*Federation, 0, len(cfgs))
	for _, cfg := range cfgs {
		f, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		feds = append(feds, f)
	}
	return NewCatalogFrom(feds...)
}

// NewCatalogFrom 由已构建的联邦创建目录
func NewCatalogFrom(feds ...*Federation) (*Catalog, error) {
	c := &Catalog{
		feds:    make(map[string]*Federation, len(feds)),
		byTable: make(map[string][]*Federation),
	}
	for _, f := range feds {
		if _, dup := c.feds[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate federation %s", ErrInvalidConfig, f.Name)
		}
		c.feds[f.Name] = f
		c.names = append(c.names, f.Name)
		for _, table := range f.order {
			c.byTable[table] = append(c.byTable[table], f)
		}
	}
	return c, nil
}

// Federation 按名称查找联邦
func (c *Catalog) Federation(name string) (*Federation, bool) {
	f, ok := c.feds[name]
	return f, ok
}

// Names 按配置顺序返回所有联邦名称
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// FederationsFor 返回拥有该表的所有联邦，按配置顺序
func (c *Catalog) FederationsFor(table string) []*Federation {
	return append([]*Federation(nil), c.byTable[strings.ToLower(table)]...)
}

// Tables 返回目录中出现过的所有表名（排序后）
func (c *Catalog) Tables() []string {
	tables := make([]string, 0, len(c.byTable))
	for table := range c.byTable {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
