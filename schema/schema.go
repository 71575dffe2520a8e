// Package schema 提供实体到表的映射查询：类型对应的表、字段对应的列、外键关系，
// 以及按表注册的分区键提取器。
//
// 分区键提取器在注册时确定，写路径不做运行期反射：
//
//	reg := schema.NewRegistry()
//	_ = reg.RegisterModel(&Order{}, schema.KeyFunc(func(v any) (any, bool) {
//		o, ok := v.(*Order)
//		return o.CustomerID, ok
//	}))
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	gormschema "gorm.io/gorm/schema"
)

// KeyFunc 从实体实例中取出分区键，ok 为 false 表示无法求值
type KeyFunc func(identity any) (value any, ok bool)

// PartitionKeyer 实体自带的分区键访问器
type PartitionKeyer interface {
	PartitionKey() any
}

// ForeignKey 一条外键：本表的 Column 引用 RefTable
type ForeignKey struct {
	Column   string
	RefTable string
}

// Entity 一个表的映射描述
type Entity struct {
	Table       string
	Type        reflect.Type      // 可为空，仅用于 TableFor
	Columns     map[string]string // 字段名 -> 列名
	ForeignKeys []ForeignKey
	Key         KeyFunc
}

// Registry 并发安全的映射注册表
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	byType   map[reflect.Type]string
	namer    gormschema.Namer
	cache    *sync.Map
}

// NewRegistry 创建空注册表，RegisterModel 使用 GORM 默认命名策略
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		byType:   make(map[reflect.Type]string),
		namer:    gormschema.NamingStrategy{},
		cache:    &sync.Map{},
	}
}

// Register 注册或覆盖一个表的映射
func (r *Registry) Register(e Entity) {
	table := strings.ToLower(e.Table)
	stored := e
	stored.Table = table
	stored.Columns = make(map[string]string, len(e.Columns))
	for field, column := range e.Columns {
		stored.Columns[field] = column
	}
	stored.ForeignKeys = make([]ForeignKey, len(e.ForeignKeys))
	for i, fk := range e.ForeignKeys {
		stored.ForeignKeys[i] = ForeignKey{Column: fk.Column, RefTable: strings.ToLower(fk.RefTable)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[table] = &stored
	if e.Type != nil {
		r.byType[indirect(e.Type)] = table
	}
}

// RegisterModel 通过 GORM schema 解析模型的表名、列名与 belongs-to 外键
//
// key 为空且模型实现了 PartitionKeyer 时使用其 PartitionKey。
func (r *Registry) RegisterModel(model any, key KeyFunc) error {
	s, err := gormschema.Parse(model, r.cache, r.namer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	e := Entity{
		Table:   s.Table,
		Type:    s.ModelType,
		Columns: make(map[string]string, len(s.Fields)),
		Key:     key,
	}
	for _, f := range s.Fields {
		if f.DBName != "" {
			e.Columns[f.Name] = f.DBName
		}
	}
	for _, rel := range s.Relationships.BelongsTo {
		for _, ref := range rel.References {
			if ref.ForeignKey == nil || ref.OwnPrimaryKey {
				continue
			}
			e.ForeignKeys = append(e.ForeignKeys, ForeignKey{
				Column:   ref.ForeignKey.DBName,
				RefTable: rel.FieldSchema.Table,
			})
		}
	}
	r.Register(e)
	return nil
}

// TableFor 返回实体类型（或其指针）对应的表
func (r *Registry) TableFor(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.byType[indirect(t)]
	return table, ok
}

// ColumnFor 返回表中字段对应的列名
func (r *Registry) ColumnFor(table, field string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[strings.ToLower(table)]
	if !ok {
		return "", false
	}
	column, ok := e.Columns[field]
	return column, ok
}

// ForeignKeys 返回表的外键，未注册的表返回 nil
func (r *Registry) ForeignKeys(table string) []ForeignKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[strings.ToLower(table)]
	if !ok {
		return nil
	}
	return append([]ForeignKey(nil), e.ForeignKeys...)
}

// KeyExtractor 返回表的分区键提取器
//
// 未注册 KeyFunc 的表退化为 PartitionKeyer 检查；表未注册时 ok 为 false。
func (r *Registry) KeyExtractor(table string) (KeyFunc, bool) {
	r.mu.RLock()
	e, ok := r.entities[strings.ToLower(table)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.Key != nil {
		return e.Key, true
	}
	return keyerFunc, true
}

func keyerFunc(identity any) (any, bool) {
	if k, ok := identity.(PartitionKeyer); ok {
		v := k.PartitionKey()
		return v, v != nil
	}
	return nil, false
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}
