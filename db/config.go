package db

import (
	"strings"

	"github.com/ceyewan/fedgate/breaker"
	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/dialect"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/scatter"
	"github.com/ceyewan/fedgate/xerrors"
)

// 支持的存储方言
const (
	DialectCatalog = "catalog"
	DialectAzure   = "azure"
)

// Config DB 组件配置
type Config struct {
	// Dialect 存储方言: "catalog" 或 "azure"
	// 默认值: "catalog"
	Dialect string `json:"dialect" yaml:"dialect" mapstructure:"dialect"`

	// Workers 分散-聚合共享工作池大小
	// 默认值: 16
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// OwnershipErrorNumber azure 方言下"行不属于本成员"的 SQL 错误号
	// 默认值: 45022
	OwnershipErrorNumber int32 `json:"ownership_error_number" yaml:"ownership_error_number" mapstructure:"ownership_error_number"`

	// Federations 联邦列表
	Federations []federation.Config `json:"federations" yaml:"federations" mapstructure:"federations"`

	// Members 成员连接模板，DSN 由目录中的成员位置替换（catalog 方言）
	Members connector.SQLConfig `json:"members" yaml:"members" mapstructure:"members"`

	// Breaker 分片会话建立的熔断配置，为空时不启用
	Breaker *breaker.Config `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

func (c *Config) setDefaults() {
	c.Dialect = strings.ToLower(strings.TrimSpace(c.Dialect))
	if c.Dialect == "" {
		c.Dialect = DialectCatalog
	}
	if c.Workers <= 0 {
		c.Workers = scatter.DefaultPoolSize
	}
	if c.OwnershipErrorNumber == 0 {
		c.OwnershipErrorNumber = dialect.DefaultOwnershipErrorNumber
	}
}

func (c *Config) validate() error {
	switch c.Dialect {
	case DialectCatalog, DialectAzure:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported dialect: %s (must be 'catalog' or 'azure')", c.Dialect)
	}
	return nil
}

func (c *Config) dialect() dialect.Dialect {
	if c.Dialect == DialectAzure {
		d := dialect.NewAzure()
		d.OwnershipErrorNumber = c.OwnershipErrorNumber
		return d
	}
	return dialect.NewCatalog()
}
