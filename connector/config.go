package connector

import (
	"fmt"
	"strings"
	"time"
)

// 支持的 SQL 驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLConfig SQL 连接配置
type SQLConfig struct {
	Name   string `mapstructure:"name"`   // 连接器名称 (默认: "default")
	Driver string `mapstructure:"driver"` // [必填] mysql | postgres | sqlite
	DSN    string `mapstructure:"dsn"`    // [必填] 驱动原生 DSN，sqlite 为文件路径

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数 (默认: 10)
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数 (默认: 100)
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大生命周期 (默认: 1h)
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`    // 慢查询阈值 (默认: 200ms)
}

func (c *SQLConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	c.Driver = strings.ToLower(c.Driver)
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 100
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

func (c *SQLConfig) validate() error {
	c.setDefaults()
	switch c.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

// WithDSN 返回替换了 DSN 与 Name 的副本，用于按成员位置打开连接
func (c SQLConfig) WithDSN(name, dsn string) *SQLConfig {
	c.Name = name
	c.DSN = dsn
	return &c
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Name     string `mapstructure:"name"`     // 连接器名称 (默认: "default")
	Addr     string `mapstructure:"addr"`     // [必填] 连接地址，如 "127.0.0.1:6379"
	Password string `mapstructure:"password"` // [可选] 认证密码
	DB       int    `mapstructure:"db"`       // [可选] 数据库编号 (默认: 0)

	PoolSize     int           `mapstructure:"pool_size"`      // 连接池大小 (默认: 10)
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 最小空闲连接数 (默认: 2)
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 连接超时 (默认: 5s)
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 读取超时 (默认: 3s)
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 写入超时 (默认: 3s)
}

func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 2
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c *RedisConfig) validate() error {
	c.setDefaults()
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must not be negative")
	}
	return nil
}
