// Package config 为 fedgate 提供配置加载能力，基于 Viper 实现。
//
// 加载顺序（后者覆盖前者）：基础配置文件 < 环境特定配置文件 < .env < 环境变量。
// 环境变量以 EnvPrefix 为前缀，"." 替换为 "_"，例如 FEDGATE_DB_WORKERS 覆盖 db.workers。
//
//	loader, _ := config.New(&config.Config{Name: "fedgate", Paths: []string{"./config"}})
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//	var cfg db.Config
//	_ = loader.UnmarshalKey("db", &cfg)
package config

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/fedgate/clog"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置，并开始监听文件变化
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听指定 Key 的变化，ctx 取消后关闭返回的通道
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "fedgate"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型，默认 "yaml"
	EnvPrefix string   // 环境变量前缀，默认 "FEDGATE"
	Required  []string // 必须存在的配置 Key，Validate 时检查
}

func (c *Config) validate() {
	if c.Name == "" {
		c.Name = "fedgate"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "FEDGATE"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入 Logger，用于输出加载过程中的告警
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.validate()

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}
