package metrics

// Config 指标配置
type Config struct {
	// Enabled 为 false 时 New 返回空实现
	Enabled bool `mapstructure:"enabled"`

	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`

	// Port 与 Path 都设置时启动独立的抓取 HTTP 服务
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}
