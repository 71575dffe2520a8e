// Package clog 为 fedgate 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 支持层级命名空间，各组件通过 WithNamespace 区分（topology、routing、scatter ...）
//   - 采用函数式选项模式
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stdout",
//	})
//	logger.Info("shard session opened", clog.String("target", "FED_1/0"))
package clog

import "context"

// Logger 日志接口
//
// 每个级别都有带 Context 的版本，用于提取 WithContextField 配置的字段。
// 子 Logger 通过 With（预设字段）和 WithNamespace（追加命名空间）派生：
//
//	shardLogger := logger.WithNamespace("shardconn").With(clog.String("federation", "FED_1"))
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建一个扩展命名空间的子 Logger，命名空间以 "." 连接
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，对所有派生的子 Logger 生效
	SetLevel(level Level) error

	// Flush 强制同步所有缓冲区的日志
	Flush()
}
