// Package connector 管理 fedgate 依赖的外部连接：根库与成员库的 SQL 连接、
// 以及用于拓扑失效广播的 Redis 连接。
//
// 连接器遵循"谁创建，谁负责释放"：New 只做配置校验，Connect 建立连接（幂等），
// Close 释放资源。组件只借用连接器，不调用 Close。
//
//	root, _ := connector.NewSQL(&connector.SQLConfig{Driver: "mysql", DSN: dsn}, connector.WithLogger(logger))
//	defer root.Close()
//	if err := root.Connect(ctx); err != nil {
//		return err
//	}
//	gdb := root.GetClient()
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Connector 所有连接器的通用行为，方法均为并发安全
type Connector interface {
	// Connect 建立连接，可重复调用
	Connect(ctx context.Context) error

	// Close 关闭连接，可重复调用
	Close() error

	// HealthCheck 主动探测连接并更新健康状态
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最近一次探测的结果
	IsHealthy() bool

	// Name 连接器实例名称，用于日志
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Connect 之前或 Close 之后可能为 nil
	GetClient() T
}

// SQLConnector 基于 GORM 的 SQL 连接器（mysql、postgres、sqlite）
type SQLConnector interface {
	TypedConnector[*gorm.DB]
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}
