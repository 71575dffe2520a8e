package testkit

import (
	"context"
	"os"
	"testing"

	"github.com/ceyewan/fedgate/connector"
)

// RedisAddrEnv 指定集成测试使用的 Redis 地址，未设置时相关测试跳过
const RedisAddrEnv = "FEDGATE_TEST_REDIS_ADDR"

// NewRedisConnector 返回已连接的 Redis 连接器，生命周期由 t.Cleanup 管理
func NewRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	addr := os.Getenv(RedisAddrEnv)
	if addr == "" {
		t.Skipf("%s not set, skipping redis integration test", RedisAddrEnv)
	}

	conn, err := connector.NewRedis(&connector.RedisConfig{Name: "test-redis", Addr: addr, DB: 1}, connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create redis connector: %v", err)
	}
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
