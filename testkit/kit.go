// Package testkit 提供测试依赖：日志、指标、以及基于 sqlite 文件的联邦夹具。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	ctx, cancel := NewContext(t, 30*time.Second)
	t.Cleanup(cancel)
	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  metrics.Discard(),
	}
}

// NewLogger 返回测试用 logger，设置 FEDGATE_TEST_LOG=debug 时输出到 stderr，否则静默
func NewLogger() clog.Logger {
	level := os.Getenv("FEDGATE_TEST_LOG")
	if level == "" {
		return clog.Discard()
	}
	logger, err := clog.New(&clog.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回启用的 meter，配合 reader 读取指标
func NewMeter(t *testing.T, opts ...metrics.Option) metrics.Meter {
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "fedgate-test"}, opts...)
	if err != nil {
		t.Fatalf("failed to create meter: %v", err)
	}
	t.Cleanup(func() {
		_ = meter.Shutdown(context.Background())
	})
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
func NewID() string {
	return uuid.New().String()[0:8]
}
