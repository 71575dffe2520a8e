// Package metrics 为 fedgate 提供指标收集能力。
//
// 基于 OpenTelemetry 构建，通过 Prometheus Exporter 暴露，
// 提供 Counter、Gauge、Histogram 三类指标。组件通过 WithMeter 注入 Meter，
// 未注入时使用 Discard() 返回的空实现。
//
//	meter, _ := metrics.New(&metrics.Config{Enabled: true, ServiceName: "fedgate", Port: 9090, Path: "/metrics"})
//	defer meter.Shutdown(ctx)
//	tasks, _ := meter.Counter("fedgate_scatter_tasks_total", "scatter tasks by outcome")
//	tasks.Inc(ctx, metrics.L("federation", "FED_1"), metrics.L("outcome", "ok"))
package metrics

import (
	"context"
	"net/http"
)

// Counter 单调递增的累加器
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可增可减的仪表盘
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 分布统计，常用于耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点，空实现返回 404
	Handler() http.Handler

	// Shutdown 刷新并关闭 Provider 与 HTTP 服务
	Shutdown(ctx context.Context) error
}

// MetricOption 单个指标的选项
type MetricOption func(*MetricOptions)

// MetricOptions 单个指标的配置
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置指标单位，例如 "s"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图分桶边界
func WithBuckets(buckets ...float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = buckets
	}
}

// Label 指标标签
type Label struct {
	Key   string
	Value string
}

// L 创建标签的简写
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
