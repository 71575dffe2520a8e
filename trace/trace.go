// Package trace 构建 fedgate 使用的 OpenTelemetry TracerProvider。
//
// 返回的 Provider 交给 db.WithTracer 即可：分散-聚合每次执行一个 span，
// 成员连接器的 SQL 经 otelgorm 成为其子 span。
//
//	tp, _ := trace.New(&trace.Config{ServiceName: "orders", Endpoint: "localhost:4317", Insecure: true})
//	defer tp.Shutdown(ctx)
//	database, _ := db.New(cfg, db.WithRootConnector(root), db.WithTracer(tp))
package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/fedgate/xerrors"
)

// New 创建 TracerProvider，调用方负责 Shutdown 以刷新剩余 span
//
// 额外的 SpanProcessor（例如测试中的记录器）通过 processors 注册。
func New(cfg *Config, processors ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "trace config is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to create resource")
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))),
	}
	if cfg.Endpoint != "" {
		exporterOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(5 * time.Second),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, xerrors.Wrap(err, "failed to create otlp exporter")
		}
		if cfg.Batcher == BatcherSimple {
			opts = append(opts, sdktrace.WithSyncer(exporter))
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Install 把 tp 设为全局 Provider，并设置 W3C TraceContext 与 Baggage 传播
func Install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
