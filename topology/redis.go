package topology

import (
	"context"
	"strings"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/connector"
)

// AllFederations 广播该载荷时失效所有联邦
const AllFederations = "*"

// Invalidator 可被失效的拓扑缓存
type Invalidator interface {
	Invalidate(name string)
	InvalidateAll()
}

// RedisInvalidator 通过 Redis Pub/Sub 在进程间广播拓扑失效
//
// 成员的增减由带外的管理操作完成，完成后调用 Publish 通知所有进程重新发现。
type RedisInvalidator struct {
	conn     connector.RedisConnector
	registry Invalidator
	channel  string
	logger   clog.Logger
}

// NewRedisInvalidator 创建失效广播器，conn 由调用方负责 Connect 与 Close
func NewRedisInvalidator(conn connector.RedisConnector, registry Invalidator, opts ...Option) *RedisInvalidator {
	o := applyOptions(opts)
	return &RedisInvalidator{
		conn:     conn,
		registry: registry,
		channel:  o.channel,
		logger:   o.logger.With(clog.String("channel", o.channel)),
	}
}

// Run 订阅频道并处理失效消息，阻塞直到 ctx 取消
func (r *RedisInvalidator) Run(ctx context.Context) error {
	sub := r.conn.GetClient().Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		r.logger.ErrorContext(ctx, "subscribe failed", clog.Error(err))
		return err
	}
	r.logger.InfoContext(ctx, "listening for topology invalidations")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

// Publish 广播联邦失效，name 为 AllFederations 时失效全部
func (r *RedisInvalidator) Publish(ctx context.Context, name string) error {
	return r.conn.GetClient().Publish(ctx, r.channel, name).Err()
}

func (r *RedisInvalidator) handle(payload string) {
	name := strings.TrimSpace(payload)
	switch name {
	case "":
		r.logger.Warn("ignoring empty invalidation message")
	case AllFederations:
		r.registry.InvalidateAll()
	default:
		r.registry.Invalidate(name)
	}
}
