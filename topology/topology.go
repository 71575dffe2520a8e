// Package topology 维护联邦到有序成员列表的进程级缓存。
//
// 每个联邦在首次访问时通过 Discoverer 查询两次存储（联邦 ID、成员边界），
// 并发的首次访问经 singleflight 合并为一次查询。结果缓存到显式失效为止；
// 存储中不存在的联邦缓存为空列表，查询错误不缓存。
package topology

import (
	"context"
	"fmt"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/xerrors"
)

// Discoverer 从存储中读取联邦的成员边界
type Discoverer interface {
	// FederationID 按名称解析联邦内部 ID，不存在时 found 为 false
	FederationID(ctx context.Context, name string) (id any, found bool, err error)

	// MemberBounds 返回联邦的全部成员，按上界升序
	MemberBounds(ctx context.Context, fed *federation.Federation, id any) ([]federation.Member, error)
}

// Registry 拓扑注册表，并发安全
type Registry struct {
	catalog    *federation.Catalog
	discoverer Discoverer
	cache      *otter.Cache[string, []federation.Member]
	group      singleflight.Group
	logger     clog.Logger

	discoveries metrics.Counter
}

// New 创建拓扑注册表
func New(catalog *federation.Catalog, discoverer Discoverer, opts ...Option) (*Registry, error) {
	if catalog == nil || discoverer == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "topology: catalog and discoverer are required")
	}
	o := applyOptions(opts)

	cache, err := otter.New(&otter.Options[string, []federation.Member]{
		MaximumSize: o.cacheSize,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build topology cache")
	}

	discoveries, err := o.meter.Counter("fedgate_topology_discoveries_total", "member boundary discoveries against the store")
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to create discovery counter")
	}

	return &Registry{
		catalog:     catalog,
		discoverer:  discoverer,
		cache:       cache,
		logger:      o.logger,
		discoveries: discoveries,
	}, nil
}

// Catalog 返回注册表使用的联邦目录
func (r *Registry) Catalog() *federation.Catalog {
	return r.catalog
}

// Members 返回联邦的有序成员列表，返回值是副本，调用方可以修改
func (r *Registry) Members(ctx context.Context, name string) ([]federation.Member, error) {
	fed, ok := r.catalog.Federation(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFederation, name)
	}
	if members, ok := r.cache.GetIfPresent(name); ok {
		return cloneMembers(members), nil
	}

	// 合并后的查询与发起者的取消解耦，每个调用方只受自己的 ctx 约束
	flight := r.group.DoChan(name, func() (any, error) {
		if members, ok := r.cache.GetIfPresent(name); ok {
			return members, nil
		}
		members, err := r.discover(context.WithoutCancel(ctx), fed)
		if err != nil {
			return nil, err
		}
		r.cache.Set(name, members)
		return members, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneMembers(res.Val.([]federation.Member)), nil
	}
}

func (r *Registry) discover(ctx context.Context, fed *federation.Federation) ([]federation.Member, error) {
	r.discoveries.Inc(ctx, metrics.L("federation", fed.Name))

	id, found, err := r.discoverer.FederationID(ctx, fed.Name)
	if err != nil {
		r.logger.ErrorContext(ctx, "resolve federation id failed", clog.String("federation", fed.Name), clog.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscovery, fed.Name, err)
	}
	if !found {
		r.logger.WarnContext(ctx, "federation not present in store", clog.String("federation", fed.Name))
		return []federation.Member{}, nil
	}

	members, err := r.discoverer.MemberBounds(ctx, fed, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "load member bounds failed", clog.String("federation", fed.Name), clog.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscovery, fed.Name, err)
	}

	r.logger.InfoContext(ctx, "federation topology loaded",
		clog.String("federation", fed.Name),
		clog.Int("members", len(members)))
	return members, nil
}

// Invalidate 丢弃联邦的缓存，下次访问重新发现
func (r *Registry) Invalidate(name string) {
	r.cache.Invalidate(name)
	r.logger.Debug("topology invalidated", clog.String("federation", name))
}

// InvalidateAll 丢弃所有联邦的缓存
func (r *Registry) InvalidateAll() {
	for _, name := range r.catalog.Names() {
		r.cache.Invalidate(name)
	}
	r.logger.Debug("topology invalidated", clog.String("federation", "*"))
}

func cloneMembers(members []federation.Member) []federation.Member {
	return append([]federation.Member{}, members...)
}
