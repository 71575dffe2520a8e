// Package db 提供联邦数据库组件，把拓扑、路由、多路连接、分散-聚合与建表组装为一个入口。
//
// ## 基本使用
//
//	rootConn, _ := connector.NewSQL(&cfg.Root, connector.WithLogger(logger))
//	defer rootConn.Close()
//	rootConn.Connect(ctx)
//
//	database, _ := db.New(&db.Config{
//		Federations: []federation.Config{
//			{Name: "FED_1", DistributionKey: "cid", RangeType: "bigint", Tables: "orders:customer_id,countries"},
//		},
//		Members: connector.SQLConfig{Driver: "mysql"},
//	}, db.WithRootConnector(rootConn), db.WithLogger(logger))
//	defer database.Close()
//
//	// 跨成员查询，结果按 id 归并
//	cur, _ := database.Query(ctx, &scatter.Query{
//		SQL:   "SELECT id, amount FROM orders ORDER BY id",
//		Merge: merge.Descriptor{SortKeys: []merge.SortKey{{Column: "id"}}},
//	}, merge.Range{})
//	defer cur.Close()
//
//	// 事务：写入按分区值路由，提交时扇出到所有打开过的成员
//	err := database.Transaction(ctx, func(ctx context.Context, tx *db.Tx) error {
//		_, err := tx.Write(ctx, shardconn.Mutation{Kind: shardconn.Insert, Table: "orders",
//			SQL: "INSERT INTO orders (id, customer_id) VALUES (?, ?)", Args: []any{1, 7}, Value: 7})
//		return err
//	})
//
// ## 设计原则
//
// - **借用模型**：根库连接器由调用方管理，成员连接池由组件按需创建并在 Close 时关闭
// - **显式依赖**：通过构造函数显式注入连接器和选项
// - **可观测性**：集成 clog、metrics 与 trace
package db

import (
	"context"
	"sync"

	"github.com/ceyewan/fedgate/breaker"
	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/connector"
	"github.com/ceyewan/fedgate/ddl"
	"github.com/ceyewan/fedgate/federation"
	"github.com/ceyewan/fedgate/merge"
	"github.com/ceyewan/fedgate/metrics"
	"github.com/ceyewan/fedgate/replication"
	"github.com/ceyewan/fedgate/routing"
	"github.com/ceyewan/fedgate/scatter"
	"github.com/ceyewan/fedgate/shardconn"
	"github.com/ceyewan/fedgate/topology"
	"github.com/ceyewan/fedgate/xerrors"
)

// DB 定义了联邦数据库组件的核心能力
type DB interface {
	// Conn 打开一个多路连接，调用方负责 Commit/Rollback 与 Close
	Conn(ctx context.Context) (*shardconn.Conn, error)

	// Query 在私有的多路连接上执行分散-聚合查询，连接随返回的游标关闭
	Query(ctx context.Context, q *scatter.Query, rng merge.Range, params ...any) (merge.Cursor, error)

	// Transaction 在一个多路连接上执行事务
	// fn 返回 nil 时提交所有打开过的会话，否则全部回滚
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error

	// EnsureTable 在表所在的全部成员上创建缺失的表
	EnsureTable(ctx context.Context, table, createSQL string) ([]federation.ShardTarget, error)

	// Invalidate 使联邦拓扑失效，启用 Redis 时广播到所有进程；name 为 "*" 时失效全部
	Invalidate(ctx context.Context, name string) error

	// Topology 返回拓扑注册表
	Topology() *topology.Registry

	// Close 关闭成员连接池并停止失效订阅
	Close() error
}

// database 是 DB 接口的实现
type database struct {
	catalog     *federation.Catalog
	topology    *topology.Registry
	deps        shardconn.Deps
	coordinator *scatter.Coordinator
	provisioner *ddl.Provisioner
	invalidator *topology.RedisInvalidator
	logger      clog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// New 创建联邦数据库组件
//
// 参数:
//   - cfg: DB 配置
//   - opts: 可选参数 (RootConnector 必填，Logger、Meter、Tracer、Redis、Schema、MemberOpener)
func New(cfg *Config, opts ...Option) (DB, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, o := range opts {
		o(&opt)
	}
	if opt.root == nil || opt.root.GetClient() == nil {
		return nil, ErrRootConnectorRequired
	}
	if opt.meter == nil {
		opt.meter = metrics.Discard()
	}

	catalog, err := federation.NewCatalog(cfg.Federations)
	if err != nil {
		return nil, xerrors.Wrapf(err, "invalid federation config")
	}
	d := cfg.dialect()

	topo, err := topology.New(catalog, topology.NewSQLDiscoverer(opt.root.GetClient(), d),
		topology.WithLogger(opt.logger), topology.WithMeter(opt.meter))
	if err != nil {
		return nil, err
	}

	opener := opt.opener
	if opener == nil && cfg.Dialect == DialectCatalog {
		if cfg.Members.Driver == "" {
			return nil, ErrMemberDriverRequired
		}
		opener = memberOpener(cfg.Members, opt)
	}

	poolOpts := []shardconn.Option{shardconn.WithLogger(opt.logger), shardconn.WithMeter(opt.meter)}
	if cfg.Breaker != nil {
		brk, err := breaker.New(cfg.Breaker, breaker.WithLogger(opt.logger), breaker.WithMeter(opt.meter))
		if err != nil {
			return nil, err
		}
		poolOpts = append(poolOpts, shardconn.WithBreaker(brk))
	}
	pools, err := shardconn.NewPoolSet(opt.root, d, opener, poolOpts...)
	if err != nil {
		return nil, err
	}

	var resolverOpts []routing.Option
	resolverOpts = append(resolverOpts, routing.WithLogger(opt.logger))
	var mapping replication.Mapping
	var connMapping shardconn.Mapping
	if opt.schema != nil {
		resolverOpts = append(resolverOpts, routing.WithForeignKeys(opt.schema))
		mapping, connMapping = opt.schema, opt.schema
	}
	resolver := routing.New(catalog, topo, resolverOpts...)
	repl := replication.New(catalog, resolver, mapping, replication.WithLogger(opt.logger))

	scatterOpts := []scatter.Option{
		scatter.WithLogger(opt.logger),
		scatter.WithMeter(opt.meter),
		scatter.WithPool(scatter.NewPool(cfg.Workers)),
		scatter.WithDialect(d),
	}
	if opt.tracer != nil {
		scatterOpts = append(scatterOpts, scatter.WithTracerProvider(opt.tracer))
	}
	coordinator, err := scatter.New(resolver, repl, catalog, scatterOpts...)
	if err != nil {
		_ = pools.Close()
		return nil, err
	}

	deps := shardconn.Deps{Resolver: resolver, Replication: repl, Pools: pools, Mapping: connMapping}
	db := &database{
		catalog:     catalog,
		topology:    topo,
		deps:        deps,
		coordinator: coordinator,
		provisioner: ddl.New(deps, ddl.WithLogger(opt.logger)),
		logger:      opt.logger,
	}

	if opt.redis != nil {
		db.invalidator = topology.NewRedisInvalidator(opt.redis, topo, topology.WithLogger(opt.logger))
		ctx, cancel := context.WithCancel(context.Background())
		db.cancel = cancel
		db.done = make(chan struct{})
		go func() {
			defer close(db.done)
			if err := db.invalidator.Run(ctx); err != nil {
				db.logger.Error("topology invalidation listener stopped", clog.Error(err))
			}
		}()
	}

	db.logger.Info("federated db ready",
		clog.String("dialect", cfg.Dialect),
		clog.Int("federations", len(catalog.Names())),
		clog.Int("workers", cfg.Workers))
	return db, nil
}

func memberOpener(tmpl connector.SQLConfig, opt options) shardconn.MemberOpener {
	connOpts := []connector.Option{connector.WithLogger(opt.logger)}
	if opt.tracer != nil {
		connOpts = append(connOpts, connector.WithTracerProvider(opt.tracer))
	}
	return func(ctx context.Context, location string) (connector.SQLConnector, error) {
		conn, err := connector.NewSQL(tmpl.WithDSN(location, location), connOpts...)
		if err != nil {
			return nil, err
		}
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Conn 打开一个多路连接
func (d *database) Conn(ctx context.Context) (*shardconn.Conn, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	return shardconn.Open(ctx, d.deps, shardconn.WithLogger(d.logger))
}

// Query 在私有的多路连接上执行查询
func (d *database) Query(ctx context.Context, q *scatter.Query, rng merge.Range, params ...any) (merge.Cursor, error) {
	conn, err := d.Conn(ctx)
	if err != nil {
		return nil, err
	}
	res, err := d.coordinator.Execute(ctx, conn, q, params, rng)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if res.Cursor == nil {
		// 写语句经 Query 执行时直接提交
		err := conn.Commit(ctx)
		_ = conn.Close()
		if err != nil {
			return nil, err
		}
		return merge.NewSliceCursor([]string{"affected"}, [][]any{{res.Affected}}), nil
	}
	return &connCursor{Cursor: res.Cursor, conn: conn}, nil
}

// Transaction 执行事务操作
func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	conn, err := d.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	tx := &Tx{conn: conn, coordinator: d.coordinator}
	panicked := true
	defer func() {
		if panicked || err != nil {
			if rbErr := conn.Rollback(ctx); rbErr != nil {
				d.logger.ErrorContext(ctx, "transaction rollback failed", clog.Error(rbErr))
			}
		}
	}()

	err = fn(ctx, tx)
	panicked = false
	if err != nil {
		return err
	}
	return conn.Commit(ctx)
}

// EnsureTable 在表所在的全部成员上创建缺失的表
func (d *database) EnsureTable(ctx context.Context, table, createSQL string) ([]federation.ShardTarget, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	return d.provisioner.EnsureTable(ctx, table, createSQL)
}

// Invalidate 使联邦拓扑失效
func (d *database) Invalidate(ctx context.Context, name string) error {
	if name == topology.AllFederations {
		d.topology.InvalidateAll()
	} else {
		d.topology.Invalidate(name)
	}
	if d.invalidator == nil {
		return nil
	}
	return d.invalidator.Publish(ctx, name)
}

// Topology 返回拓扑注册表
func (d *database) Topology() *topology.Registry {
	return d.topology
}

// Close 关闭组件
func (d *database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	return d.deps.Pools.Close()
}

func (d *database) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// connCursor 关闭时一并释放私有连接
type connCursor struct {
	merge.Cursor
	conn *shardconn.Conn
}

func (c *connCursor) Close() error {
	err := c.Cursor.Close()
	return xerrors.Combine(err, c.conn.Close())
}
