package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/xerrors"
)

type sqlConnector struct {
	cfg     *SQLConfig
	opts    *options
	logger  clog.Logger
	db      *gorm.DB
	healthy atomic.Bool
	mu      sync.RWMutex
}

// NewSQL 创建 SQL 连接器，实际连接在 Connect 时建立
func NewSQL(cfg *SQLConfig, opts ...Option) (SQLConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "sql config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "sql connector[%s]: %v", cfg.Name, err)
	}

	o := applyOptions(opts)
	return &sqlConnector{
		cfg:    cfg,
		opts:   o,
		logger: o.logger.With(clog.String("connector", cfg.Driver), clog.String("name", cfg.Name)),
	}, nil
}

func (c *sqlConnector) dialector() gorm.Dialector {
	switch c.cfg.Driver {
	case DriverMySQL:
		return mysql.Open(c.cfg.DSN)
	case DriverPostgres:
		return postgres.Open(c.cfg.DSN)
	default:
		return sqlite.Open(c.cfg.DSN)
	}
}

func (c *sqlConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	c.logger.DebugContext(ctx, "attempting to connect")

	db, err := gorm.Open(c.dialector(), &gorm.Config{
		Logger:                 newGormLogger(c.logger, c.opts.silent, c.cfg.SlowThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to open database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "sql connector[%s]: %v", c.cfg.Name, err)
	}

	if c.opts.tracerProvider != nil {
		if err := db.Use(otelgorm.NewPlugin(
			otelgorm.WithTracerProvider(c.opts.tracerProvider),
			otelgorm.WithDBName(c.cfg.Name),
		)); err != nil {
			return xerrors.Wrapf(ErrConnection, "sql connector[%s]: tracing plugin: %v", c.cfg.Name, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return xerrors.Wrapf(ErrConnection, "sql connector[%s]: failed to get db instance: %v", c.cfg.Name, err)
	}
	sqlDB.SetMaxIdleConns(c.cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		c.logger.ErrorContext(ctx, "failed to ping database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "sql connector[%s]: ping failed: %v", c.cfg.Name, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.logger.InfoContext(ctx, "connected")
	return nil
}

func (c *sqlConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.db = nil
	if err := sqlDB.Close(); err != nil {
		c.logger.Error("failed to close connection", clog.Error(err))
		return err
	}
	c.logger.Debug("connection closed")
	return nil
}

func (c *sqlConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrClientNil, "sql connector[%s]", c.cfg.Name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.WarnContext(ctx, "health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "sql connector[%s]: %v", c.cfg.Name, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *sqlConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *sqlConnector) Name() string {
	return c.cfg.Name
}

func (c *sqlConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
