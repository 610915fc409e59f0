// Package database 每个租户一个独立的 gorm 连接池。
//
// 连接池按需创建，同一租户的并发创建只执行一次，不同租户之间互不等待。
// 所有租户使用同一份 PoolConfig。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/crypto"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// Resolver 查询租户的连接目标
type Resolver func(ctx context.Context, tenantID string) (tenant.ConnectionTarget, error)

// Initializer 新连接池注册前执行，例如租户库结构迁移。执行时隔离检查处于暂停状态。
type Initializer func(ctx context.Context, tenantID string, db *gorm.DB) error

// ConnPoolWrapper 由需要包装每个连接的插件实现（查询隔离守卫）
type ConnPoolWrapper interface {
	WrapConnPool(pool gorm.ConnPool) gorm.ConnPool
}

// Manager 租户连接池注册表
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	group singleflight.Group

	cfg          PoolConfig
	resolve      Resolver
	cipher       *crypto.CryptoService
	plugins      []gorm.Plugin
	wrappers     []ConnPoolWrapper
	initializers []Initializer
	connCheck    ConnCheck
	logger       *zap.Logger
}

// ConnCheck 借出前的连接存活检测，PrePing 开启时执行
type ConnCheck func(ctx context.Context, conn *sql.Conn) error

// Option 配置 Manager
type Option func(*Manager)

// WithPlugins 每个新连接池都会 Use 这些插件
func WithPlugins(plugins ...gorm.Plugin) Option {
	return func(m *Manager) {
		for _, p := range plugins {
			m.plugins = append(m.plugins, p)
			if w, ok := p.(ConnPoolWrapper); ok {
				m.wrappers = append(m.wrappers, w)
			}
		}
	}
}

// WithInitializer 追加连接池初始化函数
func WithInitializer(fn Initializer) Option {
	return func(m *Manager) {
		m.initializers = append(m.initializers, fn)
	}
}

// WithCipher 用于解密连接目标中的密码
func WithCipher(cs *crypto.CryptoService) Option {
	return func(m *Manager) {
		m.cipher = cs
	}
}

// WithConnCheck 替换默认的 PingContext 检测，例如改为执行 SELECT 1
func WithConnCheck(fn ConnCheck) Option {
	return func(m *Manager) {
		m.connCheck = fn
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager 创建连接池管理器
func NewManager(cfg PoolConfig, resolve Resolver, opts ...Option) *Manager {
	def := DefaultPoolConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.MaxOverflow < 0 {
		cfg.MaxOverflow = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Driver == "" {
		cfg.Driver = def.Driver
	}
	m := &Manager{
		pools:   make(map[string]*Pool),
		cfg:     cfg,
		resolve: resolve,
		logger:  logger.Logger.Named("tenant.pool"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) checkConn(ctx context.Context, conn *sql.Conn) error {
	if m.connCheck != nil {
		return m.connCheck(ctx, conn)
	}
	return conn.PingContext(ctx)
}

// Config 返回连接池参数
func (m *Manager) Config() PoolConfig {
	return m.cfg
}

func (m *Manager) lookup(tenantID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[tenantID]
	return p, ok
}

// GetPool 获取租户连接池，不存在时创建。创建失败不会注册任何东西。
func (m *Manager) GetPool(ctx context.Context, tenantID string) (*Pool, error) {
	if tenantID == "" {
		return nil, tenant.ErrNoTenantContext
	}
	if p, ok := m.lookup(tenantID); ok {
		return p, nil
	}

	// 创建过程不随第一个调用方取消，调用方自己的 ctx 结束时只是停止等待
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(tenantID, func() (interface{}, error) {
		// 等待期间可能已被其他调用注册
		if p, ok := m.lookup(tenantID); ok {
			return p, nil
		}
		p, err := m.build(shared, tenantID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.pools[tenantID] = p
		m.mu.Unlock()
		m.logger.Info("tenant pool created",
			zap.String("tenant_id", tenantID),
			zap.Int("size", m.cfg.Size),
			zap.Int("max_open", m.cfg.MaxOpen()))
		return p, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Pool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func constructErr(tenantID string, err error) error {
	return fmt.Errorf("%w: tenant %s: %w", tenant.ErrPoolConstructionFailed, tenantID, err)
}

func (m *Manager) build(ctx context.Context, tenantID string) (*Pool, error) {
	target, err := m.resolve(ctx, tenantID)
	if err != nil {
		return nil, constructErr(tenantID, err)
	}

	driver := target.Driver
	if driver == "" {
		driver = m.cfg.Driver
	}
	dsn, err := target.DSN(m.cipher)
	if err != nil {
		return nil, constructErr(tenantID, err)
	}
	dialector, err := OpenDialector(driver, dsn)
	if err != nil {
		return nil, constructErr(tenantID, err)
	}

	log := m.logger.With(zap.String("tenant_id", tenantID))
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(log, m.cfg.GormLogLevel),
	})
	if err != nil {
		return nil, constructErr(tenantID, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, constructErr(tenantID, err)
	}
	sqlDB.SetMaxIdleConns(m.cfg.Size)
	sqlDB.SetMaxOpenConns(m.cfg.MaxOpen())
	sqlDB.SetConnMaxLifetime(m.cfg.Recycle)

	p := &Pool{
		TenantID:  tenantID,
		DB:        db,
		sqlDB:     sqlDB,
		cfg:       m.cfg,
		createdAt: time.Now(),
	}

	if err := m.setup(ctx, p, driver, target); err != nil {
		_ = p.close()
		return nil, constructErr(tenantID, err)
	}
	return p, nil
}

func (m *Manager) setup(ctx context.Context, p *Pool, driver string, target tenant.ConnectionTarget) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := p.sqlDB.PingContext(pctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if len(target.Replicas) > 0 {
		dsns, err := target.ReplicaDSNs(m.cipher)
		if err != nil {
			return err
		}
		replicas := make([]gorm.Dialector, 0, len(dsns))
		for _, dsn := range dsns {
			conn, err := openReplica(driver, dsn)
			if err != nil {
				return err
			}
			p.replicas = append(p.replicas, conn)
			d, err := dialectorFromConn(driver, conn)
			if err != nil {
				return err
			}
			replicas = append(replicas, d)
		}
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}).
			SetMaxIdleConns(m.cfg.Size).
			SetMaxOpenConns(m.cfg.MaxOpen()).
			SetConnMaxLifetime(m.cfg.Recycle)
		if err := p.DB.Use(resolver); err != nil {
			return fmt.Errorf("register replicas: %w", err)
		}
		if err := registerPin(p.DB); err != nil {
			return fmt.Errorf("register session pin: %w", err)
		}
	}

	for _, plugin := range m.plugins {
		if err := p.DB.Use(plugin); err != nil {
			return fmt.Errorf("use plugin %s: %w", plugin.Name(), err)
		}
	}

	if len(m.initializers) > 0 {
		ictx := tenant.Suspend(tenant.WithScope(ctx, p.TenantID))
		for _, fn := range m.initializers {
			if err := fn(ictx, p.TenantID, p.DB.WithContext(ictx)); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
		}
	}
	return nil
}

// ClosePool 关闭租户连接池，收回所有连接后才从注册表移除，下次 GetPool 会重新创建。
// 关闭期间 GetPool 仍返回这个正在关闭的连接池，借出连接会得到 ErrConnectionUnavailable，
// 同一租户不会同时存在两个连接池。不存在时什么也不做。
func (m *Manager) ClosePool(tenantID string) error {
	p, ok := m.lookup(tenantID)
	if !ok {
		return nil
	}

	err := p.close()
	m.unregister(tenantID, p)
	m.logger.Info("tenant pool closed", zap.String("tenant_id", tenantID), zap.Error(err))
	return err
}

// CloseAll 关闭所有连接池，进程退出前必须调用
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	pools := make(map[string]*Pool, len(m.pools))
	for id, p := range m.pools {
		pools[id] = p
	}
	m.mu.RUnlock()

	var errs error
	for id, p := range pools {
		if err := p.close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close tenant %s: %w", id, err))
		}
		m.unregister(id, p)
	}
	m.logger.Info("all tenant pools closed", zap.Int("count", len(pools)))
	return errs
}

// unregister 只移除仍指向 p 的注册项
func (m *Manager) unregister(tenantID string, p *Pool) {
	m.mu.Lock()
	if m.pools[tenantID] == p {
		delete(m.pools, tenantID)
	}
	m.mu.Unlock()
}

// Stats 单个租户连接池统计，未创建时 ok 为 false
func (m *Manager) Stats(tenantID string) (PoolStats, bool) {
	p, ok := m.lookup(tenantID)
	if !ok {
		return PoolStats{}, false
	}
	return p.Stats(), true
}

// AllStats 所有已创建连接池的统计
func (m *Manager) AllStats() map[string]PoolStats {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	out := make(map[string]PoolStats, len(pools))
	for _, p := range pools {
		out[p.TenantID] = p.Stats()
	}
	return out
}

// TenantIDs 已创建连接池的租户
func (m *Manager) TenantIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	return ids
}
