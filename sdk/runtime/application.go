package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/crypto"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/schema"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/cache"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/guard"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/metrics"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/middleware"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/restapi"
)

// Application 组装租户目录、缓存、连接池、查询隔离守卫和迁移引擎
type Application struct {
	mux    sync.RWMutex
	cfg    *config.Config
	engine http.Handler //业务路由
	admin  http.Handler //管理接口

	redis     redis.UniversalClient
	ownsRedis bool
	controlDB *gorm.DB //gorm 租户目录的控制库

	directory provider.Directory
	tenants   *cache.Service
	guard     *guard.Guard
	pools     *database.Manager
	jobs      *migration.Engine
	collector *metrics.Collector
	registry  *prometheus.Registry
	crontab   *cron.Cron
	hosts     *middleware.HostResolver
}

type options struct {
	redis        redis.UniversalClient
	directory    provider.Directory
	schema       *schema.Registry
	initializers []database.Initializer
	exportFs     afero.Fs
}

// Option 配置 Application
type Option func(*options)

// WithRedisClient 使用已有的 redis 客户端，不再按 redis 配置创建，Shutdown 时也不关闭
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = c
	}
}

// WithDirectory 使用给定的租户目录，忽略 tenants.resolver.directory
func WithDirectory(d provider.Directory) Option {
	return func(o *options) {
		o.directory = d
	}
}

// WithSchemaRegistry 新租户库执行的结构迁移，默认 schema.GetRegistry()
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(o *options) {
		o.schema = r
	}
}

// WithInitializers 结构迁移之后执行的初始化，例如 schema.SQLFileInitializer
func WithInitializers(fns ...database.Initializer) Option {
	return func(o *options) {
		o.initializers = append(o.initializers, fns...)
	}
}

// WithExportFs 导出文件所在的文件系统，默认本地磁盘
func WithExportFs(fs afero.Fs) Option {
	return func(o *options) {
		o.exportFs = fs
	}
}

// New 按配置创建 Application，cfg 需已填充默认值
func New(cfg *config.Config, opts ...Option) (app *Application, err error) {
	o := &options{schema: schema.GetRegistry(), exportFs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(o)
	}

	a := &Application{
		cfg:      cfg,
		redis:    o.redis,
		registry: prometheus.NewRegistry(),
		crontab:  cron.New(),
		hosts:    middleware.NewHostResolver(),
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	if a.redis == nil && !cfg.Redis.Empty() {
		a.redis = cfg.Redis.NewClient()
		a.ownsRedis = true
	}

	tc := cfg.Tenants
	for _, t := range tc.List {
		for _, host := range t.Hosts {
			a.hosts.Set(host, t.ID)
		}
	}

	a.directory = o.directory
	if a.directory == nil {
		if a.directory, a.controlDB, err = openDirectory(cfg, a.redis); err != nil {
			return nil, err
		}
	}
	a.tenants = cache.NewService(cache.NewFromConfig(tc.Cache), a.directory)

	a.guard = guard.NewFromConfig(tc.Guard,
		guard.WithExemptTables(schema.VersionTable),
		guard.WithViolationHook(a.observeViolation))

	var cs *crypto.CryptoService
	if cfg.Encryption != nil && cfg.Encryption.Key != "" {
		if cs, err = crypto.NewCryptoService(cfg.Encryption.Key); err != nil {
			return nil, err
		}
	}

	gormLevel := 3
	if cfg.Logger != nil {
		gormLevel = cfg.Logger.GormLoggerLevel
	}
	managerOpts := []database.Option{
		database.WithPlugins(a.guard),
		database.WithInitializer(o.schema.Migrate),
	}
	for _, fn := range o.initializers {
		managerOpts = append(managerOpts, database.WithInitializer(fn))
	}
	if cs != nil {
		managerOpts = append(managerOpts, database.WithCipher(cs))
	}
	a.pools = database.NewManager(database.PoolConfigFrom(tc.Pool, gormLevel), a.resolveTarget, managerOpts...)

	engineOpts := []migration.Option{
		migration.WithStore(migration.NewFileStore(o.exportFs, tc.Migration.ExportPath)),
	}
	if a.redis != nil {
		engineOpts = append(engineOpts, migration.WithLocker(migration.NewRedisLocker(a.redis, redisNamespace(cfg))))
	}
	accessor := migration.NewGormAccessor(a.pools, tc.Guard.TenantColumn, tc.Migration.Tables...)
	a.jobs = migration.NewEngineFromConfig(tc.Migration, accessor, engineOpts...)

	a.collector = metrics.New(
		metrics.WithCache(a.tenants.Cache()),
		metrics.WithPools(a.pools),
		metrics.WithJobs(a.jobs),
	)
	if err = a.registry.Register(a.collector); err != nil {
		return nil, err
	}

	if _, err = a.tenants.Cache().Schedule(a.crontab, tc.Cache.CleanupSpec); err != nil {
		return nil, fmt.Errorf("schedule tenant cache cleanup: %w", err)
	}
	a.crontab.Start()

	a.admin = restapi.NewAdminRouter(cfg.HTTP, &restapi.TenancyAdmin{
		Cache: a.tenants,
		Pools: a.pools,
		Jobs:  a.jobs,
	}, a.registry)

	logger.Logger.Info("tenancy runtime started",
		zap.String("directory", tc.Resolver.Directory),
		zap.String("resolver", tc.Resolver.Type),
		zap.Bool("guard_strict", tc.Guard.Strict))
	return a, nil
}

func redisNamespace(cfg *config.Config) string {
	if cfg.Redis != nil && cfg.Redis.Namespace != "" {
		return cfg.Redis.Namespace
	}
	return "jxt/"
}

// resolveTarget 连接池通过缓存查询启用中租户的连接目标
func (e *Application) resolveTarget(ctx context.Context, tenantID string) (tenant.ConnectionTarget, error) {
	rec, err := e.tenants.GetActiveTenant(ctx, tenantID)
	if err != nil {
		return tenant.ConnectionTarget{}, err
	}
	return rec.Connection, nil
}

func (e *Application) observeViolation(v *tenant.ViolationError, blocked bool) {
	if e.collector != nil {
		e.collector.ObserveViolation(v, blocked)
	}
}

// SetTenantMapping 设置主机名到租户ID的映射
func (e *Application) SetTenantMapping(host, tenantID string) {
	e.hosts.Set(host, tenantID)
}

// GetTenantID 通过主机名获取租户ID
func (e *Application) GetTenantID(host string) string {
	id, _ := e.hosts.Lookup(host)
	return id
}

// GetTenantDB 租户连接池上的 *gorm.DB
func (e *Application) GetTenantDB(ctx context.Context, tenantID string) (*gorm.DB, error) {
	p, err := e.pools.GetPool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return p.DB.WithContext(ctx), nil
}

// WithSession 在租户专用连接上执行 fn
func (e *Application) WithSession(ctx context.Context, tenantID string, fn func(db *gorm.DB) error) error {
	return e.pools.WithSession(ctx, tenantID, fn)
}

func (e *Application) Directory() provider.Directory { return e.directory }

func (e *Application) Tenants() *cache.Service { return e.tenants }

func (e *Application) Guard() *guard.Guard { return e.guard }

func (e *Application) Pools() *database.Manager { return e.pools }

func (e *Application) Jobs() *migration.Engine { return e.jobs }

func (e *Application) Registry() *prometheus.Registry { return e.registry }

// TenantMiddleware 按 tenants.resolver 识别租户，再要求租户存在且启用
func (e *Application) TenantMiddleware() []gin.HandlerFunc {
	opts := middleware.OptionsFromConfig(e.cfg.Tenants.Resolver)
	opts = append(opts,
		middleware.WithHostResolver(e.hosts),
		middleware.WithDomainLookup(func(ctx context.Context, host string) (string, error) {
			rec, err := e.tenants.GetTenantByDomain(ctx, host)
			if err != nil {
				return "", err
			}
			return rec.ID, nil
		}))
	return []gin.HandlerFunc{
		middleware.ExtractTenantID(opts...),
		middleware.RequireTenant(e.tenants),
	}
}

// SetEngine 设置路由引擎
func (e *Application) SetEngine(engine http.Handler) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.engine = engine
}

// GetEngine 获取路由引擎
func (e *Application) GetEngine() http.Handler {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return e.engine
}

// AdminHandler 管理接口路由
func (e *Application) AdminHandler() http.Handler {
	return e.admin
}

// SetLogger 设置日志组件
func (e *Application) SetLogger(l *zap.Logger) {
	logger.SetLogger(l)
}

// GetLogger 获取日志组件
func (e *Application) GetLogger() *zap.Logger {
	return logger.Logger
}

// Shutdown 停止定时任务，等待迁移任务结束，关闭全部连接池。ctx 到期时中断仍在执行的迁移任务。
func (e *Application) Shutdown(ctx context.Context) error {
	var err error
	if e.crontab != nil {
		stopped := e.crontab.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if e.jobs != nil {
		err = multierr.Append(err, e.jobs.Shutdown(ctx))
	}
	if e.pools != nil {
		err = multierr.Append(err, e.pools.CloseAll())
	}
	if e.controlDB != nil {
		if sqlDB, dbErr := e.controlDB.DB(); dbErr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
	}
	if e.redis != nil && e.ownsRedis {
		err = multierr.Append(err, e.redis.Close())
	}
	if err != nil {
		logger.Logger.Warn("tenancy runtime shutdown", zap.Error(err))
	}
	return err
}
