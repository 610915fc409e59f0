package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/schema"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/middleware"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type note struct {
	ID       int64 `gorm:"primaryKey"`
	TenantID string
	Body     string
}

func (note) TableName() string {
	return "notes"
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := &config.Config{
		Application: &config.Application{},
		HTTP:        &config.HTTPConfig{},
		Logger:      &config.Logger{GormLoggerLevel: 1},
		Redis:       &config.Redis{},
		Encryption:  &config.Encryption{},
		Tenants: &config.Tenants{
			Enabled: true,
			Pool:    config.PoolConfig{Driver: "sqlite", Timeout: time.Second},
			Guard:   config.GuardConfig{Strict: true},
			Migration: config.MigrationConfig{
				ExportPath: "/exports",
				BatchSize:  2,
				Tables:     []string{"notes"},
			},
			List: []config.TenantConfig{
				{
					ID:       "t1",
					Active:   true,
					Domain:   "t1.example.com",
					Hosts:    []string{"one.local"},
					Database: config.TenantDatabase{Source: filepath.Join(dir, "t1.db")},
				},
				{ID: "t2", Active: true, Database: config.TenantDatabase{Source: filepath.Join(dir, "t2.db")}},
				{ID: "off", Active: false, Database: config.TenantDatabase{Source: filepath.Join(dir, "off.db")}},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func notesSchema() *schema.Registry {
	r := schema.NewRegistry()
	r.RegisterVersion("20240101000000", func(db *gorm.DB, _ string) error {
		return db.AutoMigrate(&note{})
	})
	return r
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *Application {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	base := []Option{
		WithRedisClient(rdb),
		WithSchemaRegistry(notesSchema()),
		WithExportFs(afero.NewMemMapFs()),
	}
	app, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestApplicationTenantDB(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	ctx := tenant.WithScope(context.Background(), "t1")

	db, err := app.GetTenantDB(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, db.Create(&note{TenantID: "t1", Body: "hello"}).Error)

	var notes []note
	require.NoError(t, db.Where("tenant_id = ?", "t1").Find(&notes).Error)
	assert.Len(t, notes, 1)

	// 缺少租户过滤的查询被守卫拒绝
	err = db.Find(&notes).Error
	assert.ErrorIs(t, err, tenant.ErrTenantIsolationViolation)
	assert.Equal(t, int64(1), app.Guard().Violations())

	families, err := app.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["jxt_tenancy_guard_violations_total"])
	assert.True(t, names["jxt_tenancy_pool_active"])
	assert.True(t, names["jxt_tenancy_cache_size"])

	_, err = app.GetTenantDB(ctx, "off")
	assert.ErrorIs(t, err, tenant.ErrPoolConstructionFailed)
	_, err = app.GetTenantDB(ctx, "ghost")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	err = app.WithSession(ctx, "t1", func(db *gorm.DB) error {
		var n int64
		if err := db.Model(&note{}).Where("tenant_id = ?", "t1").Count(&n).Error; err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		return nil
	})
	assert.NoError(t, err)
}

func TestApplicationTenantMiddleware(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	r := gin.New()
	r.Use(app.TenantMiddleware()...)
	r.GET("/notes", func(c *gin.Context) {
		id := middleware.MustGetTenantID(c)
		db, err := app.GetTenantDB(c.Request.Context(), id)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		var notes []note
		if err := db.Where("tenant_id = ?", id).Find(&notes).Error; err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, notes)
	})
	app.SetEngine(r)

	get := func(tenantID string) int {
		req := httptest.NewRequest(http.MethodGet, "/notes", nil)
		if tenantID != "" {
			req.Header.Set("X-Tenant-ID", tenantID)
		}
		w := httptest.NewRecorder()
		app.GetEngine().ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get("t1"))
	assert.Equal(t, http.StatusForbidden, get("off"))
	assert.Equal(t, http.StatusNotFound, get("ghost"))
	assert.Equal(t, http.StatusBadRequest, get(""))
}

func TestApplicationHostMapping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tenants.Resolver.Type = middleware.ResolverHost
	app := newTestApp(t, cfg)

	assert.Equal(t, "t1", app.GetTenantID("one.local:8080"))
	app.SetTenantMapping("two.local", "t2")
	assert.Equal(t, "t2", app.GetTenantID("two.local"))
	assert.Empty(t, app.GetTenantID("nowhere.local"))

	var seen []string
	r := gin.New()
	r.Use(app.TenantMiddleware()...)
	r.GET("/", func(c *gin.Context) {
		seen = append(seen, middleware.GetTenantID(c))
		c.Status(http.StatusOK)
	})

	for _, host := range []string{"two.local", "t1.example.com"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = host
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, host)
	}
	assert.Equal(t, []string{"t2", "t1"}, seen)
}

func TestApplicationMigration(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	ctx := context.Background()

	err := app.WithSession(tenant.WithScope(ctx, "t1"), "t1", func(db *gorm.DB) error {
		return db.Create(&[]note{
			{TenantID: "t1", Body: "a"},
			{TenantID: "t1", Body: "b"},
			{TenantID: "t1", Body: "c"},
		}).Error
	})
	require.NoError(t, err)

	id, err := app.Jobs().Submit(ctx, migration.Request{Source: "t1", Target: "t2", CopyMode: true})
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	view, err := app.Jobs().Wait(wctx, id)
	require.NoError(t, err)
	require.Equal(t, migration.StatusCompleted, view.Status, view.Errors)
	assert.Equal(t, int64(3), view.MigratedRecords)

	t2 := tenant.WithScope(ctx, "t2")
	db, err := app.GetTenantDB(t2, "t2")
	require.NoError(t, err)
	var moved int64
	require.NoError(t, db.Model(&note{}).Where("tenant_id = ?", "t2").Count(&moved).Error)
	assert.Equal(t, int64(3), moved)

	w := httptest.NewRecorder()
	app.AdminHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/tenancy/migrations/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
}

func TestApplicationShutdown(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	ctx := tenant.WithScope(context.Background(), "t1")
	_, err := app.GetTenantDB(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, app.Pools().AllStats(), 1)

	require.NoError(t, app.Shutdown(context.Background()))
	assert.Empty(t, app.Pools().AllStats())

	_, err = app.Jobs().Submit(ctx, migration.Request{Source: "t1", Target: "t2"})
	assert.ErrorIs(t, err, migration.ErrEngineClosed)
}

func TestApplicationWithDirectory(t *testing.T) {
	cfg := testConfig(t)
	dir := provider.NewMemory(&tenant.Record{
		ID:         "solo",
		Active:     true,
		Connection: tenant.ConnectionTarget{Source: filepath.Join(t.TempDir(), "solo.db")},
	})
	app := newTestApp(t, cfg, WithDirectory(dir))
	assert.Same(t, dir, app.Directory())

	_, err := app.Tenants().GetTenant(context.Background(), "t1")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	_, err = app.GetTenantDB(tenant.WithScope(context.Background(), "solo"), "solo")
	assert.NoError(t, err)
}

func TestOpenDirectory(t *testing.T) {
	cfg := testConfig(t)

	cfg.Tenants.Resolver.Directory = "memory"
	dir, control, err := openDirectory(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, control)
	rec, err := dir.GetByDomain(context.Background(), "T1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ID)

	cfg.Tenants.Resolver.Directory = "gorm"
	_, _, err = openDirectory(cfg, nil)
	assert.Error(t, err)

	cfg.Tenants.Pool.ControlDSN = filepath.Join(t.TempDir(), "control.db")
	dir, control, err = openDirectory(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, control)
	assert.True(t, control.Migrator().HasTable(&tenant.Record{}))
	_, err = dir.GetByID(context.Background(), "t1")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	sqlDB, _ := control.DB()
	_ = sqlDB.Close()

	cfg.Tenants.Resolver.Directory = "redis"
	_, _, err = openDirectory(cfg, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	dir, _, err = openDirectory(cfg, rdb)
	require.NoError(t, err)
	assert.IsType(t, &provider.Redis{}, dir)

	cfg.Tenants.Resolver.Directory = "etcd"
	_, _, err = openDirectory(cfg, nil)
	assert.Error(t, err)
}

func TestNewFailsOnBadEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Key = "short"
	_, err := New(cfg, WithSchemaRegistry(notesSchema()), WithExportFs(afero.NewMemMapFs()))
	assert.Error(t, err)
}
