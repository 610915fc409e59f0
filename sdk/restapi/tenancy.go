package restapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/cache"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
)

// CacheAdmin *cache.Service
type CacheAdmin interface {
	Cache() *cache.Cache
	Invalidate(id string)
	Refresh(ctx context.Context, id string) (*tenant.Record, error)
}

// PoolAdmin *database.Manager
type PoolAdmin interface {
	Stats(tenantID string) (database.PoolStats, bool)
	AllStats() map[string]database.PoolStats
	ClosePool(tenantID string) error
}

// JobAdmin *migration.Engine
type JobAdmin interface {
	Submit(ctx context.Context, req migration.Request) (string, error)
	Status(id string) (migration.JobView, bool)
	List(f migration.Filter) []migration.JobView
	Cancel(id string) error
	Remove(id string) error
	Export(ctx context.Context, tenantID string, tables []string) (string, error)
	Import(ctx context.Context, tenantID, path string) error
}

// TenancyAdmin 租户缓存、连接池和迁移任务的管理接口，未设置的部分不注册路由
type TenancyAdmin struct {
	RestApi
	Cache CacheAdmin
	Pools PoolAdmin
	Jobs  JobAdmin
}

// Register 注册管理路由
func (e *TenancyAdmin) Register(r gin.IRouter) {
	if e.Cache != nil {
		r.GET("/cache/stats", e.CacheStats)
		r.POST("/cache/cleanup", e.CacheCleanup)
		r.DELETE("/cache", e.CacheClear)
		r.DELETE("/cache/:tenant_id", e.CacheInvalidate)
		r.POST("/cache/refresh/:tenant_id", e.CacheRefresh)
	}
	if e.Pools != nil {
		r.GET("/pools", e.PoolList)
		r.GET("/pools/:tenant_id", e.PoolGet)
		r.DELETE("/pools/:tenant_id", e.PoolClose)
	}
	if e.Jobs != nil {
		r.POST("/migrations", e.MigrationSubmit)
		r.GET("/migrations", e.MigrationList)
		r.GET("/migrations/:job_id", e.MigrationGet)
		r.POST("/migrations/:job_id/cancel", e.MigrationCancel)
		r.DELETE("/migrations/:job_id", e.MigrationRemove)
		r.POST("/exports/:tenant_id", e.Export)
		r.POST("/imports/:tenant_id", e.Import)
	}
}

// CacheStats 缓存统计
func (e *TenancyAdmin) CacheStats(c *gin.Context) {
	e.OK(c, e.Cache.Cache().Stats(), "")
}

// CacheCleanup 立即清理过期条目
func (e *TenancyAdmin) CacheCleanup(c *gin.Context) {
	removed := e.Cache.Cache().CleanupExpired()
	e.OK(c, gin.H{"removed": removed}, "")
}

// CacheClear 清空缓存
func (e *TenancyAdmin) CacheClear(c *gin.Context) {
	e.Cache.Cache().Clear()
	e.GetLogger(c).Info("tenant cache cleared")
	e.OK(c, nil, "cleared")
}

// CacheInvalidate 使单个租户失效
func (e *TenancyAdmin) CacheInvalidate(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	e.Cache.Invalidate(id)
	e.OK(c, nil, "invalidated")
}

// CacheRefresh 从租户目录重新加载
func (e *TenancyAdmin) CacheRefresh(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	rec, err := e.Cache.Refresh(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			e.GetLogger(c).Error("refresh tenant", zap.String("tenant_id", id), zap.Error(err))
		}
		e.TenantError(c, err)
		return
	}
	e.OK(c, redact(rec), "")
}

// PoolList 全部连接池统计
func (e *TenancyAdmin) PoolList(c *gin.Context) {
	e.OK(c, e.Pools.AllStats(), "")
}

// PoolGet 单个租户连接池统计
func (e *TenancyAdmin) PoolGet(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	stats, ok := e.Pools.Stats(id)
	if !ok {
		e.Error(c, http.StatusNotFound, nil, "pool not open")
		return
	}
	e.OK(c, stats, "")
}

// PoolClose 关闭租户连接池，下次访问时重建
func (e *TenancyAdmin) PoolClose(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	if err := e.Pools.ClosePool(id); err != nil {
		e.GetLogger(c).Error("close tenant pool", zap.String("tenant_id", id), zap.Error(err))
		e.TenantError(c, err)
		return
	}
	e.OK(c, nil, "closed")
}

// MigrationSubmit 创建迁移任务，202 返回任务ID
func (e *TenancyAdmin) MigrationSubmit(c *gin.Context) {
	var req migration.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		e.Error(c, http.StatusBadRequest, err, "")
		return
	}
	id, err := e.Jobs.Submit(c.Request.Context(), req)
	if err != nil {
		e.TenantError(c, err)
		return
	}
	e.Accepted(c, gin.H{"job_id": id, "status": migration.StatusPending}, "migration job created")
}

// MigrationList 任务列表，支持 tenant_id、status 过滤和分页
func (e *TenancyAdmin) MigrationList(c *gin.Context) {
	all := e.Jobs.List(migration.Filter{
		TenantID: c.Query("tenant_id"),
		Status:   migration.Status(c.Query("status")),
	})

	pageIndex, pageSize := e.Pagination(c)
	start, end := pageBounds(len(all), pageIndex, pageSize)
	e.PageOK(c, all[start:end], len(all), pageIndex, pageSize, "")
}

// MigrationGet 任务状态
func (e *TenancyAdmin) MigrationGet(c *gin.Context) {
	v, ok := e.Jobs.Status(c.Param("job_id"))
	if !ok {
		e.Error(c, http.StatusNotFound, migration.ErrJobNotFound, "")
		return
	}
	e.OK(c, v, "")
}

// MigrationCancel 取消执行中的任务
func (e *TenancyAdmin) MigrationCancel(c *gin.Context) {
	if err := e.Jobs.Cancel(c.Param("job_id")); err != nil {
		e.TenantError(c, err)
		return
	}
	e.OK(c, nil, "cancelled")
}

// MigrationRemove 删除已结束的任务记录
func (e *TenancyAdmin) MigrationRemove(c *gin.Context) {
	if err := e.Jobs.Remove(c.Param("job_id")); err != nil {
		e.TenantError(c, err)
		return
	}
	e.OK(c, nil, "removed")
}

type exportRequest struct {
	Tables []string `json:"tables"`
}

// Export 导出租户数据，返回导出文件路径
func (e *TenancyAdmin) Export(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			e.Error(c, http.StatusBadRequest, err, "")
			return
		}
	}
	path, err := e.Jobs.Export(c.Request.Context(), id, req.Tables)
	if err != nil {
		e.GetLogger(c).Error("export tenant", zap.String("tenant_id", id), zap.Error(err))
		e.TenantError(c, err)
		return
	}
	e.OK(c, gin.H{"path": path}, "exported")
}

type importRequest struct {
	Path string `json:"path" binding:"required"`
}

// Import 把导出文件导入租户
func (e *TenancyAdmin) Import(c *gin.Context) {
	id, ok := e.TenantParam(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		e.Error(c, http.StatusBadRequest, err, "")
		return
	}
	if err := e.Jobs.Import(c.Request.Context(), id, req.Path); err != nil {
		e.GetLogger(c).Error("import tenant", zap.String("tenant_id", id), zap.Error(err))
		e.TenantError(c, err)
		return
	}
	e.OK(c, nil, "imported")
}

var dsnPassword = regexp.MustCompile(`([^:/@]+):([^@/]*)@`)

// redact 返回给管理接口的租户记录不包含密码
func redact(rec *tenant.Record) *tenant.Record {
	out := rec.Clone()
	if out.Connection.Password != "" {
		out.Connection.Password = "******"
	}
	out.Connection.Source = dsnPassword.ReplaceAllString(out.Connection.Source, "$1:******@")
	for i, r := range out.Connection.Replicas {
		out.Connection.Replicas[i] = dsnPassword.ReplaceAllString(r, "$1:******@")
	}
	return out
}
