package runtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/cache"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/guard"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
)

type Runtime interface {
	// SetTenantMapping host 识别方式使用的主机名映射
	SetTenantMapping(host, tenantID string)
	GetTenantID(host string) string

	// GetTenantDB 租户连接池上的 *gorm.DB，首次访问时创建连接池
	GetTenantDB(ctx context.Context, tenantID string) (*gorm.DB, error)
	// WithSession 在租户专用连接上执行 fn
	WithSession(ctx context.Context, tenantID string, fn func(db *gorm.DB) error) error

	Directory() provider.Directory
	Tenants() *cache.Service
	Guard() *guard.Guard
	Pools() *database.Manager
	Jobs() *migration.Engine
	Registry() *prometheus.Registry

	// TenantMiddleware 租户识别 + 租户存在性检查
	TenantMiddleware() []gin.HandlerFunc

	// SetEngine 业务路由
	SetEngine(engine http.Handler)
	GetEngine() http.Handler
	// AdminHandler 管理接口与 /metrics
	AdminHandler() http.Handler

	SetLogger(logger *zap.Logger)
	GetLogger() *zap.Logger

	Shutdown(ctx context.Context) error
}
