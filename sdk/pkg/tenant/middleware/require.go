package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// TenantLoader 加载启用中的租户，*cache.Service 实现了它
type TenantLoader interface {
	GetActiveTenant(ctx context.Context, id string) (*tenant.Record, error)
}

// RequireTenant 要求请求已识别租户且租户存在并启用：未识别 400，不存在 404，停用 403
func RequireTenant(loader TenantLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := tenant.RequireTenant(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := loader.GetActiveTenant(c.Request.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, tenant.ErrTenantNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.Is(err, tenant.ErrTenantInactive):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		default:
			logger.GetRequestLogger(c).Error("load tenant", zap.String("tenant_id", id), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load tenant"})
			return
		}
		c.Set(ContextKeyTenant, rec)
		c.Next()
	}
}

// GetTenant RequireTenant 加载的租户记录
func GetTenant(c *gin.Context) (*tenant.Record, bool) {
	v, ok := c.Get(ContextKeyTenant)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*tenant.Record)
	return rec, ok
}
