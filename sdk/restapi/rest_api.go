package restapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/response"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RestApi 管理接口的公共处理：统一返回体、租户错误到状态码的映射、分页参数
type RestApi struct{}

// GetLogger 获取上下文提供的日志器，对GetRequestLogger做封装，可实现解耦。
func (e *RestApi) GetLogger(c *gin.Context) *zap.Logger {
	return logger.GetRequestLogger(c)
}

// Error 通常错误数据处理
func (e *RestApi) Error(c *gin.Context, code int, err error, msg string) {
	response.Error(c, code, err, msg)
}

// OK 通常成功数据处理
func (e *RestApi) OK(c *gin.Context, data interface{}, msg string) {
	response.OK(c, data, msg)
}

// Accepted 异步任务已受理
func (e *RestApi) Accepted(c *gin.Context, data interface{}, msg string) {
	response.Status(c, http.StatusAccepted, data, msg)
}

// PageOK 分页数据处理
func (e *RestApi) PageOK(c *gin.Context, result interface{}, count int, pageIndex int, pageSize int, msg string) {
	response.PageOK(c, result, count, pageIndex, pageSize, msg)
}

// TenantError 按租户错误类型选择状态码
func (e *RestApi) TenantError(c *gin.Context, err error) {
	e.Error(c, StatusOf(err), err, "")
}

// StatusOf 租户、连接池和迁移错误对应的 HTTP 状态码
func StatusOf(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, migration.ErrJobNotFound), errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, migration.ErrJobNotRunning), errors.Is(err, migration.ErrJobActive),
		errors.Is(err, migration.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, migration.ErrEngineClosed), errors.Is(err, tenant.ErrPoolAcquisitionTimeout),
		errors.Is(err, tenant.ErrConnectionUnavailable), errors.Is(err, database.ErrPoolClosing):
		return http.StatusServiceUnavailable
	case errors.As(err, &verrs), errors.Is(err, tenant.ErrInvalidTenantID), errors.Is(err, migration.ErrOutsideStore),
		errors.Is(err, tenant.ErrNoTenantContext):
		return http.StatusBadRequest
	case errors.Is(err, tenant.ErrTenantIsolationViolation), errors.Is(err, tenant.ErrTenantInactive):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// TenantParam 读取并校验路径参数 tenant_id，非法时已写回 400
func (e *RestApi) TenantParam(c *gin.Context) (string, bool) {
	id := c.Param("tenant_id")
	if err := tenant.ValidateID(id, 0); err != nil {
		e.Error(c, http.StatusBadRequest, err, "")
		return "", false
	}
	return id, true
}

// Pagination 读取 pageIndex、pageSize，越界时回到默认值
func (e *RestApi) Pagination(c *gin.Context) (pageIndex, pageSize int) {
	pageIndex = cast.ToInt(c.DefaultQuery("pageIndex", "1"))
	if pageIndex < 1 {
		pageIndex = 1
	}
	pageSize = cast.ToInt(c.DefaultQuery("pageSize", cast.ToString(defaultPageSize)))
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return pageIndex, pageSize
}

// pageBounds 第 pageIndex 页在长度 n 的列表中的下标区间
func pageBounds(n, pageIndex, pageSize int) (start, end int) {
	start = (pageIndex - 1) * pageSize
	if start > n {
		start = n
	}
	end = start + pageSize
	if end > n {
		end = n
	}
	return start, end
}
