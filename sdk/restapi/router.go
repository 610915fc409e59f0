package restapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	ginmiddleware "github.com/slok/go-http-metrics/middleware/gin"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
)

// NewAdminRouter 管理接口路由：请求日志、HTTP 指标、/metrics 和租户管理路由。
// reg 为 nil 时不暴露指标。
func NewAdminRouter(cfg *config.HTTPConfig, admin *TenancyAdmin, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.SetRequestLogger)

	if reg != nil {
		mdlw := middleware.New(middleware.Config{
			Recorder: metrics.NewRecorder(metrics.Config{Registry: reg}),
		})
		r.Use(ginmiddleware.Handler("", mdlw))
		r.GET(metricsPath(cfg), gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	if admin != nil {
		admin.Register(r.Group(adminPrefix(cfg)))
	}
	return r
}

func metricsPath(cfg *config.HTTPConfig) string {
	if cfg == nil || cfg.MetricsPath == "" {
		return "/metrics"
	}
	return cfg.MetricsPath
}

func adminPrefix(cfg *config.HTTPConfig) string {
	if cfg == nil || cfg.AdminPrefix == "" {
		return "/admin/tenancy"
	}
	return cfg.AdminPrefix
}
