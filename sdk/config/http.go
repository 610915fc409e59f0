package config

import (
	"time"

	"github.com/spf13/cast"
)

// HTTPConfig 管理接口 HTTP 服务配置(Gin)
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`             // 是否启用管理接口
	Host         string        `mapstructure:"host" json:"host"`                   // 服务器绑定IP
	Port         int           `mapstructure:"port" json:"port" validate:"gte=0"`  // HTTP端口
	ReadTimeout  time.Duration `mapstructure:"readtimeout" json:"readtimeout"`     // 读取超时
	WriteTimeout time.Duration `mapstructure:"writetimeout" json:"writetimeout"`   // 写入超时
	AdminPrefix  string        `mapstructure:"adminprefix" json:"adminprefix"`     // 管理路由前缀，默认 /admin/tenancy
	MetricsPath  string        `mapstructure:"metricspath" json:"metricspath"`     // prometheus 抓取路径，默认 /metrics
}

var HttpConfig = new(HTTPConfig)

// Addr 监听地址
func (e *HTTPConfig) Addr() string {
	host := e.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := e.Port
	if port == 0 {
		port = 8000
	}
	return host + ":" + cast.ToString(port)
}

func (e *HTTPConfig) setDefaults() {
	if e.AdminPrefix == "" {
		e.AdminPrefix = "/admin/tenancy"
	}
	if e.MetricsPath == "" {
		e.MetricsPath = "/metrics"
	}
}
