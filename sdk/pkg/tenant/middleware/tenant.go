// Package middleware gin 中间件：识别请求所属租户并建立租户作用域。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// 识别策略
const (
	ResolverHeader    = "header"
	ResolverSubdomain = "subdomain"
	ResolverPath      = "path"
	ResolverHost      = "host"
	ResolverQuery     = "query"
)

// gin.Context 中的键
const (
	ContextKeyTenantID     = "tenant_id"
	ContextKeyResolverType = "tenant_resolver_type"
	ContextKeyTenant       = "tenant"
)

// DomainLookup 通过域名查询租户ID，用于 host 策略的兜底
type DomainLookup func(ctx context.Context, host string) (string, error)

type options struct {
	resolverType  string
	headerName    string
	queryParam    string
	pathIndex     int
	defaultTenant string
	maxIDLength   int
	hosts         *HostResolver
	domainLookup  DomainLookup
}

// Option 配置 ExtractTenantID
type Option func(*options)

// WithResolverType header、subdomain、path、host 或 query，默认 header
func WithResolverType(t string) Option {
	return func(o *options) {
		o.resolverType = t
	}
}

// WithHeaderName header 策略使用的请求头，默认 X-Tenant-ID
func WithHeaderName(name string) Option {
	return func(o *options) {
		o.headerName = name
	}
}

// WithQueryParam query 策略使用的参数名，默认 tenant
func WithQueryParam(name string) Option {
	return func(o *options) {
		o.queryParam = name
	}
}

// WithPathIndex path 策略取第几段路径，从 0 开始
func WithPathIndex(i int) Option {
	return func(o *options) {
		o.pathIndex = i
	}
}

// WithDefaultTenant 识别不到租户时使用
func WithDefaultTenant(id string) Option {
	return func(o *options) {
		o.defaultTenant = id
	}
}

// WithMaxIDLength 租户ID最大长度
func WithMaxIDLength(n int) Option {
	return func(o *options) {
		o.maxIDLength = n
	}
}

// WithHostResolver host 策略的静态映射
func WithHostResolver(r *HostResolver) Option {
	return func(o *options) {
		o.hosts = r
	}
}

// WithDomainLookup host 策略在静态映射未命中时调用
func WithDomainLookup(fn DomainLookup) Option {
	return func(o *options) {
		o.domainLookup = fn
	}
}

// OptionsFromConfig 由 tenants.resolver 配置段生成选项
func OptionsFromConfig(cfg config.Resolver) []Option {
	opts := []Option{
		WithResolverType(cfg.Type),
		WithPathIndex(cfg.PathIndex),
		WithDefaultTenant(cfg.DefaultTenant),
		WithMaxIDLength(cfg.MaxIDLength),
	}
	if cfg.HeaderName != "" {
		opts = append(opts, WithHeaderName(cfg.HeaderName))
	}
	return opts
}

// ExtractTenantID 识别租户，写入 gin.Context 并在请求 context 上建立租户作用域。
// 识别不到且没有默认租户，或租户ID不合法时返回 400。
func ExtractTenantID(opts ...Option) gin.HandlerFunc {
	o := &options{
		resolverType: ResolverHeader,
		headerName:   "X-Tenant-ID",
		queryParam:   "tenant",
		maxIDLength:  tenant.DefaultMaxIDLength,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.resolverType == "" {
		o.resolverType = ResolverHeader
	}

	return func(c *gin.Context) {
		tenantID := o.resolve(c)
		if tenantID == "" {
			tenantID = o.defaultTenant
		}
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant not identified"})
			return
		}
		if err := tenant.ValidateID(tenantID, o.maxIDLength); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyTenantID, tenantID)
		c.Set(ContextKeyResolverType, o.resolverType)

		ctx := tenant.WithScope(c.Request.Context(), tenantID)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With(zap.String("tenant_id", tenantID)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (o *options) resolve(c *gin.Context) string {
	switch o.resolverType {
	case ResolverHeader:
		return strings.TrimSpace(c.GetHeader(o.headerName))
	case ResolverQuery:
		return strings.TrimSpace(c.Query(o.queryParam))
	case ResolverSubdomain:
		return subdomain(c.Request.Host)
	case ResolverPath:
		parts := strings.Split(strings.Trim(c.Request.URL.Path, "/"), "/")
		if o.pathIndex >= 0 && o.pathIndex < len(parts) {
			return parts[o.pathIndex]
		}
	case ResolverHost:
		if o.hosts != nil {
			if id, ok := o.hosts.Lookup(c.Request.Host); ok {
				return id
			}
		}
		if o.domainLookup != nil {
			id, err := o.domainLookup(c.Request.Context(), stripPort(c.Request.Host))
			if err == nil {
				return id
			}
			logger.GetRequestLogger(c).Debug("tenant domain lookup failed",
				zap.String("host", c.Request.Host), zap.Error(err))
		}
	}
	return ""
}

// subdomain 最左侧的标签，至少三级域名，www 不算
func subdomain(host string) string {
	parts := strings.Split(stripPort(host), ".")
	if len(parts) <= 2 || parts[0] == "www" {
		return ""
	}
	return parts[0]
}

// GetTenantID 当前请求的租户ID，未识别时返回空串
func GetTenantID(c *gin.Context) string {
	return c.GetString(ContextKeyTenantID)
}

// MustGetTenantID 未识别租户时 panic，只用于挂在 ExtractTenantID 之后的路由
func MustGetTenantID(c *gin.Context) string {
	id := GetTenantID(c)
	if id == "" {
		panic("tenant id not found in gin context, is ExtractTenantID installed?")
	}
	return id
}
