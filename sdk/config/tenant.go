package config

import (
	"time"
)

var TenantsConfig = new(Tenants)

// Tenants 多租户隔离配置
type Tenants struct {
	Enabled   bool            `mapstructure:"enabled"` // 是否启用多租户隔离
	Resolver  Resolver        `mapstructure:"resolver"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Cache     TenantCache     `mapstructure:"cache"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Migration MigrationConfig `mapstructure:"migration"`
	List      []TenantConfig  `mapstructure:"list" validate:"dive"` // 静态租户列表，Directory 为 memory 时使用
}

// Resolver 租户识别配置
type Resolver struct {
	Type          string `mapstructure:"type" validate:"omitempty,oneof=header subdomain path host query"` // 租户识别方式
	HeaderName    string `mapstructure:"headerName"`                                                 // 当type为header时使用的header名称
	PathIndex     int    `mapstructure:"pathIndex" validate:"gte=0"`                                 // 当type为path时使用的路径段索引
	DefaultTenant string `mapstructure:"defaultTenant"`                                              // 无法识别时使用的默认租户
	MaxIDLength   int    `mapstructure:"maxIdLength" validate:"gte=0"`                               // 租户ID最大长度
	Directory     string `mapstructure:"directory" validate:"omitempty,oneof=memory gorm redis"`     // 租户目录来源
}

// PoolConfig 每个租户连接池的统一配置
type PoolConfig struct {
	Driver      string        `mapstructure:"driver" validate:"omitempty,oneof=mysql postgres sqlite"`
	Size        int           `mapstructure:"size" validate:"gte=0"`        // 常驻连接数
	MaxOverflow int           `mapstructure:"maxOverflow" validate:"gte=0"` // 可额外借出的连接数
	Timeout     time.Duration `mapstructure:"timeout"`                      // 借出连接的最长等待时间
	Recycle     time.Duration `mapstructure:"recycle"`                      // 连接最长存活时间
	PrePing     bool          `mapstructure:"prePing"`                      // 借出前检测连接
	ControlDSN  string        `mapstructure:"controlDsn"`                   // directory 为 gorm 时的租户目录库
}

// TenantCache 租户元数据缓存配置
type TenantCache struct {
	MaxSize     int           `mapstructure:"maxSize" validate:"gte=0"`
	TTL         time.Duration `mapstructure:"ttl"`
	EnableStats bool          `mapstructure:"enableStats"`
	CleanupSpec string        `mapstructure:"cleanupSpec"` // cron 表达式，默认 @every 1m
}

// GuardConfig 查询隔离守卫配置
type GuardConfig struct {
	TenantColumn string   `mapstructure:"tenantColumn"`
	Strict       bool     `mapstructure:"strict"`
	ExemptTables []string `mapstructure:"exemptTables"`
}

// MigrationConfig 租户数据迁移配置
type MigrationConfig struct {
	ExportPath       string        `mapstructure:"exportPath"`
	BatchSize        int           `mapstructure:"batchSize" validate:"gte=0"`
	BatchesPerSecond float64       `mapstructure:"batchesPerSecond" validate:"gte=0"` // 0 表示不限速
	LockTTL          time.Duration `mapstructure:"lockTtl"`
	Tables           []string      `mapstructure:"tables"` // 未指定表时迁移的默认表
}

type TenantConfig struct {
	ID         string                 `mapstructure:"id" validate:"required"` // 租户ID
	Name       string                 `mapstructure:"name"`                   // 租户名称
	Active     bool                   `mapstructure:"active"`                 // 租户是否处于活动状态
	Domain     string                 `mapstructure:"domain"`
	Subdomain  string                 `mapstructure:"subdomain"`
	Hosts      []string               `mapstructure:"hosts"` // 允许一个租户关联多个主机名
	Database   TenantDatabase         `mapstructure:"database"`
	Attributes map[string]interface{} `mapstructure:"attributes"`
}

// TenantDatabase 租户数据库连接目标
type TenantDatabase struct {
	Driver            string   `mapstructure:"driver"`
	Source            string   `mapstructure:"source"`
	Replicas          []string `mapstructure:"replicas"`
	PasswordEncrypted bool     `mapstructure:"passwordEncrypted"` // source 中的 {password} 由 encryption.key 解密后填入
	Password          string   `mapstructure:"password"`
}

// SetDefaults 填充未配置项
func (e *Tenants) SetDefaults() {
	if e.Resolver.Type == "" {
		e.Resolver.Type = "header"
	}
	if e.Resolver.HeaderName == "" {
		e.Resolver.HeaderName = "X-Tenant-ID"
	}
	if e.Resolver.MaxIDLength == 0 {
		e.Resolver.MaxIDLength = 50
	}
	if e.Resolver.Directory == "" {
		e.Resolver.Directory = "memory"
	}
	if e.Pool.Driver == "" {
		e.Pool.Driver = "mysql"
	}
	if e.Pool.Size == 0 {
		e.Pool.Size = 10
	}
	if e.Pool.MaxOverflow == 0 {
		e.Pool.MaxOverflow = 20
	}
	if e.Pool.Timeout == 0 {
		e.Pool.Timeout = 30 * time.Second
	}
	if e.Pool.Recycle == 0 {
		e.Pool.Recycle = time.Hour
	}
	if e.Cache.MaxSize == 0 {
		e.Cache.MaxSize = 1000
	}
	if e.Cache.TTL == 0 {
		e.Cache.TTL = 5 * time.Minute
	}
	if e.Cache.CleanupSpec == "" {
		e.Cache.CleanupSpec = "@every 1m"
	}
	if e.Guard.TenantColumn == "" {
		e.Guard.TenantColumn = "tenant_id"
	}
	if e.Migration.ExportPath == "" {
		e.Migration.ExportPath = "./exports"
	}
	if e.Migration.BatchSize == 0 {
		e.Migration.BatchSize = 500
	}
	if e.Migration.LockTTL == 0 {
		e.Migration.LockTTL = 10 * time.Minute
	}
}

// 配置举例
/*
tenants:
  enabled: true
  resolver:
    type: "subdomain"        # header, subdomain, path, host, query
    headerName: "X-Tenant-ID"
    defaultTenant: ""
    directory: "memory"      # memory, gorm, redis
  pool:
    driver: "mysql"
    size: 10
    maxOverflow: 20
    timeout: 30s
    recycle: 1h
    prePing: true
  cache:
    maxSize: 1000
    ttl: 5m
    enableStats: true
    cleanupSpec: "@every 1m"
  guard:
    tenantColumn: "tenant_id"
    strict: true
    exemptTables: ["sys_migration", "tenants"]
  migration:
    exportPath: "./exports"
    batchSize: 500
    batchesPerSecond: 20
  list:
    - id: "acme"
      name: "Acme Corp"
      active: true
      domain: "acme.com"
      subdomain: "acme"
      hosts: ["acme.com", "www.acme.com"]
      database:
        source: "acme:{password}@tcp(db.example.com:3306)/acme?parseTime=true"
        password: "base64-aes-gcm-ciphertext"
        passwordEncrypted: true
        replicas:
          - "acme:{password}@tcp(db-ro.example.com:3306)/acme?parseTime=true"
*/
