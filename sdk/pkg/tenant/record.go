package tenant

import (
	"strings"
	"time"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/crypto"
)

// Record 租户记录
type Record struct {
	ID         string                 `json:"id" gorm:"primaryKey;size:64"`
	Name       string                 `json:"name" gorm:"size:128"`
	Domain     string                 `json:"domain,omitempty" gorm:"size:255;index"`
	Subdomain  string                 `json:"subdomain,omitempty" gorm:"size:128"`
	Active     bool                   `json:"active"`
	Connection ConnectionTarget       `json:"connection" gorm:"embedded;embeddedPrefix:db_"`
	Attributes map[string]interface{} `json:"attributes,omitempty" gorm:"serializer:json"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (Record) TableName() string {
	return "tenants"
}

// ConnectionTarget 租户数据库连接目标
type ConnectionTarget struct {
	Driver            string   `json:"driver,omitempty" gorm:"size:32"`
	Source            string   `json:"source,omitempty" gorm:"size:1024"`
	Replicas          []string `json:"replicas,omitempty" gorm:"serializer:json"`
	Password          string   `json:"password,omitempty" gorm:"size:512"`
	PasswordEncrypted bool     `json:"password_encrypted,omitempty"`
}

// DSN 返回可直接使用的主库连接串，cs 为 nil 时只允许明文连接串
func (c ConnectionTarget) DSN(cs *crypto.CryptoService) (string, error) {
	return c.expand(c.Source, cs)
}

// ReplicaDSNs 返回只读副本连接串
func (c ConnectionTarget) ReplicaDSNs(cs *crypto.CryptoService) ([]string, error) {
	out := make([]string, 0, len(c.Replicas))
	for _, r := range c.Replicas {
		dsn, err := c.expand(r, cs)
		if err != nil {
			return nil, err
		}
		out = append(out, dsn)
	}
	return out, nil
}

func (c ConnectionTarget) expand(dsn string, cs *crypto.CryptoService) (string, error) {
	if !c.PasswordEncrypted {
		if c.Password == "" {
			return dsn, nil
		}
		return replacePassword(dsn, c.Password), nil
	}
	return cs.ExpandDSN(dsn, c.Password)
}

// Clone 深拷贝，缓存存取都经过它，调用方修改返回值不影响缓存
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Connection.Replicas != nil {
		out.Connection.Replicas = append([]string(nil), r.Connection.Replicas...)
	}
	if r.Attributes != nil {
		out.Attributes = cloneValue(r.Attributes).(map[string]interface{})
	}
	return &out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// FromConfig 由静态配置生成租户记录
func FromConfig(c config.TenantConfig) *Record {
	r := &Record{
		ID:        c.ID,
		Name:      c.Name,
		Domain:    c.Domain,
		Subdomain: c.Subdomain,
		Active:    c.Active,
		Connection: ConnectionTarget{
			Driver:            c.Database.Driver,
			Source:            c.Database.Source,
			Replicas:          c.Database.Replicas,
			Password:          c.Database.Password,
			PasswordEncrypted: c.Database.PasswordEncrypted,
		},
		Attributes: c.Attributes,
	}
	return r.Clone()
}

func replacePassword(dsn, password string) string {
	return strings.ReplaceAll(dsn, crypto.PasswordPlaceholder, password)
}
