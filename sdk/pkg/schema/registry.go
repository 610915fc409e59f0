// Package schema 租户库的版本化结构迁移，新租户连接池创建时执行
package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
)

// MigrationFunc 迁移函数签名
type MigrationFunc func(db *gorm.DB, version string) error

// Migration 迁移版本记录表
type Migration struct {
	Version   string    `gorm:"primaryKey;size:64"`
	ApplyTime time.Time `gorm:"autoCreateTime"`
}

// VersionTable 版本记录表名，需加入查询隔离守卫的豁免表
const VersionTable = "sys_migration"

func (Migration) TableName() string {
	return VersionTable
}

// tenantState 单个租户的迁移状态
type tenantState struct {
	mu        sync.Mutex      // 保证同一租户的迁移串行执行
	completed map[string]bool // 已完成的版本（内存缓存）
}

// Registry 版本注册表
type Registry struct {
	mu       sync.RWMutex
	tenants  map[string]*tenantState
	versions map[string]MigrationFunc
	logger   *zap.Logger
}

var (
	globalRegistry *Registry
	once           sync.Once
)

// GetRegistry 全局注册表，迁移版本在 init() 中注册到这里
func GetRegistry() *Registry {
	once.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// NewRegistry 创建独立的注册表
func NewRegistry() *Registry {
	return &Registry{
		tenants:  make(map[string]*tenantState),
		versions: make(map[string]MigrationFunc),
		logger:   logger.Logger.Named("tenant.schema"),
	}
}

// RegisterVersion 注册迁移版本，版本号按字符串排序执行
func (r *Registry) RegisterVersion(version string, fn MigrationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[version] = fn
}

// Versions 已注册版本（排序后）
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.versions))
	for v := range r.versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

func (r *Registry) state(tenantID string) *tenantState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tenants[tenantID]
	if !ok {
		s = &tenantState{completed: make(map[string]bool)}
		r.tenants[tenantID] = s
	}
	return s
}

// Forget 丢弃租户的内存缓存，下次迁移重新读取版本记录表
func (r *Registry) Forget(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, tenantID)
}

// Migrate 对租户库执行尚未应用的版本，签名与连接池的 Initializer 一致
func (r *Registry) Migrate(ctx context.Context, tenantID string, db *gorm.DB) error {
	s := r.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	db = db.WithContext(ctx)
	log := r.logger.With(zap.String("tenant_id", tenantID))

	// 1. 确保 sys_migration 表存在
	if err := db.AutoMigrate(&Migration{}); err != nil {
		return fmt.Errorf("租户 %s 创建 sys_migration 表失败: %w", tenantID, err)
	}

	// 2. 已应用的版本（内存 + DB 双重检查）
	var records []Migration
	if err := db.Find(&records).Error; err != nil {
		return fmt.Errorf("租户 %s 读取迁移记录失败: %w", tenantID, err)
	}
	applied := make(map[string]bool, len(records))
	for _, record := range records {
		applied[record.Version] = true
	}

	// 3. 按版本号执行
	for _, version := range r.Versions() {
		if s.completed[version] {
			continue
		}
		if applied[version] {
			s.completed[version] = true
			log.Debug("schema version already applied", zap.String("version", version))
			continue
		}

		r.mu.RLock()
		fn := r.versions[version]
		r.mu.RUnlock()

		err := db.Transaction(func(tx *gorm.DB) error {
			if fn != nil {
				if err := fn(tx, version); err != nil {
					return err
				}
			}
			return tx.Create(&Migration{Version: version}).Error
		})
		if err != nil {
			return fmt.Errorf("租户 %s 版本 %s 迁移失败: %w", tenantID, version, err)
		}
		s.completed[version] = true
		log.Info("schema version applied", zap.String("version", version))
	}
	return nil
}
