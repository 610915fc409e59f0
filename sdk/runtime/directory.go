package runtime

import (
	"fmt"

	"github.com/go-redis/redis/v9"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
)

// openDirectory 按 tenants.resolver.directory 创建租户目录；gorm 目录返回控制库连接以便关闭
func openDirectory(cfg *config.Config, rdb redis.UniversalClient) (provider.Directory, *gorm.DB, error) {
	tc := cfg.Tenants
	switch tc.Resolver.Directory {
	case "", "memory":
		records := make([]*tenant.Record, 0, len(tc.List))
		for _, t := range tc.List {
			records = append(records, tenant.FromConfig(t))
		}
		return provider.NewMemory(records...), nil, nil

	case "gorm":
		if tc.Pool.ControlDSN == "" {
			return nil, nil, fmt.Errorf("tenants.pool.controlDsn is required for the gorm directory")
		}
		dialector, err := database.OpenDialector(tc.Pool.Driver, tc.Pool.ControlDSN)
		if err != nil {
			return nil, nil, err
		}
		level := 3
		if cfg.Logger != nil {
			level = cfg.Logger.GormLoggerLevel
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger: logger.NewGormLogger(logger.Logger.Named("tenant.directory"), level),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open tenant directory: %w", err)
		}
		dir := provider.NewGorm(db)
		if err := dir.AutoMigrate(); err != nil {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
			return nil, nil, fmt.Errorf("migrate tenant directory: %w", err)
		}
		return dir, db, nil

	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis is not configured for the redis directory")
		}
		var opts []provider.Option
		if cfg.Redis != nil && cfg.Redis.Namespace != "" {
			opts = append(opts, provider.WithNamespace(cfg.Redis.Namespace))
		}
		return provider.NewRedis(rdb, opts...), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown tenant directory %q", tc.Resolver.Directory)
}
