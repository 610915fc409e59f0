package database

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
)

// PoolConfig 所有租户共用的连接池参数
type PoolConfig struct {
	Driver       string        // 连接目标未指定驱动时使用
	Size         int           // 常驻连接数，对应 MaxIdleConns
	MaxOverflow  int           // 超出 Size 可额外打开的连接数，Size+MaxOverflow 对应 MaxOpenConns
	Timeout      time.Duration // 借出连接的最长等待
	Recycle      time.Duration // 连接最长存活时间
	PrePing      bool          // 借出前 ping
	GormLogLevel int
}

// DefaultPoolConfig 默认参数
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Driver:      "mysql",
		Size:        10,
		MaxOverflow: 20,
		Timeout:     30 * time.Second,
		Recycle:     time.Hour,
		PrePing:     true,
	}
}

// PoolConfigFrom 由 tenants.pool 配置段生成
func PoolConfigFrom(cfg config.PoolConfig, gormLogLevel int) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.Driver != "" {
		pc.Driver = cfg.Driver
	}
	if cfg.Size > 0 {
		pc.Size = cfg.Size
	}
	if cfg.MaxOverflow > 0 {
		pc.MaxOverflow = cfg.MaxOverflow
	}
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout
	}
	if cfg.Recycle > 0 {
		pc.Recycle = cfg.Recycle
	}
	pc.PrePing = cfg.PrePing
	pc.GormLogLevel = gormLogLevel
	return pc
}

// MaxOpen 单个租户最多打开的连接数
func (c PoolConfig) MaxOpen() int {
	return c.Size + c.MaxOverflow
}

// OpenDialector 按驱动名创建 gorm 方言
func OpenDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// openReplica 打开只读副本，返回的 *sql.DB 由 Pool 负责关闭
func openReplica(driver, dsn string) (*sql.DB, error) {
	dialector, err := OpenDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	return db.DB()
}

// dialectorFromConn 用已打开的连接构造方言，交给 dbresolver 使用
func dialectorFromConn(driver string, conn *sql.DB) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.New(mysql.Config{Conn: conn}), nil
	case "postgres", "postgresql":
		return postgres.New(postgres.Config{Conn: conn}), nil
	case "sqlite", "sqlite3":
		return &sqlite.Dialector{Conn: conn}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
