package config

import (
	"time"

	"github.com/go-redis/redis/v9"
)

// Redis Redis配置，用于 redis 租户目录与迁移任务分布式锁
type Redis struct {
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	PoolSize    int           `mapstructure:"poolSize" validate:"gte=0"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	Namespace   string        `mapstructure:"namespace"` // key 前缀
}

var RedisConfig = new(Redis)

// Empty 未配置redis
func (e *Redis) Empty() bool {
	return e == nil || e.Addr == ""
}

// Options 转换为 go-redis 连接参数
func (e *Redis) Options() *redis.Options {
	return &redis.Options{
		Addr:        e.Addr,
		Username:    e.Username,
		Password:    e.Password,
		DB:          e.DB,
		PoolSize:    e.PoolSize,
		DialTimeout: e.DialTimeout,
	}
}

// NewClient 创建 redis 客户端
func (e *Redis) NewClient() *redis.Client {
	return redis.NewClient(e.Options())
}
