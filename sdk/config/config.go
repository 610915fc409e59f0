package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 顶层配置结构
type Config struct {
	Application *Application `mapstructure:"application"`
	HTTP        *HTTPConfig  `mapstructure:"http" json:"http"`
	Logger      *Logger      `mapstructure:"logger"`
	Redis       *Redis       `mapstructure:"redis"`
	Encryption  *Encryption  `mapstructure:"encryption"`
	Tenants     *Tenants     `mapstructure:"tenants"`
}

// Encryption 连接密码加密配置
type Encryption struct {
	Key string `mapstructure:"key" validate:"omitempty,len=32"` // AES-256 密钥，32字节
}

var EncryptionConfig = new(Encryption)

var AppConfig = &Config{
	Application: ApplicationConfig,
	HTTP:        HttpConfig,
	Logger:      LoggerConfig,
	Redis:       RedisConfig,
	Encryption:  EncryptionConfig,
	Tenants:     TenantsConfig,
}

var validate = validator.New()

// Setup 读取配置文件到 AppConfig，并填充默认值、校验
func Setup(configYml string) error {
	v := viper.New()
	v.SetConfigFile(configYml)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 映射到AppConfig
	if err := v.Unmarshal(AppConfig); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	AppConfig.SetDefaults()
	return AppConfig.Validate()
}

// SetDefaults 填充各段默认值
func (e *Config) SetDefaults() {
	e.Logger.setDefaults()
	e.HTTP.setDefaults()
	e.Tenants.SetDefaults()
}

// Validate 校验配置
func (e *Config) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return e.Tenants.Validate()
}

// Validate 单独校验租户配置
func (e *Tenants) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("租户配置校验失败: %w", err)
	}
	seen := make(map[string]struct{}, len(e.List))
	for _, t := range e.List {
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("租户配置校验失败: 重复的租户ID %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
