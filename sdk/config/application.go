package config

// Application 应用程序配置
type Application struct {
	Mode string `mapstructure:"mode" json:"mode" validate:"omitempty,oneof=dev test prod"`
	Name string `mapstructure:"name" json:"name"`
}

var ApplicationConfig = new(Application)

// IsDev 是否开发模式
func (e *Application) IsDev() bool {
	return e.Mode == "" || e.Mode == "dev"
}
