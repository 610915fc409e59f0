package config

type Logger struct {
	Path            string `mapstructure:"path"`            // 日志文件路径
	Level           string `mapstructure:"level"`           // 日志级别
	Stdout          bool   `mapstructure:"stdout"`          // 是否输出到标准控制台
	MaxSize         int    `mapstructure:"maxSize"`         // 每个日志文件最大多少MB，一般设置50MB
	ErrorMaxAge     int    `mapstructure:"errorMaxAge"`     // error日志文件保留天数，一般设置14天
	InfoMaxAge      int    `mapstructure:"infoMaxAge"`      // info日志文件保留天数，一般设置3天
	MaxBackups      int    `mapstructure:"maxBackups"`      // 日志文件保留个数，一般设置20个
	EnabledDB       bool   `mapstructure:"enabledDB"`       // 是否启用数据库日志
	GormLoggerLevel int    `mapstructure:"gormLoggerLevel"` // 数据库日志打印级别（4：Info，3 Warn，2 Error，1 Silent）
}

var LoggerConfig = new(Logger)

func (e *Logger) setDefaults() {
	if e.Path == "" {
		e.Path = "temp/logs"
	}
	if e.Level == "" {
		e.Level = "info"
	}
	if e.MaxSize == 0 {
		e.MaxSize = 50
	}
	if e.GormLoggerLevel == 0 {
		e.GormLoggerLevel = 3
	}
}
