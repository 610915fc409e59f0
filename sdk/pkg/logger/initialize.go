package logger

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
)

/*
使用 zap.Logger: 组件内部记录结构化日志（租户ID、连接池、任务ID等字段）。
使用 zap.SugaredLogger: 启动、关闭等简易打印。
*/

// Setup 按配置初始化全局日志记录器，放在程序运行前执行
func Setup(cfg *config.Logger) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// 解析日志级别，默认使用info级别
	var logLevel zapcore.Level
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel = zapcore.InfoLevel
	}

	var cores []zapcore.Core

	if cfg.Path != "" {
		if logLevel < zapcore.ErrorLevel {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				rotateWriter(cfg, "info.log", cfg.InfoMaxAge),
				zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
					return lvl >= logLevel && lvl < zapcore.ErrorLevel
				}),
			))
		}

		// 始终写 error 文件
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			rotateWriter(cfg, "error.log", cfg.ErrorMaxAge),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= zapcore.ErrorLevel
			}),
		))
	}

	if cfg.Stdout {
		consoleEncoderConfig := encoderConfig
		consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig),
			zapcore.AddSync(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= logLevel
			}),
		))
	}

	// 如果没有任何core，添加一个空core防止panic
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(io.Discard),
			zap.LevelEnablerFunc(func(zapcore.Level) bool { return false }),
		))
	}

	SetLogger(zap.New(zapcore.NewTee(cores...), zap.AddCaller()))
}

// SetLogger 替换全局日志记录器（测试中可注入 zaptest/observer）
func SetLogger(l *zap.Logger) {
	Logger = l
	DefaultLogger = l.Sugar()
}

func rotateWriter(cfg *config.Logger, name string, maxAge int) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, name),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	})
}
