package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

type CustomGormLogger struct {
	ZapLogger     *zap.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建租户连接池使用的 GORM 日志器，每个租户一个，带 tenant_id 字段
func NewGormLogger(baseLogger *zap.Logger, gormLogLevel int) logger.Interface {
	if gormLogLevel <= 0 {
		gormLogLevel = int(logger.Warn)
	}
	return &CustomGormLogger{
		ZapLogger:     baseLogger.Named("gorm"),
		LogLevel:      logger.LogLevel(gormLogLevel),
		SlowThreshold: defaultSlowThreshold,
	}
}

// 设置日志级别
func (l *CustomGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &CustomGormLogger{
		ZapLogger:     l.ZapLogger,
		LogLevel:      level,
		SlowThreshold: l.SlowThreshold,
	}
}

func (l *CustomGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.ZapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *CustomGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.ZapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *CustomGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.ZapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *CustomGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql)}

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		l.ZapLogger.Error("SQL错误", append(fields, zap.Error(err))...)
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		l.ZapLogger.Warn("慢SQL", fields...)
	case l.LogLevel >= logger.Info:
		l.ZapLogger.Info("SQL", fields...)
	}
}
