package logger

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContextKey string

const (
	TrafficKey ContextKey = "JXT-Request-Id"
	LoggerKey  ContextKey = "_jxt-tenancy-zap-logger-request"
)

var (
	Logger        = zap.NewNop()    //全局ZapLogger打印
	DefaultLogger = Logger.Sugar() //全局SugarLogger打印，用于简易打印
)

// SetRequestLogger gin 中间件，为每个请求生成 request id 并挂载带该字段的 logger
func SetRequestLogger(c *gin.Context) {
	requestId := c.GetHeader(string(TrafficKey))
	if requestId == "" {
		requestId = uuid.NewString()
		c.Header(string(TrafficKey), requestId)
	}
	ctx := context.WithValue(c.Request.Context(), TrafficKey, requestId)
	requestLogger := Logger.With(zap.String(string(TrafficKey), requestId))
	ctx = context.WithValue(ctx, LoggerKey, requestLogger)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// GetRequestLogger 从上下文获得logger
func GetRequestLogger(c *gin.Context) *zap.Logger {
	return FromContext(c.Request.Context())
}

// FromContext 从 context 获得请求 logger，没有则返回全局 logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return l
	}
	return Logger
}

// WithLogger 把 logger 放入 context，租户中间件用它追加 tenant_id 字段
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

func Info(args ...interface{}) {
	DefaultLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	DefaultLogger.Infof(template, args...)
}

func Debugf(template string, args ...interface{}) {
	DefaultLogger.Debugf(template, args...)
}

func Warn(args ...interface{}) {
	DefaultLogger.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	DefaultLogger.Warnf(template, args...)
}

func Error(args ...interface{}) {
	DefaultLogger.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	DefaultLogger.Errorf(template, args...)
}

func Fatalf(template string, args ...interface{}) {
	DefaultLogger.Fatalf(template, args...)
	os.Exit(1)
}
