package database

import (
	"context"

	"gorm.io/gorm"
)

const pinCallback = "tenant:session_pin"

type sessionConnKey struct{}

func withSessionConn(ctx context.Context, pool gorm.ConnPool) context.Context {
	return context.WithValue(ctx, sessionConnKey{}, pool)
}

func sessionConn(ctx context.Context) (gorm.ConnPool, bool) {
	if ctx == nil {
		return nil, false
	}
	pool, ok := ctx.Value(sessionConnKey{}).(gorm.ConnPool)
	return pool, ok
}

// pinSession 配置了副本时，dbresolver 会把会话中的读请求切到副本；这里把语句拉回会话借出的连接。
// 事务内的语句已经在该连接上，不处理。
func pinSession(db *gorm.DB) {
	if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); inTx {
		return
	}
	if pool, ok := sessionConn(db.Statement.Context); ok {
		db.Statement.ConnPool = pool
	}
}

func registerPin(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").After("gorm:db_resolver").Register(pinCallback, pinSession); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").After("gorm:db_resolver").Register(pinCallback, pinSession); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").After("gorm:db_resolver").Register(pinCallback, pinSession); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").After("gorm:db_resolver").Register(pinCallback, pinSession); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").After("gorm:db_resolver").Register(pinCallback, pinSession); err != nil {
		return err
	}
	return cb.Raw().Before("gorm:raw").After("gorm:db_resolver").Register(pinCallback, pinSession)
}
