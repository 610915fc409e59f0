package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// Session 从租户连接池借出的一条专用连接
//
// 必须调用 Release 归还，重复调用无副作用。会话内所有语句都在这条连接上执行，即使配置了副本。
type Session struct {
	TenantID string
	DB       *gorm.DB

	pool *Pool
	conn *sql.Conn
	once sync.Once
	err  error
}

// Release 归还连接
func (s *Session) Release() error {
	s.once.Do(func() {
		s.err = s.pool.release(s.conn)
	})
	return s.err
}

// GetSession 借出一条租户连接。
//
// ctx 上已有其他租户的作用域且未暂停隔离检查时拒绝；在 Timeout 内借不到返回
// ErrPoolAcquisitionTimeout；PrePing 失败返回 ErrConnectionUnavailable，连接池保持注册。
func (m *Manager) GetSession(ctx context.Context, tenantID string) (*Session, error) {
	if current, ok := tenant.FromContext(ctx); ok && current != tenantID && tenant.Enforced(ctx) {
		return nil, &tenant.ViolationError{
			TenantID: current,
			Reason:   fmt.Sprintf("session requested for tenant %s", tenantID),
		}
	}

	p, err := m.GetPool(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, err := p.acquire(actx)
	if err != nil {
		if errors.Is(err, ErrPoolClosing) {
			return nil, fmt.Errorf("%w: tenant %s: %w", tenant.ErrConnectionUnavailable, tenantID, err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			m.logger.Warn("tenant pool exhausted",
				zap.String("tenant_id", tenantID),
				zap.Duration("timeout", m.cfg.Timeout))
			return nil, fmt.Errorf("%w: tenant %s after %s", tenant.ErrPoolAcquisitionTimeout, tenantID, m.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: tenant %s: %w", tenant.ErrConnectionUnavailable, tenantID, err)
	}

	if m.cfg.PrePing {
		if err := m.checkConn(actx, conn); err != nil {
			// 坏连接直接丢弃，连接池保持注册，下次借出会新建连接
			p.discard(conn)
			m.logger.Warn("tenant connection pre-check failed",
				zap.String("tenant_id", tenantID), zap.Error(err))
			return nil, fmt.Errorf("%w: tenant %s: %w", tenant.ErrConnectionUnavailable, tenantID, err)
		}
	}

	// 会话使用自己的作用域，继承调用方的隔离检查状态
	sctx := tenant.WithScope(ctx, tenantID)
	if !tenant.Enforced(ctx) {
		sctx = tenant.Suspend(sctx)
	}
	var pool gorm.ConnPool = conn
	for _, w := range m.wrappers {
		pool = w.WrapConnPool(pool)
	}
	sctx = withSessionConn(sctx, pool)
	db := p.DB.Session(&gorm.Session{Context: sctx, NewDB: true})
	db.Statement.ConnPool = pool

	return &Session{
		TenantID: tenantID,
		DB:       db,
		pool:     p,
		conn:     conn,
	}, nil
}

// WithSession 借出连接执行 fn，任何返回路径都会归还连接
func (m *Manager) WithSession(ctx context.Context, tenantID string, fn func(db *gorm.DB) error) (err error) {
	s, err := m.GetSession(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(s.DB)
}
