package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// Pool 单个租户的连接池
type Pool struct {
	TenantID string
	DB       *gorm.DB

	sqlDB     *sql.DB
	replicas  []*sql.DB
	cfg       PoolConfig
	createdAt time.Time

	mu       sync.Mutex
	closing  bool
	sessions map[*sql.Conn]struct{}

	closeOnce sync.Once
	closeErr  error
}

// ErrPoolClosing 连接池正在关闭或已关闭，不再借出连接
var ErrPoolClosing = errors.New("tenant pool closing")

// PoolStats 连接池统计
type PoolStats struct {
	TenantID         string        `json:"tenant_id"`
	Size             int           `json:"size"`
	CheckedIn        int           `json:"checked_in"`
	CheckedOut       int           `json:"checked_out"`
	Overflow         int           `json:"overflow"`
	TotalConnections int           `json:"total_connections"`
	MaxOpen          int           `json:"max_open"`
	WaitCount        int64         `json:"wait_count"`
	WaitDuration     time.Duration `json:"wait_duration"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Stats 当前统计
func (p *Pool) Stats() PoolStats {
	s := p.sqlDB.Stats()
	overflow := s.OpenConnections - p.cfg.Size
	if overflow < 0 {
		overflow = 0
	}
	return PoolStats{
		TenantID:         p.TenantID,
		Size:             p.cfg.Size,
		CheckedIn:        s.Idle,
		CheckedOut:       s.InUse,
		Overflow:         overflow,
		TotalConnections: s.OpenConnections,
		MaxOpen:          s.MaxOpenConnections,
		WaitCount:        s.WaitCount,
		WaitDuration:     s.WaitDuration,
		CreatedAt:        p.createdAt,
	}
}

// Closing 连接池是否已进入关闭流程
func (p *Pool) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// acquire 借出一条专用连接并登记，关闭流程开始后拒绝
func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	if p.Closing() {
		return nil, ErrPoolClosing
	}
	conn, err := p.sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosing
	}
	if p.sessions == nil {
		p.sessions = make(map[*sql.Conn]struct{})
	}
	p.sessions[conn] = struct{}{}
	p.mu.Unlock()
	return conn, nil
}

// release 归还连接。连接已被 close 强制收回时返回 nil
func (p *Pool) release(conn *sql.Conn) error {
	p.mu.Lock()
	delete(p.sessions, conn)
	p.mu.Unlock()
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

// discard 丢弃检测失败的连接，不放回连接池
func (p *Pool) discard(conn *sql.Conn) {
	p.mu.Lock()
	delete(p.sessions, conn)
	p.mu.Unlock()
	_ = conn.Raw(func(interface{}) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
}

// close 拒绝新的借出，收回仍被会话占用的连接，再关闭主库与副本；只执行一次。
// 收回连接会等待该连接上正在执行的语句结束，之后会话再用这条连接会得到 sql.ErrConnDone。
func (p *Pool) close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		outstanding := make([]*sql.Conn, 0, len(p.sessions))
		for conn := range p.sessions {
			outstanding = append(outstanding, conn)
		}
		p.sessions = nil
		p.mu.Unlock()

		for _, conn := range outstanding {
			_ = conn.Close()
		}
		err := p.sqlDB.Close()
		for _, r := range p.replicas {
			err = multierr.Append(err, r.Close())
		}
		p.closeErr = err
	})
	return p.closeErr
}
