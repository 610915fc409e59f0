package tenant

import (
	"context"
)

type scopeKey struct{}

// Scope 一次逻辑工作单元的租户作用域：当前租户 + 是否强制隔离检查
//
// Scope 创建后不可修改。切换租户或暂停检查都派生新的子 ctx，
// 父 ctx 以及共享父 ctx 的其他 goroutine 不受影响；离开时丢弃子 ctx 即可。
type Scope struct {
	tenantID string
	enforce  bool
}

// NewScope 创建作用域，默认开启隔离检查
func NewScope(tenantID string) *Scope {
	return &Scope{tenantID: tenantID, enforce: true}
}

// TenantID 当前租户，未设置时返回空串
func (s *Scope) TenantID() string {
	return s.tenantID
}

// Enforced 当前是否执行隔离检查
func (s *Scope) Enforced() bool {
	return s.enforce
}

// WithScope 为 ctx 绑定新的租户作用域
func WithScope(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, NewScope(tenantID))
}

// ContextWithScope 绑定已有的作用域
func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// Enter 派生切换到 tenantID 的子 ctx，隔离检查状态沿用父 ctx
func Enter(ctx context.Context, tenantID string) context.Context {
	return ContextWithScope(ctx, &Scope{tenantID: tenantID, enforce: Enforced(ctx)})
}

// Suspend 派生暂停隔离检查的子 ctx，租户沿用父 ctx
func Suspend(ctx context.Context) context.Context {
	id, _ := FromContext(ctx)
	return ContextWithScope(ctx, &Scope{tenantID: id})
}

// ScopeFrom 取出 ctx 上的作用域
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// FromContext 取出当前租户ID
func FromContext(ctx context.Context) (string, bool) {
	s, ok := ScopeFrom(ctx)
	if !ok {
		return "", false
	}
	id := s.TenantID()
	return id, id != ""
}

// RequireTenant 要求 ctx 上存在租户，否则返回 ErrNoTenantContext
func RequireTenant(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoTenantContext
	}
	return id, nil
}

// Enforced ctx 上是否需要执行隔离检查；没有作用域时视为需要
func Enforced(ctx context.Context) bool {
	s, ok := ScopeFrom(ctx)
	if !ok {
		return true
	}
	return s.Enforced()
}
