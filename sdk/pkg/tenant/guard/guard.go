// Package guard rejects SQL that could read or write across tenants.
//
// The check is lexical: a statement passes when every table it references is
// exempt, or when it carries both a WHERE clause and the tenant column (INSERT
// statements only need the tenant column). It cannot prove the predicate binds
// the current tenant's value, so it catches forgotten filters, not wrong ones.
//
// Usage:
//
//	g := guard.New(guard.WithExemptTables("sys_migration"))
//	db.Use(g) // every statement through db, its sessions and transactions is checked
//
//	ctx, restore := g.AdminScope(ctx) // cross-tenant maintenance
//	defer restore()
package guard

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

const maxLoggedQuery = 200

// Guard is the query isolation guard
type Guard struct {
	column   string
	columnRe *regexp.Regexp
	strict   bool
	exempt   map[string]struct{}

	enabled    atomic.Bool
	violations atomic.Int64

	logger      *zap.Logger
	onViolation func(v *tenant.ViolationError, blocked bool)
}

// Option configures a Guard
type Option func(*Guard)

// WithTenantColumn sets the column that scopes rows to a tenant
func WithTenantColumn(column string) Option {
	return func(g *Guard) {
		g.column = column
	}
}

// WithStrict blocks violating statements when true, only logs them when false
func WithStrict(strict bool) Option {
	return func(g *Guard) {
		g.strict = strict
	}
}

// WithExemptTables adds tables that hold no tenant data
func WithExemptTables(tables ...string) Option {
	return func(g *Guard) {
		for _, t := range tables {
			g.exempt[strings.ToLower(t)] = struct{}{}
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithViolationHook is called for every violation, blocked or not
func WithViolationHook(fn func(v *tenant.ViolationError, blocked bool)) Option {
	return func(g *Guard) {
		g.onViolation = fn
	}
}

// New creates an enabled, strict guard on tenant_id
func New(opts ...Option) *Guard {
	g := &Guard{
		column: "tenant_id",
		strict: true,
		exempt: make(map[string]struct{}),
		logger: logger.Logger.Named("tenant.guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.columnRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(g.column) + `\b`)
	g.enabled.Store(true)
	g.logger.Info("tenant query guard initialized", zap.Bool("strict", g.strict), zap.String("column", g.column))
	return g
}

// NewFromConfig creates a guard from the tenants.guard section
func NewFromConfig(cfg config.GuardConfig, opts ...Option) *Guard {
	base := []Option{WithStrict(cfg.Strict), WithExemptTables(cfg.ExemptTables...)}
	if cfg.TenantColumn != "" {
		base = append(base, WithTenantColumn(cfg.TenantColumn))
	}
	return New(append(base, opts...)...)
}

// Enable turns checking on for everyone
func (g *Guard) Enable() {
	g.enabled.Store(true)
}

// Disable turns checking off for everyone. Prefer AdminScope, which only
// affects one unit of work.
func (g *Guard) Disable() {
	g.enabled.Store(false)
}

// Enabled reports the global switch
func (g *Guard) Enabled() bool {
	return g.enabled.Load()
}

// Strict reports whether violations are blocked
func (g *Guard) Strict() bool {
	return g.strict
}

// Violations counts every violation seen so far
func (g *Guard) Violations() int64 {
	return g.violations.Load()
}

// IsExempt reports whether table holds no tenant data
func (g *Guard) IsExempt(table string) bool {
	_, ok := g.exempt[strings.ToLower(table)]
	return ok
}

// Check extracts the tables from query and checks it
func (g *Guard) Check(ctx context.Context, query string) error {
	return g.CheckTables(ctx, query, ExtractTables(query))
}

// CheckTables checks query against an explicit table list. It returns a
// *tenant.ViolationError in strict mode; in permissive mode it logs and
// returns nil.
func (g *Guard) CheckTables(ctx context.Context, query string, tables []string) error {
	if !g.Enabled() || !tenant.Enforced(ctx) {
		return nil
	}
	if g.allExempt(tables) || g.hasTenantFilter(query) {
		return nil
	}

	tenantID, _ := tenant.FromContext(ctx)
	v := &tenant.ViolationError{
		TenantID: tenantID,
		Tables:   tables,
		Query:    truncate(query, maxLoggedQuery),
		Reason:   "query without tenant filter",
	}
	g.violations.Add(1)
	if g.onViolation != nil {
		g.onViolation(v, g.strict)
	}

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.Strings("tables", tables),
		zap.String("query", v.Query),
	}
	if g.strict {
		logger.FromContext(ctx).Error("tenant isolation violation blocked", fields...)
		return v
	}
	logger.FromContext(ctx).Warn("tenant isolation violation allowed in permissive mode", fields...)
	return nil
}

// AdminScope returns a child of ctx with checking suspended. Only work that
// runs on the returned context is affected; ctx itself and anything else
// sharing it stay enforced, so scopes nest and may close in any order. The
// returned func marks the end of the window in the log.
func (g *Guard) AdminScope(ctx context.Context) (context.Context, func()) {
	actx := tenant.Suspend(ctx)
	tenantID, _ := tenant.FromContext(ctx)
	logger.FromContext(ctx).Warn("admin scope: tenant filters disabled", zap.String("tenant_id", tenantID))
	var once sync.Once
	return actx, func() {
		once.Do(func() {
			logger.FromContext(ctx).Info("admin scope: tenant filters restored", zap.String("tenant_id", tenantID))
		})
	}
}

func (g *Guard) allExempt(tables []string) bool {
	for _, t := range tables {
		if !g.IsExempt(t) {
			return false
		}
	}
	return true
}

func (g *Guard) hasTenantFilter(query string) bool {
	if !g.columnRe.MatchString(query) {
		return false
	}
	return wherePattern.MatchString(query) || insertPattern.MatchString(query)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
