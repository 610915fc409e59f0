package guard

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
)

const pluginName = "tenant:guard"

// Name implements gorm.Plugin
func (g *Guard) Name() string {
	return pluginName
}

// Initialize implements gorm.Plugin. The connection pool is wrapped so raw SQL,
// sessions and transactions are checked too; the callbacks re-wrap pools that
// dbresolver swaps in and surface violations for Row().
func (g *Guard) Initialize(db *gorm.DB) error {
	wrapped := g.WrapConnPool(db.ConnPool)
	db.ConnPool = wrapped
	db.Statement.ConnPool = wrapped

	cb := db.Callback()
	rewrap := func(tx *gorm.DB) {
		if tx.Statement.ConnPool != nil {
			tx.Statement.ConnPool = g.WrapConnPool(tx.Statement.ConnPool)
		}
	}
	if err := cb.Create().Before("gorm:create").After("gorm:db_resolver").Register(pluginName+":create", rewrap); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").After("gorm:db_resolver").Register(pluginName+":query", rewrap); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").After("gorm:db_resolver").Register(pluginName+":update", rewrap); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").After("gorm:db_resolver").Register(pluginName+":delete", rewrap); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").After("gorm:db_resolver").Register(pluginName+":raw", rewrap); err != nil {
		return err
	}
	return cb.Row().Before("gorm:row").After("gorm:db_resolver").Register(pluginName+":row", func(tx *gorm.DB) {
		rewrap(tx)
		if tx.Error != nil {
			return
		}
		callbacks.BuildQuerySQL(tx)
		if err := g.Check(tx.Statement.Context, tx.Statement.SQL.String()); err != nil {
			_ = tx.AddError(err)
		}
	})
}

// WrapConnPool returns pool with every statement checked against ctx
func (g *Guard) WrapConnPool(pool gorm.ConnPool) gorm.ConnPool {
	switch p := pool.(type) {
	case *guardedPool, *guardedTx:
		return pool
	case gorm.TxCommitter:
		return &guardedTx{guardedPool: guardedPool{guard: g, pool: pool}, tx: p}
	default:
		return &guardedPool{guard: g, pool: pool}
	}
}

type guardedPool struct {
	guard *Guard
	pool  gorm.ConnPool
}

func (p *guardedPool) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if err := p.guard.Check(ctx, query); err != nil {
		return nil, err
	}
	return p.pool.PrepareContext(ctx, query)
}

func (p *guardedPool) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := p.guard.Check(ctx, query); err != nil {
		return nil, err
	}
	return p.pool.ExecContext(ctx, query, args...)
}

func (p *guardedPool) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := p.guard.Check(ctx, query); err != nil {
		return nil, err
	}
	return p.pool.QueryContext(ctx, query, args...)
}

// QueryRowContext cannot carry our error in *sql.Row; a blocked statement is
// run against a cancelled context so it never reaches the database. gorm's
// Row() reports the typed error from the row callback.
func (p *guardedPool) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if err := p.guard.Check(ctx, query); err != nil {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		return p.pool.QueryRowContext(cctx, query, args...)
	}
	return p.pool.QueryRowContext(ctx, query, args...)
}

// BeginTx keeps the transaction guarded
func (p *guardedPool) BeginTx(ctx context.Context, opts *sql.TxOptions) (gorm.ConnPool, error) {
	switch b := p.pool.(type) {
	case gorm.TxBeginner:
		tx, err := b.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &guardedTx{guardedPool: guardedPool{guard: p.guard, pool: tx}, tx: tx}, nil
	case gorm.ConnPoolBeginner:
		pool, err := b.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return p.guard.WrapConnPool(pool), nil
	default:
		return nil, gorm.ErrInvalidTransaction
	}
}

// GetDBConn keeps db.DB() working on a guarded pool
func (p *guardedPool) GetDBConn() (*sql.DB, error) {
	switch inner := p.pool.(type) {
	case *sql.DB:
		return inner, nil
	case gorm.GetDBConnector:
		return inner.GetDBConn()
	}
	return nil, errors.New("guarded pool does not wrap a *sql.DB")
}

type guardedTx struct {
	guardedPool
	tx gorm.TxCommitter
}

func (t *guardedTx) Commit() error {
	return t.tx.Commit()
}

func (t *guardedTx) Rollback() error {
	return t.tx.Rollback()
}
