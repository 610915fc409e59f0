package provider

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// Gorm reads tenant records from the "tenants" table of a control database
type Gorm struct {
	db *gorm.DB
}

// NewGorm creates a gorm backed directory
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// AutoMigrate creates the tenants table
func (g *Gorm) AutoMigrate() error {
	return g.db.AutoMigrate(&tenant.Record{})
}

// GetByID implements Directory
func (g *Gorm) GetByID(ctx context.Context, id string) (*tenant.Record, error) {
	return g.first(ctx, "id = ?", id)
}

// GetByDomain implements Directory
func (g *Gorm) GetByDomain(ctx context.Context, domain string) (*tenant.Record, error) {
	return g.first(ctx, "domain = ?", normalizeDomain(domain))
}

func (g *Gorm) first(ctx context.Context, query string, arg interface{}) (*tenant.Record, error) {
	var r tenant.Record
	err := g.db.WithContext(ctx).Where(query, arg).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant directory: %w", err)
	}
	return &r, nil
}

// Put implements Writer
func (g *Gorm) Put(ctx context.Context, r *tenant.Record) error {
	rec := r.Clone()
	rec.Domain = normalizeDomain(rec.Domain)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// Delete implements Writer
func (g *Gorm) Delete(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Delete(&tenant.Record{}, "id = ?", id).Error
}
