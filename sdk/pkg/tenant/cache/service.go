package cache

import (
	"context"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
)

// Service is the cache-aside entry point for tenant lookups
type Service struct {
	cache     *Cache
	directory provider.Directory
}

// NewService wires a cache in front of a directory
func NewService(c *Cache, dir provider.Directory) *Service {
	return &Service{cache: c, directory: dir}
}

// Cache returns the underlying cache
func (s *Service) Cache() *Cache {
	return s.cache
}

// GetTenant returns the tenant, tenant.ErrTenantNotFound when the directory
// does not know it. Not-found results are not cached.
func (s *Service) GetTenant(ctx context.Context, id string) (*tenant.Record, error) {
	r, err := s.cache.GetOrFetch(ctx, id, s.directory.GetByID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, tenant.ErrTenantNotFound
	}
	return r, nil
}

// GetActiveTenant is GetTenant plus an active check
func (s *Service) GetActiveTenant(ctx context.Context, id string) (*tenant.Record, error) {
	r, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, tenant.ErrTenantInactive
	}
	return r, nil
}

// GetTenantByDomain looks the domain up in the directory and warms the id cache
func (s *Service) GetTenantByDomain(ctx context.Context, domain string) (*tenant.Record, error) {
	r, err := s.directory.GetByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	s.cache.Set(r.ID, r)
	return r, nil
}

// Invalidate drops id from the cache
func (s *Service) Invalidate(id string) {
	s.cache.Delete(id)
}

// Refresh reloads id from the directory. A tenant that no longer exists is
// dropped from the cache and ErrTenantNotFound returned.
func (s *Service) Refresh(ctx context.Context, id string) (*tenant.Record, error) {
	s.cache.Delete(id)
	return s.GetTenant(ctx, id)
}
