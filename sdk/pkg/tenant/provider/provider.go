// Package provider implements the tenant directory: the source of truth for
// tenant records, looked up by id or by domain.
//
// Three backends are available:
//
//	provider.NewMemory(records...)             // static list from settings.yml
//	provider.NewGorm(controlDB)                // "tenants" table in a control database
//	provider.NewRedis(client, WithNamespace()) // JSON records under jxt/tenants/{id}/meta
//
// Every backend returns tenant.ErrTenantNotFound for an unknown tenant and
// hands out copies, so callers may mutate what they get.
package provider

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// Directory looks tenant records up
type Directory interface {
	GetByID(ctx context.Context, id string) (*tenant.Record, error)
	GetByDomain(ctx context.Context, domain string) (*tenant.Record, error)
}

// Writer is implemented by backends that can be updated at runtime
type Writer interface {
	Put(ctx context.Context, r *tenant.Record) error
	Delete(ctx context.Context, id string) error
}

// Option configures a backend
type Option func(*options)

type options struct {
	namespace string
}

func defaultOptions() options {
	return options{namespace: "jxt/"}
}

// WithNamespace sets the key prefix used by the redis backend
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if idx := strings.IndexByte(domain, ':'); idx != -1 {
		domain = domain[:idx]
	}
	return domain
}

// Memory is an in-process directory. Reads are lock free; Load swaps the
// whole snapshot at once.
type Memory struct {
	mu   sync.Mutex   // serialises writers
	data atomic.Value // *snapshot
}

type snapshot struct {
	byID     map[string]*tenant.Record
	byDomain map[string]string
}

// NewMemory creates a memory directory holding records
func NewMemory(records ...*tenant.Record) *Memory {
	m := &Memory{}
	m.Load(records)
	return m
}

// Load replaces every record
func (m *Memory) Load(records []*tenant.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(records)
}

func (m *Memory) store(records []*tenant.Record) {
	s := &snapshot{
		byID:     make(map[string]*tenant.Record, len(records)),
		byDomain: make(map[string]string, len(records)),
	}
	for _, r := range records {
		if r == nil || r.ID == "" {
			continue
		}
		s.byID[r.ID] = r.Clone()
		if d := normalizeDomain(r.Domain); d != "" {
			s.byDomain[d] = r.ID
		}
	}
	m.data.Store(s)
}

func (m *Memory) snapshot() *snapshot {
	return m.data.Load().(*snapshot)
}

// GetByID implements Directory
func (m *Memory) GetByID(_ context.Context, id string) (*tenant.Record, error) {
	r, ok := m.snapshot().byID[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return r.Clone(), nil
}

// GetByDomain implements Directory
func (m *Memory) GetByDomain(ctx context.Context, domain string) (*tenant.Record, error) {
	id, ok := m.snapshot().byDomain[normalizeDomain(domain)]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return m.GetByID(ctx, id)
}

// Put implements Writer
func (m *Memory) Put(_ context.Context, r *tenant.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.List()
	replaced := false
	for i := range records {
		if records[i].ID == r.ID {
			records[i] = r
			replaced = true
		}
	}
	if !replaced {
		records = append(records, r)
	}
	m.store(records)
	return nil
}

// Delete implements Writer
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.List()
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	m.store(kept)
	return nil
}

// List returns copies of every record
func (m *Memory) List() []*tenant.Record {
	s := m.snapshot()
	out := make([]*tenant.Record, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r.Clone())
	}
	return out
}
