package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v9"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/json"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// Redis stores each tenant as JSON under {ns}tenants/{id}/meta and a domain
// index under {ns}domains/{domain}.
type Redis struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedis creates a redis backed directory
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{client: client, namespace: o.namespace}
}

func (r *Redis) metaKey(id string) string {
	return r.namespace + "tenants/" + id + "/meta"
}

func (r *Redis) domainKey(domain string) string {
	return r.namespace + "domains/" + domain
}

// GetByID implements Directory
func (r *Redis) GetByID(ctx context.Context, id string) (*tenant.Record, error) {
	val, err := r.client.Get(ctx, r.metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	var rec tenant.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode tenant %s: %w", id, err)
	}
	rec.ID = id
	return &rec, nil
}

// GetByDomain implements Directory
func (r *Redis) GetByDomain(ctx context.Context, domain string) (*tenant.Record, error) {
	id, err := r.client.Get(ctx, r.domainKey(normalizeDomain(domain))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by domain %s: %w", domain, err)
	}
	return r.GetByID(ctx, id)
}

// Put implements Writer
func (r *Redis) Put(ctx context.Context, rec *tenant.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", rec.ID, err)
	}

	prev, err := r.GetByID(ctx, rec.ID)
	if err != nil && !errors.Is(err, tenant.ErrTenantNotFound) {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil && prev.Domain != "" && normalizeDomain(prev.Domain) != normalizeDomain(rec.Domain) {
			pipe.Del(ctx, r.domainKey(normalizeDomain(prev.Domain)))
		}
		pipe.Set(ctx, r.metaKey(rec.ID), data, 0)
		if d := normalizeDomain(rec.Domain); d != "" {
			pipe.Set(ctx, r.domainKey(d), rec.ID, 0)
		}
		return nil
	})
	return err
}

// Delete implements Writer
func (r *Redis) Delete(ctx context.Context, id string) error {
	prev, err := r.GetByID(ctx, id)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := []string{r.metaKey(id)}
	if d := normalizeDomain(prev.Domain); d != "" {
		keys = append(keys, r.domainKey(d))
	}
	return r.client.Del(ctx, keys...).Err()
}
