// Package cache keeps tenant records in memory with an absolute TTL and a
// bounded LRU size.
//
// Features:
//   - Get/Set/Delete/Clear serialised by one mutex
//   - Least recently accessed entry evicted when a new key arrives at MaxSize
//   - Expired entries removed on the failed lookup or by CleanupExpired
//   - Hit/miss/eviction counters, hit rate as a percentage
//   - Cache-aside Service over a provider.Directory, concurrent misses coalesced
//
// Usage:
//
//	c := cache.New(1000, 5*time.Minute)
//	svc := cache.NewService(c, directory)
//	rec, err := svc.GetTenant(ctx, "acme")
//
//	c.Schedule(cronRunner, "@every 1m") // periodic CleanupExpired
package cache
