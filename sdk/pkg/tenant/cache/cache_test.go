package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func rec(id string) *tenant.Record {
	return &tenant.Record{ID: id, Name: "name-" + id, Active: true}
}

func TestSizeNeverExceedsMax(t *testing.T) {
	c := New(3, time.Minute)
	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("t%d", i), rec(fmt.Sprintf("t%d", i)))
		assert.LessOrEqual(t, c.Stats().Size, 3)
	}
	assert.EqualValues(t, 17, c.Stats().Evictions)
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", rec("a"))
	c.Set("b", rec("b"))
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", rec("c"))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSetExistingKeyDoesNotEvict(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", rec("a"))
	c.Set("b", rec("b"))
	c.Set("a", &tenant.Record{ID: "a", Name: "updated"})

	assert.EqualValues(t, 0, c.Stats().Evictions)
	r, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", r.Name)
}

func TestTTLIsAbsolute(t *testing.T) {
	clock := newFakeClock()
	c := New(10, 300*time.Second, WithClock(clock.Now))
	c.Set("a", rec("a"))

	clock.Advance(200 * time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)

	// access does not extend the window
	clock.Advance(101 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size, "expired entry removed during lookup")

	s := c.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
}

func TestSetRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(10, 10*time.Second, WithClock(clock.Now))
	c.Set("a", rec("a"))
	clock.Advance(8 * time.Second)
	c.Set("a", rec("a"))
	clock.Advance(8 * time.Second)

	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(10, 10*time.Second, WithClock(clock.Now))
	c.Set("old1", rec("old1"))
	c.Set("old2", rec("old2"))
	clock.Advance(6 * time.Second)
	c.Set("fresh", rec("fresh"))
	clock.Advance(5 * time.Second)

	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Stats().Size)
	assert.Equal(t, 0, c.CleanupExpired())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCleanupExpiredConcurrent(t *testing.T) {
	clock := newFakeClock()
	c := New(100, time.Second, WithClock(clock.Now))
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("t%d", i), rec("x"))
	}
	clock.Advance(2 * time.Second)

	var total int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			atomic.AddInt64(&total, int64(c.CleanupExpired()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, total)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	c := New(10, time.Minute)
	in := &tenant.Record{ID: "a", Attributes: map[string]interface{}{"k": "v"}}
	c.Set("a", in)
	in.Attributes["k"] = "changed"

	out, _ := c.Get("a")
	assert.Equal(t, "v", out.Attributes["k"])
	out.Attributes["k"] = "mutated"

	again, _ := c.Get("a")
	assert.Equal(t, "v", again.Attributes["k"])
}

func TestStatsDisabled(t *testing.T) {
	c := NewFromConfig(config.TenantCache{MaxSize: 1, TTL: time.Minute, EnableStats: false})
	c.Set("a", rec("a"))
	c.Get("a")
	c.Get("zzz")
	c.Set("b", rec("b"))

	s := c.Stats()
	assert.Zero(t, s.Hits)
	assert.Zero(t, s.Misses)
	assert.Zero(t, s.Evictions)
	assert.Equal(t, 1, s.Size)
}

func TestHitRateRounding(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("a", rec("a"))
	c.Get("a")
	c.Get("b")
	c.Get("c")

	s := c.Stats()
	assert.Equal(t, 33.33, s.HitRate)
	assert.EqualValues(t, 3, s.TotalRequests)
}

func TestDeleteAndClear(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("a", rec("a"))
	c.Set("b", rec("b"))

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestGetOrFetchNoNegativeCaching(t *testing.T) {
	c := New(10, time.Minute)
	var calls int32
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	r, err := c.GetOrFetch(context.Background(), "ghost", fetch)
	require.NoError(t, err)
	assert.Nil(t, r)
	r, err = c.GetOrFetch(context.Background(), "ghost", fetch)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.EqualValues(t, 2, calls)

	boom := errors.New("directory down")
	_, err = c.GetOrFetch(context.Background(), "x", func(context.Context, string) (*tenant.Record, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestGetOrFetchCachesHits(t *testing.T) {
	c := New(10, time.Minute)
	var calls int32
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		atomic.AddInt32(&calls, 1)
		return rec(id), nil
	}

	for i := 0; i < 3; i++ {
		r, err := c.GetOrFetch(context.Background(), "a", fetch)
		require.NoError(t, err)
		assert.Equal(t, "a", r.ID)
	}
	assert.EqualValues(t, 1, calls)
}

func TestGetOrFetchCoalescesConcurrentMisses(t *testing.T) {
	c := New(10, time.Minute)
	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return rec(id), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.GetOrFetch(context.Background(), "a", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "a", r.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(10))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestGetOrFetchFirstCallerCancel(t *testing.T) {
	c := New(10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return rec(id), nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(first, "a", fetch)
		firstErr <- err
	}()
	<-started

	second := make(chan *tenant.Record, 1)
	go func() {
		r, err := c.GetOrFetch(context.Background(), "a", fetch)
		assert.NoError(t, err)
		second <- r
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	r := <-second
	require.NotNil(t, r)
	assert.Equal(t, "a", r.ID)
	_, ok := c.Get("a")
	assert.True(t, ok, "the shared fetch still populates the cache")
}

func TestDeleteDuringFetchIsNotUndone(t *testing.T) {
	c := New(10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
			return &tenant.Record{ID: id, Name: "stale"}, nil
		}
		return &tenant.Record{ID: id, Name: "fresh"}, nil
	}

	done := make(chan *tenant.Record, 1)
	go func() {
		r, _ := c.GetOrFetch(context.Background(), "a", fetch)
		done <- r
	}()
	<-started

	c.Delete("a")
	close(release)
	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, "stale", stale.Name)

	_, ok := c.Get("a")
	assert.False(t, ok, "an invalidated fetch must not write back")

	r, err := c.GetOrFetch(context.Background(), "a", fetch)
	require.NoError(t, err)
	assert.Equal(t, "fresh", r.Name)
	cached, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "fresh", cached.Name)
}

func TestClearDuringFetchIsNotUndone(t *testing.T) {
	c := New(10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context, id string) (*tenant.Record, error) {
		close(started)
		<-release
		return rec(id), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrFetch(context.Background(), "a", fetch)
	}()
	<-started
	c.Clear()
	close(release)
	<-done

	assert.Equal(t, 0, c.Stats().Size)
}

func TestService(t *testing.T) {
	dir := provider.NewMemory(
		&tenant.Record{ID: "acme", Name: "Acme", Domain: "acme.com", Active: true},
		&tenant.Record{ID: "old", Name: "Old", Active: false},
	)
	svc := NewService(New(10, time.Minute), dir)
	ctx := context.Background()

	r, err := svc.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", r.Name)

	_, err = svc.GetTenant(ctx, "nope")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	_, err = svc.GetTenant(ctx, "nope")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	assert.Equal(t, 1, svc.Cache().Stats().Size)

	_, err = svc.GetActiveTenant(ctx, "old")
	assert.ErrorIs(t, err, tenant.ErrTenantInactive)

	r, err = svc.GetTenantByDomain(ctx, "ACME.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", r.ID)

	require.NoError(t, dir.Put(ctx, &tenant.Record{ID: "acme", Name: "Acme 2", Active: true}))
	r, _ = svc.GetTenant(ctx, "acme")
	assert.Equal(t, "Acme", r.Name, "stale until refreshed")

	r, err = svc.Refresh(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme 2", r.Name)

	require.NoError(t, dir.Delete(ctx, "acme"))
	svc.Invalidate("acme")
	_, err = svc.GetTenant(ctx, "acme")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestSchedule(t *testing.T) {
	clock := newFakeClock()
	c := New(10, time.Second, WithClock(clock.Now))
	c.Set("a", rec("a"))
	clock.Advance(2 * time.Second)

	runner := cron.New()
	id, err := c.Schedule(runner, "@every 1s")
	require.NoError(t, err)
	assert.NotZero(t, id)

	runner.Entry(id).Job.Run()
	assert.Equal(t, 0, c.Stats().Size)

	_, err = c.Schedule(runner, "not a spec")
	assert.Error(t, err)
}
