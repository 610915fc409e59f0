package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

// memAccessor keeps rows per tenant and table
type memAccessor struct {
	mu         sync.Mutex
	data       map[string]map[string][]Row
	failInsert map[string]error
	onInsert   func(tenantID, table string, n int)
}

func newMemAccessor() *memAccessor {
	return &memAccessor{
		data:       make(map[string]map[string][]Row),
		failInsert: make(map[string]error),
	}
}

func (m *memAccessor) seed(tenantID, table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[tenantID] == nil {
		m.data[tenantID] = make(map[string][]Row)
	}
	for i := 0; i < n; i++ {
		m.data[tenantID][table] = append(m.data[tenantID][table], Row{
			"id":        i + 1,
			"tenant_id": tenantID,
			"name":      fmt.Sprintf("%s-%d", table, i+1),
		})
	}
}

func (m *memAccessor) rows(tenantID, table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Row{}, m.data[tenantID][table]...)
}

func (m *memAccessor) Tables(_ context.Context, tenantID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tables := make([]string, 0, len(m.data[tenantID]))
	for t := range m.data[tenantID] {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

func (m *memAccessor) Fetch(_ context.Context, tenantID, table string) ([]Row, error) {
	return m.rows(tenantID, table), nil
}

func (m *memAccessor) Insert(_ context.Context, tenantID, table string, rows []Row) error {
	if m.onInsert != nil {
		m.onInsert(tenantID, table, len(rows))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInsert[table]; err != nil {
		return err
	}
	if m.data[tenantID] == nil {
		m.data[tenantID] = make(map[string][]Row)
	}
	for _, r := range rows {
		c := make(Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		c["tenant_id"] = tenantID
		m.data[tenantID][table] = append(m.data[tenantID][table], c)
	}
	return nil
}

func (m *memAccessor) Delete(_ context.Context, tenantID, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data[tenantID][table]))
	delete(m.data[tenantID], table)
	return n, nil
}

// gateLocker blocks Lock until released, so the running state can be observed
type gateLocker struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateLocker) Lock(ctx context.Context, _ string, _ time.Duration) (func(context.Context) error, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func(context.Context) error { return nil }, nil
}

func newTestEngine(t *testing.T, acc DataAccessor, opts ...Option) (*Engine, afero.Fs) {
	fs := afero.NewMemMapFs()
	base := []Option{WithStore(NewFileStore(fs, "/exports")), WithBatchSize(2)}
	e := NewEngine(acc, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, fs
}

func wait(t *testing.T, e *Engine, id string) JobView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := e.Wait(ctx, id)
	require.NoError(t, err)
	return v
}

func TestJobStartsPending(t *testing.T) {
	j := newJob("job-1", Request{Source: "t1", Target: "t2"}, time.Now())
	v := j.snapshot()
	assert.Equal(t, StatusPending, v.Status)
	assert.Nil(t, v.StartedAt)
	assert.Equal(t, 0.0, v.Progress)

	require.True(t, j.start(time.Now()))
	require.True(t, j.finish(StatusCompleted, time.Now(), nil))
	// 终态不再变化
	assert.False(t, j.finish(StatusFailed, time.Now(), errors.New("late")))
	assert.False(t, j.update(func(v *JobView) { v.MigratedRecords = 99 }))
	v = j.snapshot()
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Empty(t, v.Errors)
	assert.Zero(t, v.MigratedRecords)

	j.record(2, 1)
	v = j.snapshot()
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, int64(2), v.MigratedRecords)
	assert.Equal(t, int64(1), v.FailedRecords)
}

func TestMigrationLifecycle(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 3)
	acc.seed("t1", "users", 2)
	gate := &gateLocker{entered: make(chan struct{}), release: make(chan struct{})}
	e, fs := newTestEngine(t, acc, WithLocker(gate))

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	require.NoError(t, err)

	<-gate.entered
	v, ok := e.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, v.Status)
	assert.NotNil(t, v.StartedAt)
	close(gate.release)

	v = wait(t, e, id)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, []string{"orders", "users"}, v.Tables)
	assert.Equal(t, int64(5), v.TotalRecords)
	assert.Equal(t, int64(5), v.MigratedRecords)
	assert.Zero(t, v.FailedRecords)
	assert.Equal(t, 100.0, v.Progress)
	assert.Empty(t, v.Errors)
	assert.NotNil(t, v.CompletedAt)
	assert.Empty(t, v.ArtifactPath)

	assert.Len(t, acc.rows("t2", "orders"), 3)
	assert.Len(t, acc.rows("t2", "users"), 2)
	for _, r := range acc.rows("t2", "orders") {
		assert.Equal(t, "t2", r["tenant_id"])
	}
	// 移动模式删除源数据
	assert.Empty(t, acc.rows("t1", "orders"))
	assert.Empty(t, acc.rows("t1", "users"))

	files, err := afero.ReadDir(fs, "/exports")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMigrationCopyMode(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 3)
	acc.seed("t1", "users", 2)
	e, _ := newTestEngine(t, acc)

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2", Tables: []string{"orders"}, CopyMode: true})
	require.NoError(t, err)
	v := wait(t, e, id)

	assert.Equal(t, StatusCompleted, v.Status)
	assert.True(t, v.CopyMode)
	assert.Equal(t, int64(3), v.MigratedRecords)
	assert.Len(t, acc.rows("t1", "orders"), 3)
	assert.Len(t, acc.rows("t2", "orders"), 3)
	assert.Empty(t, acc.rows("t2", "users"))
}

func TestMigrationImportFailure(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 3)
	acc.seed("t1", "users", 2)
	acc.failInsert["users"] = errors.New("disk full")
	e, fs := newTestEngine(t, acc)

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	require.NoError(t, err)
	v := wait(t, e, id)

	assert.Equal(t, StatusFailed, v.Status)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "disk full")
	assert.Contains(t, v.Errors[0], stepImport)
	// orders 两批共 3 行已写入，之后不再变化
	assert.Equal(t, int64(3), v.MigratedRecords)
	assert.Equal(t, int64(2), v.FailedRecords)
	assert.Equal(t, 60.0, v.Progress)
	assert.NotNil(t, v.CompletedAt)

	// 已写入目标的数据不回滚，源数据保留
	assert.Len(t, acc.rows("t2", "orders"), 3)
	assert.Len(t, acc.rows("t1", "orders"), 3)
	assert.Len(t, acc.rows("t1", "users"), 2)

	require.NotEmpty(t, v.ArtifactPath)
	exists, err := afero.Exists(fs, v.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, exists)

	again, _ := e.Status(id)
	assert.Equal(t, v, again)
}

func TestMigrationCancel(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 6)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	acc.onInsert = func(string, string, int) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	e, _ := newTestEngine(t, acc)

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	require.NoError(t, err)
	<-entered
	require.NoError(t, e.Cancel(id))
	close(release)

	v := wait(t, e, id)
	assert.Equal(t, StatusCancelled, v.Status)
	// 取消时正在写入的批次已经提交，计数如实反映
	assert.Equal(t, int64(2), v.MigratedRecords)
	assert.Equal(t, int64(6), v.TotalRecords)
	// 取消后不再写入下一批，也不删除源数据
	assert.Len(t, acc.rows("t2", "orders"), 2)
	assert.Len(t, acc.rows("t1", "orders"), 6)

	assert.ErrorIs(t, e.Cancel(id), ErrJobNotRunning)
	assert.ErrorIs(t, e.Cancel("nope"), ErrJobNotFound)

	require.NoError(t, e.Remove(id))
	_, ok := e.Status(id)
	assert.False(t, ok)
	assert.ErrorIs(t, e.Remove(id), ErrJobNotFound)
}

func TestCancelCompletedJob(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 1)
	e, _ := newTestEngine(t, acc)

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2", CopyMode: true})
	require.NoError(t, err)
	wait(t, e, id)
	assert.ErrorIs(t, e.Cancel(id), ErrJobNotRunning)
}

func TestRemoveActiveJob(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 1)
	gate := &gateLocker{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newTestEngine(t, acc, WithLocker(gate))

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	require.NoError(t, err)
	<-gate.entered
	assert.ErrorIs(t, e.Remove(id), ErrJobActive)
	close(gate.release)
	wait(t, e, id)
	assert.NoError(t, e.Remove(id))
}

func TestSourceLocked(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 2)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	acc.onInsert = func(string, string, int) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	e, _ := newTestEngine(t, acc)

	first, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2", CopyMode: true})
	require.NoError(t, err)
	<-entered

	second, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t3", CopyMode: true})
	require.NoError(t, err)
	v := wait(t, e, second)
	assert.Equal(t, StatusFailed, v.Status)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], ErrLocked.Error())

	close(release)
	assert.Equal(t, StatusCompleted, wait(t, e, first).Status)
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newTestEngine(t, newMemAccessor())
	ctx := context.Background()

	_, err := e.Submit(ctx, Request{Source: "t1"})
	assert.Error(t, err)
	_, err = e.Submit(ctx, Request{Source: "t1", Target: "t1"})
	assert.Error(t, err)
	_, err = e.Submit(ctx, Request{Source: "t1", Target: "bad id"})
	assert.ErrorIs(t, err, tenant.ErrInvalidTenantID)
	assert.Empty(t, e.List(Filter{}))
}

func TestListFilter(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 1)
	acc.seed("t3", "orders", 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	e, _ := newTestEngine(t, acc, WithClock(clock))
	ctx := context.Background()

	a, err := e.Submit(ctx, Request{Source: "t1", Target: "t2", CopyMode: true})
	require.NoError(t, err)
	wait(t, e, a)
	b, err := e.Submit(ctx, Request{Source: "t3", Target: "t4", CopyMode: true})
	require.NoError(t, err)
	wait(t, e, b)
	c, err := e.Submit(ctx, Request{Source: "missing", Target: "t1", Tables: []string{"orders"}, CopyMode: true})
	require.NoError(t, err)
	wait(t, e, c)

	all := e.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{a, b, c}, []string{all[0].ID, all[1].ID, all[2].ID})

	byTenant := e.List(Filter{TenantID: "t1"})
	require.Len(t, byTenant, 2)
	assert.Equal(t, a, byTenant[0].ID)
	assert.Equal(t, c, byTenant[1].ID)

	completed := e.List(Filter{Status: StatusCompleted})
	assert.Len(t, completed, 3)
	assert.Empty(t, e.List(Filter{Status: StatusFailed}))

	counts := e.Counts()
	assert.Equal(t, 3, counts[StatusCompleted])
}

func TestExportImport(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 3)
	acc.seed("t1", "users", 1)
	e, fs := newTestEngine(t, acc, WithClock(func() time.Time {
		return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	}))
	ctx := context.Background()

	path, err := e.Export(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "/exports/t1_20240506_070809.json", path)

	second, err := e.Export(ctx, "t1", []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "/exports/t1_20240506_070809_1.json", second)

	a, err := NewFileStore(fs, "/exports").Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "t1", a.TenantID)
	assert.Equal(t, []string{"orders", "users"}, a.Tables)
	assert.Equal(t, int64(4), a.Records())

	require.NoError(t, e.Import(ctx, "t9", path))
	rows := acc.rows("t9", "orders")
	require.Len(t, rows, 3)
	assert.Equal(t, "t9", rows[0]["tenant_id"])
	assert.Len(t, acc.rows("t1", "orders"), 3)

	assert.Error(t, e.Import(ctx, "t9", "/exports/missing.json"))
}

func TestShutdown(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 1)
	e, _ := newTestEngine(t, acc)

	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	require.NoError(t, err)
	require.NoError(t, e.Shutdown(context.Background()))

	v, _ := e.Status(id)
	assert.Equal(t, StatusCompleted, v.Status)
	_, err = e.Submit(context.Background(), Request{Source: "t1", Target: "t2"})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestBatchRate(t *testing.T) {
	acc := newMemAccessor()
	acc.seed("t1", "orders", 6)
	e, _ := newTestEngine(t, acc, WithBatchRate(20))

	start := time.Now()
	id, err := e.Submit(context.Background(), Request{Source: "t1", Target: "t2", CopyMode: true})
	require.NoError(t, err)
	v := wait(t, e, id)
	assert.Equal(t, StatusCompleted, v.Status)
	// 3 批，首批不等待，之后每批间隔 50ms
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
