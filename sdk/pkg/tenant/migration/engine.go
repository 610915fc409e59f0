// Package migration 租户之间的数据导出、导入与迁移任务。
//
// Submit 创建 pending 任务后立即返回，任务在后台依次执行：导出源租户数据到
// 导出文件，导入目标租户（租户列改写为目标租户，分批写入），非复制模式下删除源数据，
// 最后删除导出文件。任一步骤出错任务进入 failed，已写入目标的数据不回滚。
//
// Cancel 只对 running 任务生效，执行过程在步骤之间和批次之间检查取消。
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

var (
	ErrJobNotFound   = errors.New("migration job not found")
	ErrJobNotRunning = errors.New("migration job is not running")
	ErrJobActive     = errors.New("migration job has not finished")
	ErrEngineClosed  = errors.New("migration engine is shut down")
)

const (
	stepLock    = "lock"
	stepExport  = "export"
	stepImport  = "import"
	stepDelete  = "delete_source"
	stepCleanup = "cleanup"
)

var validate = validator.New()

// Engine 迁移任务引擎
type Engine struct {
	accessor  DataAccessor
	store     ArtifactStore
	locker    Locker
	batchSize int
	limit     rate.Limit
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option 配置 Engine
type Option func(*Engine)

// WithStore 设置导出文件存储，默认 ./exports 目录
func WithStore(s ArtifactStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker 设置源租户锁，默认进程内锁
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithBatchSize 导入每批行数
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchRate 每秒最多导入的批次数，<=0 不限制
func WithBatchRate(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limit = rate.Limit(perSecond)
		} else {
			e.limit = rate.Inf
		}
	}
}

// WithLockTTL 源租户锁的过期时间
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock 测试用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine 创建迁移引擎
func NewEngine(accessor DataAccessor, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		accessor:  accessor,
		batchSize: 500,
		limit:     rate.Inf,
		lockTTL:   10 * time.Minute,
		logger:    logger.Logger.Named("tenant.migration"),
		now:       time.Now,
		jobs:      make(map[string]*job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewFileStore(afero.NewOsFs(), "./exports")
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	return e
}

// NewEngineFromConfig 由 tenants.migration 配置段创建，导出文件写入本地 ExportPath
func NewEngineFromConfig(cfg config.MigrationConfig, accessor DataAccessor, opts ...Option) *Engine {
	base := []Option{
		WithStore(NewFileStore(afero.NewOsFs(), cfg.ExportPath)),
		WithBatchSize(cfg.BatchSize),
		WithBatchRate(cfg.BatchesPerSecond),
		WithLockTTL(cfg.LockTTL),
	}
	return NewEngine(accessor, append(base, opts...)...)
}

// Submit 创建任务并在后台执行，立即返回任务ID
func (e *Engine) Submit(ctx context.Context, req Request) (string, error) {
	if err := validate.StructCtx(ctx, req); err != nil {
		return "", fmt.Errorf("invalid migration request: %w", err)
	}
	for _, id := range []string{req.Source, req.Target} {
		if err := tenant.ValidateID(id, tenant.DefaultMaxIDLength); err != nil {
			return "", err
		}
	}

	j := newJob(uuid.NewString(), req, e.now())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.jobs[j.view.ID] = j
	e.wg.Add(1)
	e.mu.Unlock()

	logger.FromContext(ctx).Info("migration job created",
		zap.String("job_id", j.view.ID),
		zap.String("source", req.Source),
		zap.String("target", req.Target),
		zap.Bool("copy_mode", req.CopyMode))

	go e.run(j)
	return j.view.ID, nil
}

func (e *Engine) get(id string) (*job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	return j, ok
}

// Status 任务快照
func (e *Engine) Status(id string) (JobView, bool) {
	j, ok := e.get(id)
	if !ok {
		return JobView{}, false
	}
	return j.snapshot(), true
}

// List 按创建时间排序的任务快照
func (e *Engine) List(f Filter) []JobView {
	e.mu.RLock()
	jobs := make([]*job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.RUnlock()

	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		v := j.snapshot()
		if f.match(&v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// Counts 各状态的任务数
func (e *Engine) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, v := range e.List(Filter{}) {
		counts[v.Status]++
	}
	return counts
}

// Cancel 取消 running 任务，执行过程会在下一个检查点停止
func (e *Engine) Cancel(id string) error {
	j, ok := e.get(id)
	if !ok {
		return ErrJobNotFound
	}
	ok = j.update(func(v *JobView) {
		if v.Status == StatusRunning {
			now := e.now()
			v.Status = StatusCancelled
			v.CompletedAt = &now
		}
	})
	if !ok || j.status() != StatusCancelled {
		return fmt.Errorf("%w: %s is %s", ErrJobNotRunning, id, j.status())
	}
	e.logger.Info("migration job cancelled", zap.String("job_id", id))
	return nil
}

// Remove 删除已结束的任务记录
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !j.status().Terminal() {
		return fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	delete(e.jobs, id)
	return nil
}

// Wait 等待任务结束（执行函数返回），返回最终快照
func (e *Engine) Wait(ctx context.Context, id string) (JobView, error) {
	j, ok := e.get(id)
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Shutdown 不再接受新任务并等待执行中的任务。ctx 到期时中断仍在执行的任务。
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) run(j *job) {
	defer e.wg.Done()
	defer close(j.done)

	ctx := e.ctx
	view := j.snapshot()
	log := e.logger.With(zap.String("job_id", view.ID))

	if !j.start(e.now()) {
		return
	}
	log.Info("migration job started")

	fail := func(step string, err error) {
		serr := &tenant.StepError{JobID: view.ID, Step: step, Err: err}
		if j.finish(StatusFailed, e.now(), serr) {
			log.Error("migration job failed", zap.String("step", step), zap.Error(err))
		}
	}
	stop := func() bool {
		if j.cancelled() {
			log.Info("migration job stopped after cancellation")
			return true
		}
		return false
	}

	unlock, err := e.locker.Lock(ctx, "migration/"+view.SourceTenantID, e.lockTTL)
	if err != nil {
		fail(stepLock, err)
		return
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Warn("release migration lock", zap.Error(err))
		}
	}()

	artifact, path, err := e.export(ctx, view.SourceTenantID, view.Tables)
	if err != nil {
		fail(stepExport, err)
		return
	}
	j.update(func(v *JobView) {
		v.Tables = append([]string{}, artifact.Tables...)
		v.TotalRecords = artifact.Records()
		v.ArtifactPath = path
	})
	if stop() {
		return
	}

	if err := e.importArtifact(ctx, view.TargetTenantID, artifact, j); err != nil {
		fail(stepImport, err)
		return
	}
	if stop() {
		return
	}

	if !view.CopyMode {
		for _, table := range artifact.Tables {
			if _, err := e.accessor.Delete(ctx, view.SourceTenantID, table); err != nil {
				fail(stepDelete, err)
				return
			}
			if stop() {
				return
			}
		}
	}

	if err := e.store.Remove(ctx, path); err != nil {
		fail(stepCleanup, err)
		return
	}
	j.update(func(v *JobView) { v.ArtifactPath = "" })

	if j.finish(StatusCompleted, e.now(), nil) {
		done := j.snapshot()
		log.Info("migration job completed",
			zap.Int64("migrated", done.MigratedRecords),
			zap.Int64("total", done.TotalRecords))
	}
}

// Export 导出租户数据，tables 为空时导出 DataAccessor.Tables 的全部表，返回导出文件路径
func (e *Engine) Export(ctx context.Context, tenantID string, tables []string) (string, error) {
	_, path, err := e.export(ctx, tenantID, tables)
	return path, err
}

func (e *Engine) export(ctx context.Context, tenantID string, tables []string) (*Artifact, string, error) {
	if len(tables) == 0 {
		var err error
		if tables, err = e.accessor.Tables(ctx, tenantID); err != nil {
			return nil, "", err
		}
	}
	a := &Artifact{
		TenantID:   tenantID,
		ExportedAt: e.now().UTC(),
		Tables:     append([]string{}, tables...),
		Data:       make(map[string][]Row, len(tables)),
	}
	for _, table := range tables {
		rows, err := e.accessor.Fetch(ctx, tenantID, table)
		if err != nil {
			return nil, "", err
		}
		if rows == nil {
			rows = []Row{}
		}
		a.Data[table] = rows
	}
	path, err := e.store.Save(ctx, a)
	if err != nil {
		return nil, "", err
	}
	e.logger.Info("tenant data exported",
		zap.String("tenant_id", tenantID),
		zap.String("path", path),
		zap.Int64("records", a.Records()))
	return a, path, nil
}

// Import 把导出文件导入租户
func (e *Engine) Import(ctx context.Context, tenantID, path string) error {
	a, err := e.store.Load(ctx, path)
	if err != nil {
		return err
	}
	return e.importArtifact(ctx, tenantID, a, nil)
}

// importArtifact 按表顺序分批写入；j 非空时每批更新进度并检查取消
func (e *Engine) importArtifact(ctx context.Context, tenantID string, a *Artifact, j *job) error {
	limiter := rate.NewLimiter(e.limit, 1)
	var imported int64
	for _, table := range a.Tables {
		rows := a.Data[table]
		for start := 0; start < len(rows); start += e.batchSize {
			if j != nil && j.cancelled() {
				return nil
			}
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			end := start + e.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := rows[start:end]
			if err := e.accessor.Insert(ctx, tenantID, table, batch); err != nil {
				if j != nil {
					j.record(0, int64(len(batch)))
				}
				return err
			}
			imported += int64(len(batch))
			if j != nil {
				j.record(int64(len(batch)), 0)
			}
		}
	}
	e.logger.Info("tenant data imported",
		zap.String("tenant_id", tenantID),
		zap.String("source_tenant", a.TenantID),
		zap.Int64("records", imported))
	return nil
}
