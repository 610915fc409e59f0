package migration

import (
	"math"
	"sync"
	"time"
)

// Status 迁移任务状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 终态的任务不再变化
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Request 提交迁移任务的参数
type Request struct {
	Source   string   `json:"source_tenant_id" binding:"required" validate:"required"`
	Target   string   `json:"target_tenant_id" binding:"required" validate:"required,nefield=Source"`
	Tables   []string `json:"tables,omitempty"`
	CopyMode bool     `json:"copy_mode"`
}

// Filter List 的过滤条件，零值不过滤
type Filter struct {
	TenantID string // 源或目标租户
	Status   Status
}

// JobView 任务的只读快照
type JobView struct {
	ID              string     `json:"job_id"`
	SourceTenantID  string     `json:"source_tenant_id"`
	TargetTenantID  string     `json:"target_tenant_id"`
	Tables          []string   `json:"tables"`
	CopyMode        bool       `json:"copy_mode"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	TotalRecords    int64      `json:"total_records"`
	MigratedRecords int64      `json:"migrated_records"`
	FailedRecords   int64      `json:"failed_records"`
	Progress        float64    `json:"progress_percent"`
	Errors          []string   `json:"errors"`
	ArtifactPath    string     `json:"artifact_path,omitempty"`
}

func (f Filter) match(v *JobView) bool {
	if f.TenantID != "" && v.SourceTenantID != f.TenantID && v.TargetTenantID != f.TenantID {
		return false
	}
	return f.Status == "" || v.Status == f.Status
}

type job struct {
	mu   sync.Mutex
	view JobView
	done chan struct{}
}

func newJob(id string, req Request, now time.Time) *job {
	return &job{
		view: JobView{
			ID:             id,
			SourceTenantID: req.Source,
			TargetTenantID: req.Target,
			Tables:         append([]string{}, req.Tables...),
			CopyMode:       req.CopyMode,
			Status:         StatusPending,
			CreatedAt:      now,
			Errors:         []string{},
		},
		done: make(chan struct{}),
	}
}

// snapshot 返回深拷贝
func (j *job) snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := j.view
	v.Tables = append([]string{}, j.view.Tables...)
	v.Errors = append([]string{}, j.view.Errors...)
	if v.TotalRecords > 0 {
		v.Progress = math.Round(float64(v.MigratedRecords)/float64(v.TotalRecords)*10000) / 100
	}
	return v
}

// update 在任务未进入终态时修改，返回是否修改
func (j *job) update(fn func(v *JobView)) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.view.Status.Terminal() {
		return false
	}
	fn(&j.view)
	return true
}

// record 累加已经落库（或确认失败）的记录数，终态后同样生效：
// 取消时正在写入的批次仍会提交到目标租户，计数必须如实反映
func (j *job) record(migrated, failed int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.view.MigratedRecords += migrated
	j.view.FailedRecords += failed
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.view.Status
}

func (j *job) start(now time.Time) bool {
	return j.update(func(v *JobView) {
		v.Status = StatusRunning
		v.StartedAt = &now
	})
}

func (j *job) finish(status Status, now time.Time, err error) bool {
	return j.update(func(v *JobView) {
		v.Status = status
		v.CompletedAt = &now
		if err != nil {
			v.Errors = append(v.Errors, err.Error())
		}
	})
}

func (j *job) cancelled() bool {
	return j.status() == StatusCancelled
}
