package tenant

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTenantNotFound 租户目录中不存在该租户
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive 租户已停用
	ErrTenantInactive = errors.New("tenant inactive")

	// ErrInvalidTenantID 租户ID格式非法
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrNoTenantContext 当前操作没有租户上下文
	ErrNoTenantContext = errors.New("tenant context required")

	// ErrPoolConstructionFailed 租户连接池创建失败
	ErrPoolConstructionFailed = errors.New("tenant pool construction failed")

	// ErrPoolAcquisitionTimeout 在超时时间内未借到连接
	ErrPoolAcquisitionTimeout = errors.New("tenant pool acquisition timeout")

	// ErrConnectionUnavailable 借出前检测连接失败
	ErrConnectionUnavailable = errors.New("tenant connection unavailable")

	// ErrTenantIsolationViolation 查询可能跨越租户边界
	ErrTenantIsolationViolation = errors.New("tenant isolation violation")

	// ErrMigrationStepFailed 迁移任务某个步骤失败
	ErrMigrationStepFailed = errors.New("migration step failed")
)

// ViolationError 隔离守卫拒绝的查询
type ViolationError struct {
	TenantID string
	Tables   []string
	Query    string
	Reason   string
}

func (e *ViolationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrTenantIsolationViolation.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.TenantID != "" {
		fmt.Fprintf(&b, " (tenant=%s)", e.TenantID)
	}
	if len(e.Tables) > 0 {
		fmt.Fprintf(&b, " tables=%v", e.Tables)
	}
	return b.String()
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrTenantIsolationViolation
}

// StepError 迁移任务步骤错误，记录在任务上，不直接返回给提交者
type StepError struct {
	JobID string
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: job %s step %s: %v", ErrMigrationStepFailed, e.JobID, e.Step, e.Err)
}

func (e *StepError) Is(target error) bool {
	return target == ErrMigrationStepFailed
}

func (e *StepError) Unwrap() error {
	return e.Err
}
