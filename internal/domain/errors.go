package domain

import (
	"errors"
	"fmt"
)

// 业务错误定义
var (
	ErrNotFound = errors.New("not found")

	ErrPlanNotFound    = fmt.Errorf("plan %w", ErrNotFound)
	ErrDomainNotFound  = fmt.Errorf("domain %w", ErrNotFound)
	ErrMailboxNotFound = fmt.Errorf("mailbox %w", ErrNotFound)
	ErrAliasNotFound   = fmt.Errorf("alias %w", ErrNotFound)
	ErrAdminNotFound   = fmt.Errorf("admin %w", ErrNotFound)

	ErrAllocationNotFound = fmt.Errorf("allocation %w", ErrNotFound)

	ErrDuplicatePlanName   = errors.New("plan name already exists")
	ErrPlanInUse           = errors.New("plan is assigned to domains")
	ErrNoPlan              = errors.New("no plan allocated and no default plan configured")
	ErrCapacityExceeded    = errors.New("plan capacity exceeded")
	ErrMailboxExists       = errors.New("mailbox already exists")
	ErrAliasExists         = errors.New("alias already exists")
	ErrAdminExists         = errors.New("admin already exists")
	ErrInvalidResourceKind = errors.New("invalid resource kind")
	ErrValidation          = errors.New("validation failed")
	ErrReloadFailed        = errors.New("delivery subsystem reload failed")
	ErrInternal            = errors.New("internal error")
)

// CapacityExceededError 资源数量已达到套餐上限
type CapacityExceededError struct {
	Kind    ResourceKind
	Limit   int
	Current int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s limit reached: plan allows %d, domain has %d", e.Kind, e.Limit, e.Current)
}

// Is 使 errors.Is(err, ErrCapacityExceeded) 成立
func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// PlanInUseError 套餐仍被域名引用，不能删除
type PlanInUseError struct {
	PlanName    string
	Allocations int
}

func (e *PlanInUseError) Error() string {
	return fmt.Sprintf("plan %q is assigned to %d domain(s)", e.PlanName, e.Allocations)
}

// Is 使 errors.Is(err, ErrPlanInUse) 成立
func (e *PlanInUseError) Is(target error) bool {
	return target == ErrPlanInUse
}

// ValidationError 输入参数校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ReloadError 投递子系统重载失败，不影响已提交的变更
type ReloadError struct {
	Err error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("delivery subsystem reload failed: %v", e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrReloadFailed) 成立
func (e *ReloadError) Is(target error) bool {
	return target == ErrReloadFailed
}

// InternalError 包装存储层等底层错误，避免驱动错误直接暴露给调用方
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrInternal) 成立
func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

var expectedErrors = []error{
	ErrNotFound,
	ErrDuplicatePlanName,
	ErrPlanInUse,
	ErrNoPlan,
	ErrCapacityExceeded,
	ErrMailboxExists,
	ErrAliasExists,
	ErrAdminExists,
	ErrInvalidResourceKind,
	ErrValidation,
	ErrReloadFailed,
	ErrInternal,
}

// IsExpected 判断错误是否属于已定义的业务错误
func IsExpected(err error) bool {
	for _, target := range expectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Internal 把未识别的错误包装为 InternalError，业务错误原样返回
func Internal(op string, err error) error {
	if err == nil || IsExpected(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}
