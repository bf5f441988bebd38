package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/storage"
)

// ReloadNotifier 在变更提交后通知投递子系统重载，由 dovecot.Notifier 实现
type ReloadNotifier interface {
	Notify(ctx context.Context, reason string) error
}

// Recorder 记录开通与套餐变更的业务指标，由 monitoring.Metrics 实现
type Recorder interface {
	ObserveCapacityRejection(kind domain.ResourceKind)
	ObserveProvision(kind domain.ResourceKind, op string)
	ObservePlanApply(outcome string, resynced int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCapacityRejection(domain.ResourceKind) {}
func (nopRecorder) ObserveProvision(domain.ResourceKind, string) {}
func (nopRecorder) ObservePlanApply(string, int)                 {}

var validate = newValidator()

// newValidator 创建校验器，错误中的字段名使用 json 标签
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// validateInput 校验输入结构体，失败时返回 *domain.ValidationError
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}

	fe := fieldErrs[0]
	return &domain.ValidationError{
		Field:  fe.Field(),
		Reason: describeTag(fe),
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// auditor 写入审计日志；审计失败只记日志，不影响已完成的操作
type auditor struct {
	repo storage.AuditRepository
	log  *zap.Logger
}

func (a auditor) record(ctx context.Context, actor string, action domain.AuditAction, target, details string) {
	entry := &domain.AuditEntry{
		AdminEmail: actor,
		Action:     action,
		Target:     target,
		Details:    details,
	}
	if err := a.repo.AppendAudit(ctx, entry); err != nil {
		a.log.Error("failed to write audit log",
			zap.String("action", string(action)),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func orNopLogger(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
