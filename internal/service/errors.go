package service

import (
	"errors"
	"fmt"
	"strings"

	"treasury/internal/model"
)

// Kind 领域错误分类，基础设施错误不属于任何 Kind
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidState      Kind = "invalid_state"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
)

// Error 领域错误
//
// errors.Is 按 Code 匹配下面的哨兵错误，调用方拿到的是带上下文的副本：
// Field 指出出错字段，Current/Target/Allowed 描述被拒绝的状态变更
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Current string
	Target  string
	Allowed []string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrPlanNotFound      = &Error{Kind: KindNotFound, Code: "PLAN_NOT_FOUND", Message: "资金计划不存在"}
	ErrEntryNotFound     = &Error{Kind: KindNotFound, Code: "ENTRY_NOT_FOUND", Message: "资金流入记录不存在"}
	ErrDuplicatePlan     = &Error{Kind: KindConflict, Code: "DUPLICATE_PLAN", Message: "该公司该年月已存在资金计划"}
	ErrPlanLocked        = &Error{Kind: KindInvalidState, Code: "PLAN_LOCKED", Message: "资金计划当前状态不允许修改"}
	ErrPlanNotEditable   = &Error{Kind: KindInvalidState, Code: "PLAN_NOT_EDITABLE", Message: "资金计划当前状态不允许操作流入记录"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Code: "INVALID_TRANSITION", Message: "非法的状态变更"}
	ErrMissingApprover   = &Error{Kind: KindValidation, Code: "MISSING_APPROVER", Field: "aprovado_por", Message: "审批通过必须提供审批人"}
	ErrMissingBudgetID   = &Error{Kind: KindValidation, Code: "MISSING_BUDGET_ID", Field: "orcamento_id", Message: "必须提供预算 ID"}
	ErrInvalidStatus     = &Error{Kind: KindValidation, Code: "INVALID_STATUS", Field: "status", Message: "无效的状态值"}
	ErrValidation        = &Error{Kind: KindValidation, Code: "VALIDATION", Message: "参数校验失败"}

	ErrEventNotRequeueable = &Error{Kind: KindNotFound, Code: "EVENT_NOT_REQUEUEABLE", Message: "事件消息不存在或未处于失败状态"}
)

// AsError 取出领域错误，基础设施错误返回 false
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func (e *Error) with(mutate func(*Error)) *Error {
	cp := *e
	if e.Allowed != nil {
		cp.Allowed = append([]string(nil), e.Allowed...)
	}
	mutate(&cp)
	return &cp
}

func newValidation(field, message string) *Error {
	return ErrValidation.with(func(e *Error) {
		e.Field = field
		e.Message = message
	})
}

func newDuplicatePlan(month, year int, companyID int64) *Error {
	return ErrDuplicatePlan.with(func(e *Error) {
		e.Message = fmt.Sprintf("公司 %d 在 %d-%02d 已存在资金计划", companyID, year, month)
	})
}

func newPlanLocked(current model.PlanStatus, action string) *Error {
	return ErrPlanLocked.with(func(e *Error) {
		e.Current = current.String()
		e.Message = fmt.Sprintf("资金计划状态为 %s，不允许%s", current, action)
	})
}

func newPlanNotEditable(current model.PlanStatus, op model.EntryOperation) *Error {
	allowed := statusStrings(model.EntryGate(op))
	return ErrPlanNotEditable.with(func(e *Error) {
		e.Current = current.String()
		e.Allowed = allowed
		e.Message = fmt.Sprintf("资金计划状态为 %s，不允许对流入记录执行%s操作，允许的计划状态: %s",
			current, entryOpLabel(op), strings.Join(allowed, ", "))
	})
}

func newInvalidTransition(current, target model.PlanStatus) *Error {
	allowed := statusStrings(current.AllowedTransitions())
	return ErrInvalidTransition.with(func(e *Error) {
		e.Field = "status"
		e.Current = current.String()
		e.Target = target.String()
		e.Allowed = allowed
		if len(allowed) == 0 {
			e.Message = fmt.Sprintf("状态 %s 为终态，不能变更为 %s", current, target)
			return
		}
		e.Message = fmt.Sprintf("不能从 %s 变更为 %s，允许的目标状态: %s", current, target, strings.Join(allowed, ", "))
	})
}

func newInvalidPlanStatus(raw string) *Error {
	allowed := statusStrings(model.AllPlanStatuses)
	return ErrInvalidStatus.with(func(e *Error) {
		e.Target = raw
		e.Allowed = allowed
		e.Message = fmt.Sprintf("无效的计划状态 %q，有效值: %s", raw, strings.Join(allowed, ", "))
	})
}

func newInvalidEntryStatus(raw string) *Error {
	allowed := make([]string, 0, len(model.AllEntryStatuses))
	for _, s := range model.AllEntryStatuses {
		allowed = append(allowed, string(s))
	}
	return ErrInvalidStatus.with(func(e *Error) {
		e.Target = raw
		e.Allowed = allowed
		e.Message = fmt.Sprintf("无效的流入记录状态 %q，有效值: %s", raw, strings.Join(allowed, ", "))
	})
}

func statusStrings(statuses []model.PlanStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.String())
	}
	return out
}

func entryOpLabel(op model.EntryOperation) string {
	switch op {
	case model.EntryOpStructural:
		return "新增/修改/删除"
	case model.EntryOpStatusChange:
		return "状态变更"
	default:
		return op.String()
	}
}
