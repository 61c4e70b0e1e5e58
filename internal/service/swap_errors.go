package service

import (
	"errors"
	"fmt"

	pkgerrors "section-swap/backend/pkg/errors"
)

// ── 换班模块业务错误 ──

var (
	ErrSwapRequestNotFound = errors.New("换班申请不存在")
	ErrSwapNotOwner        = fmt.Errorf("%w: 只能操作自己的申请", pkgerrors.ErrValidation)
	ErrSwapNotMatched      = fmt.Errorf("%w: 申请当前不处于已匹配状态", pkgerrors.ErrValidation)
	ErrSwapMatchExpired    = fmt.Errorf("%w: 匹配保留期已过", pkgerrors.ErrValidation)
	ErrSwapNotCancellable  = fmt.Errorf("%w: 申请已结束，无法撤回", pkgerrors.ErrValidation)
	ErrSwapInvalidSections = fmt.Errorf("%w: 专业或班级不合法", pkgerrors.ErrValidation)
	ErrSwapActiveExists    = fmt.Errorf("%w: 该专业下已有进行中的申请", pkgerrors.ErrValidation)

	ErrSwapConflict       = fmt.Errorf("%w: 申请状态已被其他操作修改，请刷新后重试", pkgerrors.ErrConflict)
	ErrSwapPartnerMissing = fmt.Errorf("%w: 匹配对象记录缺失", pkgerrors.ErrConflict)
	ErrCycleInProgress    = fmt.Errorf("%w: 匹配周期正在运行", pkgerrors.ErrConflict)

	ErrSwapPartialWrite = fmt.Errorf("%w: 配对写入中断且回滚失败", pkgerrors.ErrPartialWrite)
)

// PairConflictError 配对写入中某一侧的条件更新未命中，RequestID 为未命中的一侧
type PairConflictError struct {
	RequestID string
}

func (e *PairConflictError) Error() string {
	return ErrSwapConflict.Error() + ": " + e.RequestID
}

func (e *PairConflictError) Unwrap() error { return ErrSwapConflict }

// conflictOn 判断 err 是否为 requestID 一侧的条件未命中
func conflictOn(err error, requestID string) bool {
	var ce *PairConflictError
	return errors.As(err, &ce) && ce.RequestID == requestID
}
