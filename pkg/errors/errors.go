package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ── 错误类别 ──
// 各模块的哨兵错误通过 fmt.Errorf("%w: ...", ErrX) 归入以下类别，
// Handler 层据此映射 HTTP 状态码。

// ErrValidation 请求在写入前被拒绝，未产生任何修改
var ErrValidation = errors.New("请求参数不合法")

// ErrConflict 条件更新未命中，记录已被并发修改，调用方可重试
var ErrConflict = errors.New("数据状态已变化")

// ErrPartialWrite 配对写入仅完成一半且补偿失败，需要人工核对
var ErrPartialWrite = errors.New("配对写入不完整")

// ErrLockHeld 运行锁已被占用
var ErrLockHeld = errors.New("运行锁已被占用")

// IsValidation 判断是否为校验类错误
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict 判断是否为冲突类错误（含乐观锁冲突）
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrOptimisticLock)
}
