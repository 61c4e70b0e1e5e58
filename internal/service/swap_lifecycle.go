package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// Identity 申请人身份快照，用于匹配对象缓存与通知
type Identity struct {
	UserID string
	Name   string
	Email  string
	Phone  string
	Tier   model.PriorityTier
}

// identityOf 从预加载的 User 构造身份；User 缺失时返回 false
func identityOf(req *model.SwapRequest) (Identity, bool) {
	if req.User == nil {
		return Identity{}, false
	}
	id := Identity{
		UserID: req.User.UserID,
		Name:   req.User.Name,
		Email:  req.User.Email,
		Tier:   req.User.Tier(),
	}
	if req.User.Phone != nil {
		id.Phone = *req.User.Phone
	}
	return id, true
}

// identityFromMatch 从对方记录上缓存的匹配字段还原身份
func identityFromMatch(req *model.SwapRequest) Identity {
	id := Identity{}
	if req.MatchedWith != nil {
		id.UserID = *req.MatchedWith
	}
	if req.MatchedWithName != nil {
		id.Name = *req.MatchedWithName
	}
	if req.MatchedWithEmail != nil {
		id.Email = *req.MatchedWithEmail
	}
	if req.MatchedWithPhone != nil {
		id.Phone = *req.MatchedWithPhone
	}
	return id
}

// SectionChange 接收方申请的换班方向
type SectionChange struct {
	RequestID string
	Branch    string
	From      string
	To        string
}

func sectionsOf(req *model.SwapRequest) SectionChange {
	return SectionChange{
		RequestID: req.SwapRequestID,
		Branch:    req.Branch,
		From:      req.CurrentSection,
		To:        req.TargetSection,
	}
}

// ── 状态迁移补丁 ──
// 列名与 swap_requests 表一致，nil 值写为 NULL。

func matchPatch(partner Identity, groupID string, expiresAt, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":             model.SwapStatusMatched,
		"match_group_id":     groupID,
		"matched_with":       partner.UserID,
		"matched_with_name":  partner.Name,
		"matched_with_email": nullable(partner.Email),
		"matched_with_phone": nullable(partner.Phone),
		"matched_at":         now,
		"expires_at":         expiresAt,
		"accepted_at":        nil,
		"updated_at":         now,
	}
}

// restorePatch 将记录恢复为 orig 的 matched 状态，用于补偿回滚
func restorePatch(orig *model.SwapRequest, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":             orig.Status,
		"match_group_id":     orig.MatchGroupID,
		"matched_with":       orig.MatchedWith,
		"matched_with_name":  orig.MatchedWithName,
		"matched_with_email": orig.MatchedWithEmail,
		"matched_with_phone": orig.MatchedWithPhone,
		"matched_at":         orig.MatchedAt,
		"expires_at":         orig.ExpiresAt,
		"accepted_at":        orig.AcceptedAt,
		"updated_at":         now,
	}
}

func resetPatch(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":             model.SwapStatusPending,
		"match_group_id":     nil,
		"matched_with":       nil,
		"matched_with_name":  nil,
		"matched_with_email": nil,
		"matched_with_phone": nil,
		"matched_at":         nil,
		"expires_at":         nil,
		"accepted_at":        nil,
		"updated_at":         now,
	}
}

func acceptPatch(now time.Time) map[string]interface{} {
	return map[string]interface{}{"accepted_at": now, "updated_at": now}
}

func completePatch(completedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":       model.SwapStatusCompleted,
		"completed_at": completedAt,
		"updated_at":   completedAt,
	}
}

func uncompletePatch(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":       model.SwapStatusMatched,
		"completed_at": nil,
		"updated_at":   now,
	}
}

func cancelPatch(now time.Time) map[string]interface{} {
	return map[string]interface{}{"status": model.SwapStatusCancelled, "updated_at": now}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func guardOf(status model.SwapStatus, groupID *string) repository.SwapGuard {
	return repository.SwapGuard{Status: status, MatchGroupID: groupID}
}

// ═══════════════════════════════════════════════════════════
// 配对写入
// ═══════════════════════════════════════════════════════════
//
// 匹配组的两条记录必须同时迁移。PairWriter 负责把两条条件更新
// 作为一个整体写入：要么都生效，要么都不生效。

// PairUpdate 配对写入中的一侧
type PairUpdate struct {
	ID    string
	Guard repository.SwapGuard
	Patch map[string]interface{}
	// 补偿写入：Patch 已生效而另一侧失败时，以 UndoGuard 为条件应用 Undo
	UndoGuard repository.SwapGuard
	Undo      map[string]interface{}
}

// PairWriter 配对写入策略
type PairWriter interface {
	// WritePair 写入两侧。任一侧条件未命中返回 *PairConflictError（归类为 ErrSwapConflict），且两侧均未生效；
	// 补偿失败时返回 ErrSwapPartialWrite。
	WritePair(ctx context.Context, first, second PairUpdate) error
}

// NewPairWriter 按配置选择写入策略
func NewPairWriter(mode string, repo *repository.Repository, logger *zap.Logger) PairWriter {
	if mode == config.PairWriteCompensating {
		return &compensatingPairWriter{repo: repo, logger: logger}
	}
	return &txPairWriter{tx: repo}
}

// ── 事务写入 ──

type txPairWriter struct {
	tx repository.Transactor
}

func (w *txPairWriter) WritePair(ctx context.Context, first, second PairUpdate) error {
	return w.tx.Transaction(ctx, func(tx *repository.Repository) error {
		for _, u := range []PairUpdate{first, second} {
			ok, err := tx.SwapRequest.UpdateIfStatus(ctx, u.ID, u.Guard, u.Patch)
			if err != nil {
				return err
			}
			if !ok {
				return &PairConflictError{RequestID: u.ID}
			}
		}
		return nil
	})
}

// ── 补偿写入 ──

// compensatingPairWriter 不依赖事务：先写 first，再写 second，
// second 失败时以 first.Undo 回滚 first
type compensatingPairWriter struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// compensateTimeout 补偿写入独立于调用方 ctx 的超时
const compensateTimeout = 5 * time.Second

func (w *compensatingPairWriter) WritePair(ctx context.Context, first, second PairUpdate) error {
	ok, err := w.repo.SwapRequest.UpdateIfStatus(ctx, first.ID, first.Guard, first.Patch)
	if err != nil {
		return err
	}
	if !ok {
		return &PairConflictError{RequestID: first.ID}
	}

	ok, err = w.repo.SwapRequest.UpdateIfStatus(ctx, second.ID, second.Guard, second.Patch)
	if err == nil && ok {
		return nil
	}
	cause := err
	if cause == nil {
		cause = &PairConflictError{RequestID: second.ID}
	}

	// 调用方 ctx 可能已超时，补偿使用独立 ctx
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	undone, undoErr := w.repo.SwapRequest.UpdateIfStatus(undoCtx, first.ID, first.UndoGuard, first.Undo)
	if undoErr != nil || !undone {
		w.logger.Error("配对写入补偿失败，需人工核对",
			zap.String("first_request_id", first.ID),
			zap.String("second_request_id", second.ID),
			zap.NamedError("cause", cause),
			zap.Error(undoErr),
		)
		return fmt.Errorf("%w: %s / %s", ErrSwapPartialWrite, first.ID, second.ID)
	}

	w.logger.Warn("配对写入第二步失败，已回滚第一步",
		zap.String("first_request_id", first.ID),
		zap.String("second_request_id", second.ID),
		zap.Error(cause),
	)
	return cause
}

// withTimeout 为单次存储操作设置超时，d <= 0 时不设超时
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
