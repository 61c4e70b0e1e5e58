package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"section-swap/backend/config"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// AcceptResult 确认匹配的结果
type AcceptResult struct {
	Request   *model.SwapRequest
	Completed bool // 双方均已确认，互换已完成
}

// CompletionHandler 记录成员确认，双方确认后完成互换
type CompletionHandler struct {
	repo     *repository.Repository
	pairs    PairWriter
	notifier Notifier
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewCompletionHandler 创建 CompletionHandler
func NewCompletionHandler(cfg *config.SwapConfig, repo *repository.Repository, pairs PairWriter, notifier Notifier, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		repo:     repo,
		pairs:    pairs,
		notifier: notifier,
		logger:   logger,
		timeout:  cfg.StoreTimeout,
		now:      time.Now,
	}
}

// Accept 成员确认匹配
//
// 校验失败（非本人、非 matched、保留期已过）时不产生任何修改。
// 对方已确认时两条记录一并迁移为 completed，并写入唯一的 CompletedSwap。
func (h *CompletionHandler) Accept(ctx context.Context, userID, requestID string) (*AcceptResult, error) {
	now := h.now()

	req, err := h.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, ErrSwapNotOwner
	}
	if req.Status == model.SwapStatusCompleted {
		// 补写此前失败的互换历史，已存在时不重复写入与通知
		if err := h.backfill(ctx, req); err != nil {
			return nil, err
		}
		return &AcceptResult{Request: req, Completed: true}, nil
	}
	if req.Status != model.SwapStatusMatched || req.MatchGroupID == nil {
		return nil, ErrSwapNotMatched
	}
	if req.ExpiresAt == nil || now.After(*req.ExpiresAt) {
		return nil, ErrSwapMatchExpired
	}
	groupID := req.MatchGroupID

	if !req.Accepted() {
		writeCtx, cancel := withTimeout(ctx, h.timeout)
		ok, err := h.repo.SwapRequest.UpdateIfStatus(writeCtx, req.SwapRequestID,
			guardOf(model.SwapStatusMatched, groupID), acceptPatch(now))
		cancel()
		if err != nil {
			h.logger.Error("记录确认失败", zap.String("request_id", req.SwapRequestID), zap.Error(err))
			return nil, err
		}
		if !ok {
			return nil, ErrSwapConflict
		}
		req.AcceptedAt = &now
	}

	partner, err := h.partnerOf(ctx, req)
	if err != nil {
		return nil, err
	}
	if partner.Status != model.SwapStatusMatched || !partner.Accepted() {
		h.logger.Info("已确认匹配，等待对方确认",
			zap.String("request_id", req.SwapRequestID),
			zap.String("match_group_id", *groupID),
		)
		return &AcceptResult{Request: req}, nil
	}

	if err := h.complete(ctx, req, partner, now); err != nil {
		if !errors.Is(err, ErrSwapConflict) {
			return nil, err
		}
		// 对方可能同时完成了互换
		latest, loadErr := h.load(ctx, requestID)
		if loadErr == nil && latest.Status == model.SwapStatusCompleted {
			return &AcceptResult{Request: latest, Completed: true}, nil
		}
		return nil, err
	}

	done, err := h.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &AcceptResult{Request: done, Completed: true}, nil
}

// complete 将双方迁移为 completed 并写入 CompletedSwap
func (h *CompletionHandler) complete(ctx context.Context, req, partner *model.SwapRequest, now time.Time) error {
	groupID := req.MatchGroupID
	first := PairUpdate{
		ID:        req.SwapRequestID,
		Guard:     guardOf(model.SwapStatusMatched, groupID),
		Patch:     completePatch(now),
		UndoGuard: guardOf(model.SwapStatusCompleted, groupID),
		Undo:      uncompletePatch(now),
	}
	second := PairUpdate{
		ID:        partner.SwapRequestID,
		Guard:     guardOf(model.SwapStatusMatched, groupID),
		Patch:     completePatch(now),
		UndoGuard: guardOf(model.SwapStatusCompleted, groupID),
		Undo:      uncompletePatch(now),
	}

	writeCtx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.pairs.WritePair(writeCtx, first, second); err != nil {
		h.logf(err)("完成互换写入失败",
			zap.String("request_id", req.SwapRequestID),
			zap.String("partner_request_id", partner.SwapRequestID),
			zap.Error(err),
		)
		return err
	}

	return h.record(ctx, req, partner, now)
}

// backfill 已完成的申请再次确认时补写互换历史
func (h *CompletionHandler) backfill(ctx context.Context, req *model.SwapRequest) error {
	partner, err := h.partnerOf(ctx, req)
	if err != nil {
		return err
	}
	if partner.Status != model.SwapStatusCompleted {
		h.logger.Warn("匹配组成员状态不一致",
			zap.String("request_id", req.SwapRequestID),
			zap.String("partner_request_id", partner.SwapRequestID),
			zap.String("partner_status", string(partner.Status)),
		)
		return nil
	}
	completedAt := h.now()
	if req.CompletedAt != nil {
		completedAt = *req.CompletedAt
	}
	return h.record(ctx, req, partner, completedAt)
}

// record 写入 CompletedSwap；仅在本次实际写入时通知双方
func (h *CompletionHandler) record(ctx context.Context, req, partner *model.SwapRequest, completedAt time.Time) error {
	groupID := *req.MatchGroupID
	self, _ := identityOf(req)
	other, _ := identityOf(partner)
	if self.UserID == "" {
		self = Identity{UserID: req.UserID, Name: stringOr(partner.MatchedWithName, "")}
	}
	if other.UserID == "" {
		other = identityFromMatch(req)
	}

	record := &model.CompletedSwap{
		MatchGroupID: groupID,
		Branch:       req.Branch,
		User1ID:      req.UserID,
		User1Name:    self.Name,
		User2ID:      partner.UserID,
		User2Name:    other.Name,
		Section1:     req.CurrentSection,
		Section2:     req.TargetSection,
		CompletedAt:  completedAt,
	}
	writeCtx, cancel := withTimeout(ctx, h.timeout)
	inserted, err := h.repo.CompletedSwap.Create(writeCtx, record)
	cancel()
	if err != nil {
		// 申请状态已提交，再次确认时补写
		h.logger.Error("写入互换历史失败",
			zap.String("match_group_id", groupID),
			zap.Error(err),
		)
		return err
	}
	if !inserted {
		return nil
	}

	h.logger.Info("互换完成",
		zap.String("match_group_id", groupID),
		zap.String("branch", req.Branch),
	)
	h.notifier.NotifyCompletion(ctx, self, other, sectionsOf(req))
	h.notifier.NotifyCompletion(ctx, other, self, sectionsOf(partner))
	return nil
}

func (h *CompletionHandler) load(ctx context.Context, id string) (*model.SwapRequest, error) {
	loadCtx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()
	req, err := h.repo.SwapRequest.GetByID(loadCtx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSwapRequestNotFound
		}
		h.logger.Error("查询换班申请失败", zap.String("request_id", id), zap.Error(err))
		return nil, err
	}
	return req, nil
}

// partnerOf 查询同一匹配组中的另一条申请
func (h *CompletionHandler) partnerOf(ctx context.Context, req *model.SwapRequest) (*model.SwapRequest, error) {
	return findPartner(ctx, h.repo, h.timeout, h.logger, req)
}

func (h *CompletionHandler) logf(err error) func(string, ...zap.Field) {
	if errors.Is(err, ErrSwapConflict) {
		return h.logger.Warn
	}
	return h.logger.Error
}

func findPartner(ctx context.Context, repo *repository.Repository, timeout time.Duration, logger *zap.Logger, req *model.SwapRequest) (*model.SwapRequest, error) {
	if req.MatchGroupID == nil {
		return nil, ErrSwapPartnerMissing
	}
	loadCtx, cancel := withTimeout(ctx, timeout)
	members, err := repo.SwapRequest.ListByMatchGroup(loadCtx, *req.MatchGroupID)
	cancel()
	if err != nil {
		logger.Error("查询匹配组失败", zap.String("match_group_id", *req.MatchGroupID), zap.Error(err))
		return nil, err
	}
	var partner *model.SwapRequest
	for i := range members {
		if members[i].SwapRequestID == req.SwapRequestID {
			continue
		}
		if partner != nil {
			logger.Warn("匹配组成员超过两条", zap.String("match_group_id", *req.MatchGroupID))
			break
		}
		partner = &members[i]
	}
	if partner == nil {
		logger.Warn("匹配组缺少对方记录", zap.String("match_group_id", *req.MatchGroupID), zap.String("request_id", req.SwapRequestID))
		return nil, ErrSwapPartnerMissing
	}
	return partner, nil
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
