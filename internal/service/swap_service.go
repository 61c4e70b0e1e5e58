package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"section-swap/backend/config"
	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// SwapService 换班业务接口
type SwapService interface {
	Create(ctx context.Context, userID string, req *dto.CreateSwapRequest) (*dto.SwapRequestResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.SwapRequestResponse, error)
	Accept(ctx context.Context, userID, requestID string) (*dto.AcceptSwapResponse, error)
	Decline(ctx context.Context, userID, requestID string) (*dto.SwapRequestResponse, error)
	Cancel(ctx context.Context, userID, requestID string) (*dto.SwapRequestResponse, error)
	Recent(ctx context.Context, limit int) ([]dto.CompletedSwapResponse, error)
	AdminList(ctx context.Context, req *dto.AdminSwapListRequest) ([]dto.AdminSwapRequestResponse, int64, error)
	Stats(ctx context.Context) (*dto.SwapStatsResponse, error)
	RunMatchingCycle(ctx context.Context) (*dto.MatchingCycleResponse, error)
}

type swapService struct {
	repo       *repository.Repository
	pairs      PairWriter
	completion *CompletionHandler
	cycle      *CycleRunner
	notifier   Notifier
	logger     *zap.Logger

	singleActive bool
	timeout      time.Duration
	now          func() time.Time
}

// NewSwapService 创建 SwapService 实例
func NewSwapService(
	cfg *config.SwapConfig,
	repo *repository.Repository,
	pairs PairWriter,
	completion *CompletionHandler,
	cycle *CycleRunner,
	notifier Notifier,
	logger *zap.Logger,
) SwapService {
	return &swapService{
		repo:         repo,
		pairs:        pairs,
		completion:   completion,
		cycle:        cycle,
		notifier:     notifier,
		logger:       logger,
		singleActive: cfg.SingleActivePerBranch,
		timeout:      cfg.StoreTimeout,
		now:          time.Now,
	}
}

// ────────────────────── Create ──────────────────────

func (s *swapService) Create(ctx context.Context, userID string, req *dto.CreateSwapRequest) (*dto.SwapRequestResponse, error) {
	if err := model.ValidateSections(req.Branch, req.CurrentSection, req.TargetSection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapInvalidSections, err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if s.singleActive {
		n, err := s.repo.SwapRequest.CountActive(ctx, userID, req.Branch)
		if err != nil {
			s.logger.Error("统计进行中的申请失败", zap.Error(err))
			return nil, err
		}
		if n > 0 {
			return nil, ErrSwapActiveExists
		}
	}

	now := s.now()
	record := &model.SwapRequest{
		SwapRequestID:  uuid.NewString(),
		UserID:         userID,
		Branch:         req.Branch,
		CurrentSection: req.CurrentSection,
		TargetSection:  req.TargetSection,
		Status:         model.SwapStatusPending,
		BaseModel:      model.BaseModel{CreatedAt: now, UpdatedAt: now},
	}
	if err := s.repo.SwapRequest.Create(ctx, record); err != nil {
		s.logger.Error("创建换班申请失败", zap.Error(err))
		return nil, err
	}

	s.logger.Info("换班申请已提交",
		zap.String("request_id", record.SwapRequestID),
		zap.String("branch", record.Branch),
	)
	resp := toSwapResponse(record)
	return &resp, nil
}

// ────────────────────── ListMine ──────────────────────

func (s *swapService) ListMine(ctx context.Context, userID string) ([]dto.SwapRequestResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	list, err := s.repo.SwapRequest.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询我的申请失败", zap.Error(err))
		return nil, err
	}
	out := make([]dto.SwapRequestResponse, 0, len(list))
	for i := range list {
		out = append(out, toSwapResponse(&list[i]))
	}
	return out, nil
}

// ────────────────────── Accept ──────────────────────

func (s *swapService) Accept(ctx context.Context, userID, requestID string) (*dto.AcceptSwapResponse, error) {
	res, err := s.completion.Accept(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	return &dto.AcceptSwapResponse{
		SwapRequest:       toSwapResponse(res.Request),
		Completed:         res.Completed,
		WaitingForPartner: !res.Completed,
	}, nil
}

// ────────────────────── Decline / Cancel ──────────────────────

// Decline 已匹配成员放弃本次匹配，双方回到 pending
func (s *swapService) Decline(ctx context.Context, userID, requestID string) (*dto.SwapRequestResponse, error) {
	req, err := s.loadOwned(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.SwapStatusMatched || req.MatchGroupID == nil {
		return nil, ErrSwapNotMatched
	}

	now := s.now()
	partner, err := findPartner(ctx, s.repo, s.timeout, s.logger, req)
	if err != nil && !errors.Is(err, ErrSwapPartnerMissing) {
		return nil, err
	}

	if partner == nil || partner.Status != model.SwapStatusMatched {
		if err := s.updateSingle(ctx, revertUpdate(req, now)); err != nil {
			return nil, err
		}
	} else {
		writeCtx, cancel := withTimeout(ctx, s.timeout)
		err := s.pairs.WritePair(writeCtx, revertUpdate(req, now), revertUpdate(partner, now))
		cancel()
		if err != nil {
			s.logger.Warn("放弃匹配写入失败", zap.String("request_id", req.SwapRequestID), zap.Error(err))
			return nil, err
		}
		s.notifyReleased(ctx, partner)
	}

	s.logger.Info("已放弃匹配", zap.String("request_id", req.SwapRequestID))
	return s.reload(ctx, requestID)
}

// Cancel 撤回申请。已匹配时对方回到 pending，不会停留在指向已撤回申请的 matched 状态。
func (s *swapService) Cancel(ctx context.Context, userID, requestID string) (*dto.SwapRequestResponse, error) {
	req, err := s.loadOwned(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch req.Status {
	case model.SwapStatusPending:
		if err := s.updateSingle(ctx, PairUpdate{
			ID:    req.SwapRequestID,
			Guard: guardOf(model.SwapStatusPending, nil),
			Patch: cancelPatch(now),
		}); err != nil {
			return nil, err
		}

	case model.SwapStatusMatched:
		own := PairUpdate{
			ID:        req.SwapRequestID,
			Guard:     guardOf(model.SwapStatusMatched, req.MatchGroupID),
			Patch:     cancelPatch(now),
			UndoGuard: guardOf(model.SwapStatusCancelled, req.MatchGroupID),
			Undo:      map[string]interface{}{"status": model.SwapStatusMatched, "updated_at": now},
		}
		partner, err := findPartner(ctx, s.repo, s.timeout, s.logger, req)
		if err != nil && !errors.Is(err, ErrSwapPartnerMissing) {
			return nil, err
		}
		if partner == nil || partner.Status != model.SwapStatusMatched {
			if err := s.updateSingle(ctx, own); err != nil {
				return nil, err
			}
			break
		}

		writeCtx, cancel := withTimeout(ctx, s.timeout)
		err = s.pairs.WritePair(writeCtx, own, revertUpdate(partner, now))
		cancel()
		if err != nil {
			s.logger.Warn("撤回已匹配申请写入失败", zap.String("request_id", req.SwapRequestID), zap.Error(err))
			return nil, err
		}
		s.notifyReleased(ctx, partner)

	default:
		return nil, ErrSwapNotCancellable
	}

	s.logger.Info("换班申请已撤回", zap.String("request_id", req.SwapRequestID))
	return s.reload(ctx, requestID)
}

func (s *swapService) notifyReleased(ctx context.Context, partner *model.SwapRequest) {
	id, ok := identityOf(partner)
	if !ok {
		return
	}
	s.notifier.NotifyExpiry(ctx, id, sectionsOf(partner))
}

func (s *swapService) updateSingle(ctx context.Context, u PairUpdate) error {
	writeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.repo.SwapRequest.UpdateIfStatus(writeCtx, u.ID, u.Guard, u.Patch)
	if err != nil {
		s.logger.Error("更新换班申请失败", zap.String("request_id", u.ID), zap.Error(err))
		return err
	}
	if !ok {
		return ErrSwapConflict
	}
	return nil
}

func (s *swapService) loadOwned(ctx context.Context, userID, requestID string) (*model.SwapRequest, error) {
	loadCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	req, err := s.repo.SwapRequest.GetByID(loadCtx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSwapRequestNotFound
		}
		s.logger.Error("查询换班申请失败", zap.String("request_id", requestID), zap.Error(err))
		return nil, err
	}
	if req.UserID != userID {
		return nil, ErrSwapNotOwner
	}
	return req, nil
}

func (s *swapService) reload(ctx context.Context, requestID string) (*dto.SwapRequestResponse, error) {
	loadCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	req, err := s.repo.SwapRequest.GetByID(loadCtx, requestID)
	if err != nil {
		return nil, err
	}
	resp := toSwapResponse(req)
	return &resp, nil
}

// ────────────────────── 查询 ──────────────────────

func (s *swapService) Recent(ctx context.Context, limit int) ([]dto.CompletedSwapResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	list, err := s.repo.CompletedSwap.ListRecent(ctx, limit)
	if err != nil {
		s.logger.Error("查询最近互换失败", zap.Error(err))
		return nil, err
	}
	out := make([]dto.CompletedSwapResponse, 0, len(list))
	for _, c := range list {
		out = append(out, dto.CompletedSwapResponse{
			ID:          c.CompletedSwapID,
			Branch:      c.Branch,
			User1Name:   c.User1Name,
			User2Name:   c.User2Name,
			Section1:    c.Section1,
			Section2:    c.Section2,
			CompletedAt: c.CompletedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

func (s *swapService) AdminList(ctx context.Context, req *dto.AdminSwapListRequest) ([]dto.AdminSwapRequestResponse, int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	filter := repository.SwapRequestFilter{Status: model.SwapStatus(req.Status), Branch: req.Branch}
	list, total, err := s.repo.SwapRequest.List(ctx, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询申请列表失败", zap.Error(err))
		return nil, 0, err
	}
	out := make([]dto.AdminSwapRequestResponse, 0, len(list))
	for i := range list {
		out = append(out, toAdminSwapResponse(&list[i]))
	}
	return out, total, nil
}

func (s *swapService) Stats(ctx context.Context) (*dto.SwapStatsResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	byStatus, err := s.repo.SwapRequest.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("统计申请状态失败", zap.Error(err))
		return nil, err
	}
	byBranch, err := s.repo.SwapRequest.CountByBranch(ctx)
	if err != nil {
		s.logger.Error("统计专业申请数失败", zap.Error(err))
		return nil, err
	}
	completed, err := s.repo.CompletedSwap.Count(ctx)
	if err != nil {
		s.logger.Error("统计已完成互换失败", zap.Error(err))
		return nil, err
	}

	resp := &dto.SwapStatsResponse{
		ByStatus:       make(map[string]int64, 4),
		ByBranch:       byBranch,
		CompletedSwaps: completed,
	}
	for _, st := range []model.SwapStatus{model.SwapStatusPending, model.SwapStatusMatched, model.SwapStatusCompleted, model.SwapStatusCancelled} {
		resp.ByStatus[string(st)] = byStatus[st]
	}
	return resp, nil
}

// ────────────────────── RunMatchingCycle ──────────────────────

func (s *swapService) RunMatchingCycle(ctx context.Context) (*dto.MatchingCycleResponse, error) {
	res, err := s.cycle.RunMatchingCycle(ctx)
	if err != nil {
		return nil, err
	}
	return toCycleResponse(res), nil
}

// ── 转换函数 ──

func toSwapResponse(r *model.SwapRequest) dto.SwapRequestResponse {
	resp := dto.SwapRequestResponse{
		ID:             r.SwapRequestID,
		Branch:         r.Branch,
		CurrentSection: r.CurrentSection,
		TargetSection:  r.TargetSection,
		Status:         string(r.Status),
		MatchedAt:      formatTime(r.MatchedAt),
		ExpiresAt:      formatTime(r.ExpiresAt),
		AcceptedAt:     formatTime(r.AcceptedAt),
		CompletedAt:    formatTime(r.CompletedAt),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
	}
	if r.MatchedWith != nil {
		p := identityFromMatch(r)
		resp.Partner = &dto.SwapPartnerResponse{UserID: p.UserID, Name: p.Name, Email: p.Email, Phone: p.Phone}
	}
	return resp
}

func toAdminSwapResponse(r *model.SwapRequest) dto.AdminSwapRequestResponse {
	resp := dto.AdminSwapRequestResponse{
		SwapRequestResponse: toSwapResponse(r),
		UserID:              r.UserID,
	}
	if r.User != nil {
		resp.UserName = r.User.Name
		resp.UserEmail = r.User.Email
	}
	return resp
}

func toCycleResponse(res *CycleResult) *dto.MatchingCycleResponse {
	resp := &dto.MatchingCycleResponse{
		ExpiredCount: res.ExpiredCount,
		MatchesFound: res.MatchesFound,
		Pairs:        make([]dto.MatchedPairResponse, 0, len(res.Pairs)),
		DurationMS:   res.Duration.Milliseconds(),
	}
	for _, p := range res.Pairs {
		resp.Pairs = append(resp.Pairs, dto.MatchedPairResponse{
			MatchGroupID: p.MatchGroupID,
			Branch:       p.Branch,
			FirstID:      p.First,
			SecondID:     p.Second,
			ExpiresAt:    p.ExpiresAt.Format(time.RFC3339),
		})
	}
	return resp
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// [自证通过] internal/service/swap_service.go
