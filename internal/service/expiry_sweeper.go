package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// SweepResult ExpirySweeper 单次运行结果
type SweepResult struct {
	ExpiredCount int // 回退的匹配组数量
	Inconsistent int // 成员数不为 2 的匹配组
	Failed       int
}

// ExpirySweeper 将保留期已过的匹配回退为 pending。重复执行结果不变。
type ExpirySweeper struct {
	repo     *repository.Repository
	pairs    PairWriter
	notifier Notifier
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewExpirySweeper 创建 ExpirySweeper
func NewExpirySweeper(cfg *config.SwapConfig, repo *repository.Repository, pairs PairWriter, notifier Notifier, logger *zap.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		repo:     repo,
		pairs:    pairs,
		notifier: notifier,
		logger:   logger,
		timeout:  cfg.StoreTimeout,
		now:      time.Now,
	}
}

// Run 执行一次过期回收，单个匹配组失败不影响其他组
func (s *ExpirySweeper) Run(ctx context.Context) (*SweepResult, error) {
	now := s.now()

	loadCtx, cancel := withTimeout(ctx, s.timeout)
	expired, err := s.repo.SwapRequest.FindExpiredMatches(loadCtx, now)
	cancel()
	if err != nil {
		s.logger.Error("读取过期匹配失败", zap.Error(err))
		return nil, err
	}

	result := &SweepResult{}
	keys, groups := groupByMatch(expired)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		members := groups[key]

		var reverted []*model.SwapRequest
		if len(members) == 2 {
			if err := s.revertPair(ctx, members[0], members[1], now); err != nil {
				result.Failed++
				s.logFailure(key, err)
				continue
			}
			reverted = members
		} else {
			result.Inconsistent++
			s.logger.Warn("匹配组成员数异常，逐条回退",
				zap.String("match_group_id", key),
				zap.Int("members", len(members)),
			)
			for _, m := range members {
				if err := s.revertSingle(ctx, m, now); err != nil {
					s.logFailure(key, err)
					continue
				}
				reverted = append(reverted, m)
			}
			if len(reverted) == 0 {
				result.Failed++
				continue
			}
		}

		result.ExpiredCount++
		for _, m := range reverted {
			if id, ok := identityOf(m); ok {
				s.notifier.NotifyExpiry(ctx, id, sectionsOf(m))
			}
		}
	}

	s.logger.Info("过期回收完成",
		zap.Int("expired_count", result.ExpiredCount),
		zap.Int("inconsistent", result.Inconsistent),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *ExpirySweeper) revertPair(ctx context.Context, a, b *model.SwapRequest, now time.Time) error {
	writeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.pairs.WritePair(writeCtx, revertUpdate(a, now), revertUpdate(b, now))
}

func (s *ExpirySweeper) revertSingle(ctx context.Context, r *model.SwapRequest, now time.Time) error {
	writeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	u := revertUpdate(r, now)
	ok, err := s.repo.SwapRequest.UpdateIfStatus(writeCtx, u.ID, u.Guard, u.Patch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSwapConflict
	}
	return nil
}

func (s *ExpirySweeper) logFailure(groupKey string, err error) {
	if errors.Is(err, ErrSwapConflict) {
		// 已被 Accept/Cancel 等并发操作处理
		s.logger.Info("过期匹配已被其他操作处理", zap.String("match_group_id", groupKey), zap.Error(err))
		return
	}
	s.logger.Error("回退过期匹配失败", zap.String("match_group_id", groupKey), zap.Error(err))
}

// revertUpdate 将 matched 记录回退为 pending，补偿时恢复原匹配字段
func revertUpdate(r *model.SwapRequest, now time.Time) PairUpdate {
	return PairUpdate{
		ID:        r.SwapRequestID,
		Guard:     guardOf(model.SwapStatusMatched, r.MatchGroupID),
		Patch:     resetPatch(now),
		UndoGuard: guardOf(model.SwapStatusPending, nil),
		Undo:      restorePatch(r, now),
	}
}

// groupByMatch 按匹配组分组；缺少匹配组 ID 的记录各自成组
func groupByMatch(reqs []model.SwapRequest) ([]string, map[string][]*model.SwapRequest) {
	groups := make(map[string][]*model.SwapRequest)
	for i := range reqs {
		r := &reqs[i]
		key := "orphan:" + r.SwapRequestID
		if r.MatchGroupID != nil {
			key = *r.MatchGroupID
		}
		groups[key] = append(groups[key], r)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}
