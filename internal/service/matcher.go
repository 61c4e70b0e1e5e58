package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// MatchedPair 一次新建立的匹配
type MatchedPair struct {
	MatchGroupID string
	Branch       string
	First        string // 先被遍历到的申请 ID
	Second       string
	ExpiresAt    time.Time
}

// MatchResult Matcher 单次运行结果
type MatchResult struct {
	MatchesFound int
	Pairs        []MatchedPair
	Skipped      int // 记录不合法或身份缺失而跳过的申请
	Failed       int // 配对写入失败的尝试
}

// Matcher 在每个专业内寻找互为目标的两条 pending 申请，配对为 matched
type Matcher struct {
	repo     *repository.Repository
	pairs    PairWriter
	notifier Notifier
	logger   *zap.Logger
	hold     time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewMatcher 创建 Matcher
func NewMatcher(cfg *config.SwapConfig, repo *repository.Repository, pairs PairWriter, notifier Notifier, logger *zap.Logger) *Matcher {
	return &Matcher{
		repo:     repo,
		pairs:    pairs,
		notifier: notifier,
		logger:   logger,
		hold:     cfg.HoldDuration,
		timeout:  cfg.StoreTimeout,
		now:      time.Now,
	}
}

// Run 执行一次匹配
//
// 流程：
//  1. 读取全部 pending 申请及申请人身份
//  2. 按专业拆分，逐个构建 CandidateIndex
//  3. 按优先顺序遍历，为每条申请挑选第一个可用的反向候选
//  4. 配对写入成功后两条均标记为已占用，并通知双方；候选已被并发修改时改选下一个候选
func (m *Matcher) Run(ctx context.Context) (*MatchResult, error) {
	now := m.now()

	loadCtx, cancel := withTimeout(ctx, m.timeout)
	reqs, err := m.repo.SwapRequest.FindPending(loadCtx, "")
	cancel()
	if err != nil {
		m.logger.Error("读取待匹配申请失败", zap.Error(err))
		return nil, err
	}

	result := &MatchResult{Pairs: []MatchedPair{}}
	cands := make([]*Candidate, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if err := req.Validate(); err != nil {
			m.logger.Warn("跳过不合法的申请记录", zap.String("request_id", req.SwapRequestID), zap.Error(err))
			result.Skipped++
			continue
		}
		id, ok := identityOf(req)
		if !ok {
			m.logger.Warn("跳过申请人信息缺失的申请", zap.String("request_id", req.SwapRequestID), zap.String("user_id", req.UserID))
			result.Skipped++
			continue
		}
		cands = append(cands, &Candidate{Request: req, Identity: id})
	}

	branches, groups := partitionByBranch(cands)
	for _, branch := range branches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		m.matchBranch(ctx, BuildCandidateIndex(branch, groups[branch]), now, result)
	}

	result.MatchesFound = len(result.Pairs)
	m.logger.Info("匹配完成",
		zap.Int("candidates", len(cands)),
		zap.Int("matches_found", result.MatchesFound),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (m *Matcher) matchBranch(ctx context.Context, idx *CandidateIndex, now time.Time, result *MatchResult) {
	consumed := make(map[string]bool, idx.Len())

	for _, r := range idx.Ordered() {
		if consumed[r.ID()] {
			continue
		}
		for _, c := range idx.From(r.Target()) {
			if consumed[c.ID()] || c.ID() == r.ID() || c.UserID() == r.UserID() || !r.reciprocal(c) {
				continue
			}

			pair, err := m.pair(ctx, idx.Branch(), r, c, now)
			if err != nil {
				result.Failed++
				level := m.logger.Error
				if errors.Is(err, ErrSwapConflict) {
					level = m.logger.Warn
				}
				level("配对写入失败",
					zap.String("request_id", r.ID()),
					zap.String("candidate_id", c.ID()),
					zap.Error(err),
				)
				// 候选已不是 pending，跳过它继续为 r 寻找下一个候选
				if conflictOn(err, c.ID()) {
					consumed[c.ID()] = true
					continue
				}
				// r 自身未命中时候选仍可与其他申请配对；存储失败时两条都留待下次
				consumed[r.ID()] = true
				if !conflictOn(err, r.ID()) {
					consumed[c.ID()] = true
				}
				break
			}

			consumed[r.ID()] = true
			consumed[c.ID()] = true
			result.Pairs = append(result.Pairs, *pair)
			m.notifier.NotifyMatch(ctx, r.Identity, c.Identity, sectionsOf(r.Request), pair.ExpiresAt)
			m.notifier.NotifyMatch(ctx, c.Identity, r.Identity, sectionsOf(c.Request), pair.ExpiresAt)
			break
		}
	}
}

func (m *Matcher) pair(ctx context.Context, branch string, r, c *Candidate, now time.Time) (*MatchedPair, error) {
	groupID := uuid.NewString()
	expiresAt := now.Add(m.hold)

	first := PairUpdate{
		ID:        r.ID(),
		Guard:     guardOf(model.SwapStatusPending, nil),
		Patch:     matchPatch(c.Identity, groupID, expiresAt, now),
		UndoGuard: guardOf(model.SwapStatusMatched, &groupID),
		Undo:      resetPatch(now),
	}
	second := PairUpdate{
		ID:        c.ID(),
		Guard:     guardOf(model.SwapStatusPending, nil),
		Patch:     matchPatch(r.Identity, groupID, expiresAt, now),
		UndoGuard: guardOf(model.SwapStatusMatched, &groupID),
		Undo:      resetPatch(now),
	}

	writeCtx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.pairs.WritePair(writeCtx, first, second); err != nil {
		return nil, err
	}

	m.logger.Info("匹配成功",
		zap.String("match_group_id", groupID),
		zap.String("branch", branch),
		zap.String("first_request_id", r.ID()),
		zap.String("second_request_id", c.ID()),
	)
	return &MatchedPair{
		MatchGroupID: groupID,
		Branch:       branch,
		First:        r.ID(),
		Second:       c.ID(),
		ExpiresAt:    expiresAt,
	}, nil
}
