package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	pkgerrors "section-swap/backend/pkg/errors"
)

// 运行锁键名
const (
	cycleLockKey = "section_swap:lock:cycle"
)

// RunLocker 运行级互斥锁，保证同一时刻只有一个匹配周期在执行
type RunLocker interface {
	// TryLock 获取锁；已被占用时返回 pkgerrors.ErrLockHeld
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LocalLocker 进程内的 RunLocker，未配置 Redis 时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, pkgerrors.ErrLockHeld
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// CycleResult 一次匹配周期的结果
type CycleResult struct {
	ExpiredCount int
	MatchesFound int
	Pairs        []MatchedPair
	StartedAt    time.Time
	Duration     time.Duration
}

// CycleRunner 先回收过期匹配，再执行匹配，整个过程持有运行锁
type CycleRunner struct {
	sweeper *ExpirySweeper
	matcher *Matcher
	locker  RunLocker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewCycleRunner 创建 CycleRunner
func NewCycleRunner(cfg *config.SwapConfig, sweeper *ExpirySweeper, matcher *Matcher, locker RunLocker, logger *zap.Logger) *CycleRunner {
	return &CycleRunner{
		sweeper: sweeper,
		matcher: matcher,
		locker:  locker,
		lockTTL: cfg.LockTTL,
		logger:  logger,
	}
}

// RunMatchingCycle 执行一次完整的匹配周期
func (c *CycleRunner) RunMatchingCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{StartedAt: time.Now(), Pairs: []MatchedPair{}}
	err := c.withLock(ctx, func() error {
		sweep, err := c.sweeper.Run(ctx)
		if err != nil {
			return err
		}
		result.ExpiredCount = sweep.ExpiredCount

		match, err := c.matcher.Run(ctx)
		if err != nil {
			return err
		}
		result.MatchesFound = match.MatchesFound
		result.Pairs = match.Pairs
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(result.StartedAt)

	c.logger.Info("匹配周期完成",
		zap.Int("expired_count", result.ExpiredCount),
		zap.Int("matches_found", result.MatchesFound),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// RunSweep 仅执行过期回收
func (c *CycleRunner) RunSweep(ctx context.Context) (*SweepResult, error) {
	var result *SweepResult
	err := c.withLock(ctx, func() error {
		var err error
		result, err = c.sweeper.Run(ctx)
		return err
	})
	return result, err
}

// RunMatch 仅执行匹配
func (c *CycleRunner) RunMatch(ctx context.Context) (*MatchResult, error) {
	var result *MatchResult
	err := c.withLock(ctx, func() error {
		var err error
		result, err = c.matcher.Run(ctx)
		return err
	})
	return result, err
}

func (c *CycleRunner) withLock(ctx context.Context, fn func() error) error {
	unlock, err := c.locker.TryLock(ctx, cycleLockKey, c.lockTTL)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrLockHeld) {
			return ErrCycleInProgress
		}
		c.logger.Error("获取运行锁失败", zap.Error(err))
		return err
	}
	defer unlock()
	return fn()
}
