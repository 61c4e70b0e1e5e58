package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler 按固定间隔触发匹配周期
type Scheduler struct {
	cycle    *CycleRunner
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler 创建 Scheduler；interval <= 0 时 Start 不做任何事
func NewScheduler(cycle *CycleRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{cycle: cycle, interval: interval, logger: logger}
}

// Start 启动后台循环
func (s *Scheduler) Start(parent context.Context) {
	if s.interval <= 0 {
		s.logger.Info("定时匹配已关闭")
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("定时匹配已启动", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.cycle.RunMatchingCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			s.logger.Info("上一轮匹配尚未结束，跳过本轮")
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("定时匹配失败", zap.Error(err))
	}
}

// Stop 停止后台循环并等待当前周期结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
