package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/model"
	pkgerrors "section-swap/backend/pkg/errors"
)

func TestSwapService_Create(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Create(ctx, "u-a", &dto.CreateSwapRequest{Branch: "CSE", CurrentSection: "CSE 12", TargetSection: "CSE 40"})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if resp.Status != string(model.SwapStatusPending) || resp.ID == "" {
		t.Fatalf("新申请应为 pending，实际 %+v", resp)
	}
	if got := f.swaps.get(resp.ID); got.UserID != "u-a" || !got.CreatedAt.Equal(t0) {
		t.Errorf("存储内容不符: %+v", got)
	}

	invalid := []dto.CreateSwapRequest{
		{Branch: "MECH", CurrentSection: "MECH 1", TargetSection: "MECH 2"},
		{Branch: "IT", CurrentSection: "IT 1", TargetSection: "IT 6"},
		{Branch: "CSE", CurrentSection: "IT 1", TargetSection: "CSE 2"},
		{Branch: "CSCE", CurrentSection: "CSCE 2", TargetSection: "CSCE 2"},
	}
	for _, req := range invalid {
		req := req
		_, err := svc.Create(ctx, "u-a", &req)
		if !errors.Is(err, ErrSwapInvalidSections) || !pkgerrors.IsValidation(err) {
			t.Errorf("%+v: 期望 ErrSwapInvalidSections，实际 %v", req, err)
		}
	}
}

func TestSwapService_CreateSingleActivePolicy(t *testing.T) {
	ctx := context.Background()
	req := &dto.CreateSwapRequest{Branch: "IT", CurrentSection: "IT 1", TargetSection: "IT 2"}

	f := newSwapFixture(t, config.PairWriteTransaction)
	svc := f.service()
	for i := 0; i < 2; i++ {
		if _, err := svc.Create(ctx, "u-a", req); err != nil {
			t.Fatalf("默认允许多条进行中的申请: %v", err)
		}
	}

	f = newSwapFixture(t, config.PairWriteTransaction)
	f.cfg.SingleActivePerBranch = true
	svc = f.service()
	first, err := svc.Create(ctx, "u-a", req)
	if err != nil {
		t.Fatalf("首条申请失败: %v", err)
	}
	if _, err := svc.Create(ctx, "u-a", req); !errors.Is(err, ErrSwapActiveExists) {
		t.Fatalf("期望 ErrSwapActiveExists，实际 %v", err)
	}
	if _, err := svc.Create(ctx, "u-a", &dto.CreateSwapRequest{Branch: "CSE", CurrentSection: "CSE 1", TargetSection: "CSE 2"}); err != nil {
		t.Errorf("其他专业不受限制: %v", err)
	}
	if _, err := svc.Cancel(ctx, "u-a", first.ID); err != nil {
		t.Fatalf("撤回失败: %v", err)
	}
	if _, err := svc.Create(ctx, "u-a", req); err != nil {
		t.Errorf("撤回后应允许重新提交: %v", err)
	}
}

func TestSwapService_CancelPending(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	f.addRequest("A", "u-a", "CSE", "CSE 1", "CSE 2", 0)
	svc := f.service()
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, "u-b", "A"); !errors.Is(err, ErrSwapNotOwner) {
		t.Errorf("非本人撤回期望 ErrSwapNotOwner，实际 %v", err)
	}
	resp, err := svc.Cancel(ctx, "u-a", "A")
	if err != nil {
		t.Fatalf("撤回失败: %v", err)
	}
	if resp.Status != string(model.SwapStatusCancelled) {
		t.Errorf("期望 cancelled，实际 %s", resp.Status)
	}
	if _, err := svc.Cancel(ctx, "u-a", "A"); !errors.Is(err, ErrSwapNotCancellable) {
		t.Errorf("重复撤回期望 ErrSwapNotCancellable，实际 %v", err)
	}
}

func TestSwapService_CancelMatchedReleasesPartner(t *testing.T) {
	for _, mode := range []string{config.PairWriteTransaction, config.PairWriteCompensating} {
		t.Run(mode, func(t *testing.T) {
			f := matchedFixture(t, mode)
			svc := f.service()

			resp, err := svc.Cancel(context.Background(), "u-a", "A")
			if err != nil {
				t.Fatalf("撤回失败: %v", err)
			}
			if resp.Status != string(model.SwapStatusCancelled) {
				t.Fatalf("期望 cancelled，实际 %s", resp.Status)
			}
			f.assertReset("B")
			if a := f.swaps.get("A"); a.MatchGroupID == nil {
				t.Error("撤回的申请保留匹配信息以便追溯")
			}
			if f.notifier.count(model.NotificationSwapExpired) != 1 || f.notifier.calls[0].Recipient.UserID != "u-b" {
				t.Errorf("期望仅通知对方，实际 %+v", f.notifier.calls)
			}

			// B 可以重新参与匹配
			f.addUser("u-c", "C", model.RoleUser)
			f.addRequest("C", "u-c", "CSE", "CSE 1", "CSE 2", time.Hour)
			if res, _ := f.matcher().Run(context.Background()); res.MatchesFound != 1 {
				t.Fatal("对方应能重新匹配")
			}
			f.assertPair("B", "C")
		})
	}
}

func TestSwapService_CancelMatchedRollsBackOnPartnerConflict(t *testing.T) {
	f := matchedFixture(t, config.PairWriteCompensating)
	f.swaps.missUpdate["B"] = true

	_, err := f.service().Cancel(context.Background(), "u-a", "A")
	if !errors.Is(err, ErrSwapConflict) {
		t.Fatalf("期望 ErrSwapConflict，实际 %v", err)
	}
	if f.status("A") != model.SwapStatusMatched {
		t.Errorf("对方写入失败时本方应恢复 matched，实际 %s", f.status("A"))
	}
}

func TestSwapService_Decline(t *testing.T) {
	f := matchedFixture(t, config.PairWriteTransaction)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Decline(ctx, "u-b", "B")
	if err != nil {
		t.Fatalf("放弃失败: %v", err)
	}
	if resp.Status != string(model.SwapStatusPending) {
		t.Errorf("期望 pending，实际 %s", resp.Status)
	}
	f.assertReset("A")
	f.assertReset("B")
	if f.notifier.count(model.NotificationSwapExpired) != 1 || f.notifier.calls[0].Recipient.UserID != "u-a" {
		t.Errorf("期望通知对方 u-a，实际 %+v", f.notifier.calls)
	}

	if _, err := svc.Decline(ctx, "u-b", "B"); !errors.Is(err, ErrSwapNotMatched) {
		t.Errorf("pending 申请放弃期望 ErrSwapNotMatched，实际 %v", err)
	}
}

func TestSwapService_Queries(t *testing.T) {
	f := matchedFixture(t, config.PairWriteTransaction)
	f.addRequest("A2", "u-a", "IT", "IT 1", "IT 2", time.Hour)
	svc := f.service()
	ctx := context.Background()

	mine, err := svc.ListMine(ctx, "u-a")
	if err != nil || len(mine) != 2 {
		t.Fatalf("期望 2 条申请，实际 %d (%v)", len(mine), err)
	}
	if mine[0].ID != "A2" {
		t.Errorf("期望最新的申请在前，实际 %s", mine[0].ID)
	}
	if mine[1].Partner == nil || mine[1].Partner.Name != "Bikram" {
		t.Errorf("已匹配申请应包含对方信息: %+v", mine[1].Partner)
	}

	list, total, err := svc.AdminList(ctx, &dto.AdminSwapListRequest{Status: "matched"})
	if err != nil || total != 2 || len(list) != 2 {
		t.Fatalf("期望 2 条 matched，实际 %d (%v)", total, err)
	}
	if list[0].UserName == "" {
		t.Error("管理员列表应包含申请人信息")
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.ByStatus["matched"] != 2 || stats.ByStatus["pending"] != 1 || stats.ByStatus["cancelled"] != 0 {
		t.Errorf("状态统计不符: %+v", stats.ByStatus)
	}
	if stats.ByBranch["CSE"] != 2 || stats.ByBranch["IT"] != 1 {
		t.Errorf("专业统计不符: %+v", stats.ByBranch)
	}
}

func TestSwapService_AcceptAndRecent(t *testing.T) {
	f := matchedFixture(t, config.PairWriteTransaction)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Accept(ctx, "u-a", "A")
	if err != nil || !resp.WaitingForPartner {
		t.Fatalf("首次确认应等待对方: %+v (%v)", resp, err)
	}
	resp, err = svc.Accept(ctx, "u-b", "B")
	if err != nil || !resp.Completed || resp.WaitingForPartner {
		t.Fatalf("双方确认后应完成: %+v (%v)", resp, err)
	}

	recent, err := svc.Recent(ctx, 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("期望 1 条最近互换，实际 %d (%v)", len(recent), err)
	}
	if recent[0].Branch != "CSE" {
		t.Errorf("专业不符: %+v", recent[0])
	}
}

func TestSwapService_RunMatchingCycle(t *testing.T) {
	f := matchedFixture(t, config.PairWriteTransaction)
	f.addUser("u-c", "C", model.RoleUser)
	f.addRequest("C", "u-c", "CSE", "CSE 2", "CSE 1", 2*time.Minute)
	f.advance(25 * time.Hour)

	resp, err := f.service().RunMatchingCycle(context.Background())
	if err != nil {
		t.Fatalf("匹配周期失败: %v", err)
	}
	if resp.ExpiredCount != 1 || resp.MatchesFound != 1 {
		t.Fatalf("期望回收 1 组并新匹配 1 对，实际 %d / %d", resp.ExpiredCount, resp.MatchesFound)
	}
	f.assertPair("A", "B")
	if f.status("C") != model.SwapStatusPending {
		t.Errorf("C 应保持 pending，实际 %s", f.status("C"))
	}
	if want := f.now.Add(24 * time.Hour).Format(time.RFC3339); resp.Pairs[0].ExpiresAt != want {
		t.Errorf("新保留期期望 %s，实际 %s", want, resp.Pairs[0].ExpiresAt)
	}
}

func TestCycleRunner_LockHeld(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	locker := NewLocalLocker()
	cycle := NewCycleRunner(&f.cfg, f.sweeper(), f.matcher(), locker, zap.NewNop())
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, cycleLockKey, time.Minute)
	if err != nil {
		t.Fatalf("加锁失败: %v", err)
	}
	if _, err := cycle.RunMatchingCycle(ctx); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("持锁期间期望 ErrCycleInProgress，实际 %v", err)
	}
	if _, err := cycle.RunSweep(ctx); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("持锁期间回收期望 ErrCycleInProgress，实际 %v", err)
	}
	unlock()
	unlock()

	if _, err := cycle.RunMatchingCycle(ctx); err != nil {
		t.Fatalf("释放锁后应能运行: %v", err)
	}
	if _, err := cycle.RunMatch(ctx); err != nil {
		t.Fatalf("周期结束后锁应已释放: %v", err)
	}
}

func TestScheduler_DisabledAndStop(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	s := NewScheduler(f.cycle(NewLocalLocker()), 0, zap.NewNop())
	s.Start(context.Background())
	s.Stop()

	f.addUser("u-a", "A", model.RoleUser)
	f.addUser("u-b", "B", model.RoleUser)
	f.addRequest("A", "u-a", "CSE", "CSE 1", "CSE 2", 0)
	f.addRequest("B", "u-b", "CSE", "CSE 2", "CSE 1", 0)

	s = NewScheduler(f.cycle(NewLocalLocker()), 5*time.Millisecond, zap.NewNop())
	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for f.swaps.get("A").Status != model.SwapStatusMatched && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	f.assertPair("A", "B")
}
