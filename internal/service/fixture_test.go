package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// swapFixture 组装内存存储、时钟与通知记录
type swapFixture struct {
	t         *testing.T
	users     *mockUserRepo
	swaps     *mockSwapRequestRepo
	completed *mockCompletedSwapRepo
	notes     *mockNotificationRepo
	repo      *repository.Repository
	tx        *mockTransactor
	notifier  *recordingNotifier
	cfg       config.SwapConfig
	now       time.Time
	pairs     PairWriter
}

func newSwapFixture(t *testing.T, mode string) *swapFixture {
	t.Helper()
	users := newMockUserRepo()
	swaps := newMockSwapRequestRepo(users)
	f := &swapFixture{
		t:         t,
		users:     users,
		swaps:     swaps,
		completed: newMockCompletedSwapRepo(),
		notes:     newMockNotificationRepo(),
		notifier:  &recordingNotifier{},
		now:       t0,
		cfg: config.SwapConfig{
			HoldDuration:  24 * time.Hour,
			StoreTimeout:  time.Second,
			PairWriteMode: mode,
			LockTTL:       time.Minute,
		},
	}
	f.repo = &repository.Repository{
		User:          users,
		SwapRequest:   swaps,
		CompletedSwap: f.completed,
		Notification:  f.notes,
	}
	f.tx = &mockTransactor{repo: f.repo, swaps: swaps}
	if mode == config.PairWriteCompensating {
		f.pairs = NewPairWriter(mode, f.repo, zap.NewNop())
	} else {
		f.pairs = &txPairWriter{tx: f.tx}
	}
	return f
}

func (f *swapFixture) clock() time.Time { return f.now }

func (f *swapFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *swapFixture) addUser(id, name, role string) {
	f.users.users[id] = &model.User{UserID: id, Name: name, Email: id + "@kiit.ac.in", Role: role}
}

// addRequest 写入一条 pending 申请，createdAt = t0 + offset
func (f *swapFixture) addRequest(id, userID, branch, current, target string, offset time.Duration) {
	f.t.Helper()
	at := t0.Add(offset)
	err := f.swaps.Create(context.Background(), &model.SwapRequest{
		SwapRequestID:  id,
		UserID:         userID,
		Branch:         branch,
		CurrentSection: current,
		TargetSection:  target,
		Status:         model.SwapStatusPending,
		BaseModel:      model.BaseModel{CreatedAt: at, UpdatedAt: at},
	})
	if err != nil {
		f.t.Fatalf("写入申请失败: %v", err)
	}
}

func (f *swapFixture) matcher() *Matcher {
	m := NewMatcher(&f.cfg, f.repo, f.pairs, f.notifier, zap.NewNop())
	m.now = f.clock
	return m
}

func (f *swapFixture) sweeper() *ExpirySweeper {
	s := NewExpirySweeper(&f.cfg, f.repo, f.pairs, f.notifier, zap.NewNop())
	s.now = f.clock
	return s
}

func (f *swapFixture) completion() *CompletionHandler {
	h := NewCompletionHandler(&f.cfg, f.repo, f.pairs, f.notifier, zap.NewNop())
	h.now = f.clock
	return h
}

func (f *swapFixture) cycle(locker RunLocker) *CycleRunner {
	return NewCycleRunner(&f.cfg, f.sweeper(), f.matcher(), locker, zap.NewNop())
}

func (f *swapFixture) service() SwapService {
	svc := NewSwapService(&f.cfg, f.repo, f.pairs, f.completion(), f.cycle(NewLocalLocker()), f.notifier, zap.NewNop())
	svc.(*swapService).now = f.clock
	return svc
}

// status 读取存储中的状态
func (f *swapFixture) status(id string) model.SwapStatus {
	return f.swaps.get(id).Status
}

// assertPair 两条记录互为匹配对象
func (f *swapFixture) assertPair(a, b string) {
	f.t.Helper()
	ra, rb := f.swaps.get(a), f.swaps.get(b)
	if ra.Status != model.SwapStatusMatched || rb.Status != model.SwapStatusMatched {
		f.t.Fatalf("期望 %s/%s 均为 matched，实际 %s/%s", a, b, ra.Status, rb.Status)
	}
	if ra.MatchGroupID == nil || rb.MatchGroupID == nil || *ra.MatchGroupID != *rb.MatchGroupID {
		f.t.Fatalf("期望 %s/%s 共享匹配组", a, b)
	}
	if ra.MatchedWith == nil || *ra.MatchedWith != rb.UserID || rb.MatchedWith == nil || *rb.MatchedWith != ra.UserID {
		f.t.Fatalf("期望 %s/%s 互相指向对方", a, b)
	}
	if ra.ExpiresAt == nil || rb.ExpiresAt == nil || !ra.ExpiresAt.Equal(*rb.ExpiresAt) {
		f.t.Fatalf("期望 %s/%s 的保留期一致", a, b)
	}
	if ra.Branch != rb.Branch {
		f.t.Fatalf("期望 %s/%s 属于同一专业，实际 %s/%s", a, b, ra.Branch, rb.Branch)
	}
	if ra.TargetSection != rb.CurrentSection || rb.TargetSection != ra.CurrentSection {
		f.t.Fatalf("期望 %s/%s 班级互为目标，实际 %s→%s / %s→%s",
			a, b, ra.CurrentSection, ra.TargetSection, rb.CurrentSection, rb.TargetSection)
	}
}

// assertReset 记录为 pending 且匹配字段已清空
func (f *swapFixture) assertReset(id string) {
	f.t.Helper()
	r := f.swaps.get(id)
	if r.Status != model.SwapStatusPending {
		f.t.Fatalf("期望 %s 为 pending，实际 %s", id, r.Status)
	}
	if r.MatchGroupID != nil || r.MatchedWith != nil || r.MatchedWithName != nil || r.ExpiresAt != nil || r.AcceptedAt != nil {
		f.t.Fatalf("期望 %s 的匹配字段已清空: %+v", id, r)
	}
}
