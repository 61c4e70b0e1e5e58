package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/model"
	"section-swap/backend/pkg/mailer"
)

// ── Mock MailSender ──

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error

	// 非 nil 时 Send 先通知 started，再阻塞到 release 关闭
	started chan struct{}
	release chan struct{}
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *recordingMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mailer.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

var (
	alice = Identity{UserID: "u-a", Name: "Asha", Email: "asha@kiit.ac.in", Phone: "9000000001"}
	bob   = Identity{UserID: "u-b", Name: "Bikram", Email: "bikram@kiit.ac.in"}
)

func TestDispatcher_PersistsAndMails(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	mail := &recordingMailer{}
	d := NewDispatcher(f.repo, mail, 8, "https://kiitease.app", zap.NewNop())

	sections := SectionChange{RequestID: "req-1", Branch: "CSE", From: "CSE 1", To: "CSE 2"}
	d.NotifyMatch(context.Background(), alice, bob, sections, t0.Add(24*time.Hour))
	d.Close()

	notes := f.notes.list()
	if len(notes) != 1 {
		t.Fatalf("期望 1 条站内通知，实际 %d", len(notes))
	}
	n := notes[0]
	if n.UserID != "u-a" || n.Type != model.NotificationSwapMatched {
		t.Errorf("站内通知内容不符: %+v", n)
	}
	if n.RelatedID == nil || *n.RelatedID != "req-1" || n.RelatedType == nil || *n.RelatedType != model.RelatedTypeSwapRequest {
		t.Errorf("站内通知应关联申请 req-1: %+v", n)
	}

	msgs := mail.messages()
	if len(msgs) != 1 {
		t.Fatalf("期望 1 封邮件，实际 %d", len(msgs))
	}
	msg := msgs[0]
	if msg.To != "asha@kiit.ac.in" || msg.Subject != "Section Swap Match Found! Action Required" {
		t.Errorf("邮件头不符: %+v", msg)
	}
	for _, want := range []string{"Bikram", "bikram@kiit.ac.in", "CSE 1", "CSE 2", "https://kiitease.app/section-swap"} {
		if !strings.Contains(msg.Markdown, want) {
			t.Errorf("邮件正文缺少 %q", want)
		}
	}
	if !strings.Contains(msg.Markdown, "| **Phone** | - |") {
		t.Error("对方未填写电话时应显示 -")
	}
}

func TestDispatcher_RespectsPreference(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	f.users.prefs["u-a"] = &model.NotificationPreference{UserID: "u-a", SwapNotification: false}
	f.users.prefs["u-b"] = &model.NotificationPreference{UserID: "u-b", SwapNotification: true}
	mail := &recordingMailer{}
	d := NewDispatcher(f.repo, mail, 8, "", zap.NewNop())

	sections := SectionChange{Branch: "CSE", From: "CSE 1", To: "CSE 2"}
	d.NotifyExpiry(context.Background(), alice, sections)
	d.NotifyCompletion(context.Background(), bob, alice, sections)
	d.Close()

	if len(f.notes.list()) != 2 {
		t.Fatalf("偏好不影响站内通知，期望 2 条，实际 %d", len(f.notes.list()))
	}
	msgs := mail.messages()
	if len(msgs) != 1 || msgs[0].To != "bikram@kiit.ac.in" || msgs[0].Subject != "Section Swap Accepted!" {
		t.Fatalf("期望仅给 u-b 发送完成邮件，实际 %+v", msgs)
	}
	if f.notes.list()[0].RelatedID != nil {
		t.Error("无申请 ID 时不应设置关联")
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	f.notes.err = errors.New("db down")
	mail := &recordingMailer{err: errors.New("smtp down")}
	d := NewDispatcher(f.repo, mail, 8, "", zap.NewNop())

	d.NotifyExpiry(context.Background(), alice, SectionChange{From: "CSE 1", To: "CSE 2"})
	d.Close()

	if len(mail.messages()) != 1 {
		t.Error("写入站内通知失败时仍应尝试发送邮件")
	}
}

func TestDispatcher_WithoutMailer(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	d := NewDispatcher(f.repo, nil, 8, "", zap.NewNop())

	d.NotifyExpiry(context.Background(), alice, SectionChange{From: "CSE 1", To: "CSE 2"})
	d.Close()

	if len(f.notes.list()) != 1 {
		t.Fatalf("期望 1 条站内通知，实际 %d", len(f.notes.list()))
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	mail := &recordingMailer{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(f.repo, mail, 1, "", zap.NewNop())
	ctx := context.Background()
	sections := SectionChange{From: "CSE 1", To: "CSE 2"}

	d.NotifyExpiry(ctx, alice, sections)
	select {
	case <-mail.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker 未开始处理")
	}
	d.NotifyExpiry(ctx, bob, sections)   // 入队
	d.NotifyExpiry(ctx, alice, sections) // 队列已满，丢弃

	close(mail.release)
	d.Close()

	if got := len(mail.messages()); got != 2 {
		t.Fatalf("期望处理 2 条，实际 %d", got)
	}

	d.NotifyExpiry(ctx, alice, sections) // 已关闭，不应 panic
	if got := len(f.notes.list()); got != 2 {
		t.Errorf("关闭后不应再处理通知，实际 %d 条", got)
	}
}

func TestNotificationService_ListAndMarkRead(t *testing.T) {
	f := newSwapFixture(t, config.PairWriteTransaction)
	for i := 0; i < 3; i++ {
		f.notes.Create(context.Background(), &model.Notification{UserID: "u-a", Type: model.NotificationSwapMatched, Title: "t"})
	}
	f.notes.Create(context.Background(), &model.Notification{UserID: "u-b", Type: model.NotificationSwapExpired, Title: "t"})
	svc := NewNotificationService(f.repo, zap.NewNop())
	ctx := context.Background()

	list, total, err := svc.List(ctx, "u-a", &dto.PaginationRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("期望共 3 条、本页 2 条，实际 %d / %d", total, len(list))
	}
	if list[0].ID != "n-3" {
		t.Errorf("期望最新的通知在前，实际 %s", list[0].ID)
	}

	if err := svc.MarkRead(ctx, "u-a", "n-1"); err != nil {
		t.Fatalf("标记已读失败: %v", err)
	}
	if err := svc.MarkRead(ctx, "u-a", "n-4"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("他人通知期望 ErrNotificationNotFound，实际 %v", err)
	}
}
