package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
	"section-swap/backend/pkg/mailer"
)

// Notifier 换班事件通知。调用不阻塞、不返回错误，失败只记录日志。
type Notifier interface {
	NotifyMatch(ctx context.Context, recipient, partner Identity, sections SectionChange, expiresAt time.Time)
	NotifyExpiry(ctx context.Context, recipient Identity, sections SectionChange)
	NotifyCompletion(ctx context.Context, recipient, partner Identity, sections SectionChange)
}

// MailSender 邮件发送接口，由 pkg/mailer 实现
type MailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// ═══════════════════════════════════════════════════════════
// Dispatcher 异步通知投递
// ═══════════════════════════════════════════════════════════
//
// 事件进入有界队列，由单个 worker 依次处理：
//   - 写入站内通知（notifications 表）
//   - 邮件已启用且用户未关闭 swap_notification 时发送邮件
// 队列满时丢弃事件并记录日志；Close 会等待队列排空。

type notifyEvent struct {
	kind      string
	recipient Identity
	partner   Identity
	sections  SectionChange
	expiresAt time.Time
}

// Dispatcher Notifier 的异步实现
type Dispatcher struct {
	repo    *repository.Repository
	mail    MailSender
	baseURL string
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan notifyEvent
	wg     sync.WaitGroup
}

// NewDispatcher 创建并启动 Dispatcher；mail 为 nil 时只写站内通知
func NewDispatcher(repo *repository.Repository, mail MailSender, queueSize int, baseURL string, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		repo:    repo,
		mail:    mail,
		baseURL: baseURL,
		logger:  logger,
		timeout: 10 * time.Second,
		queue:   make(chan notifyEvent, queueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) NotifyMatch(_ context.Context, recipient, partner Identity, sections SectionChange, expiresAt time.Time) {
	d.enqueue(notifyEvent{kind: model.NotificationSwapMatched, recipient: recipient, partner: partner, sections: sections, expiresAt: expiresAt})
}

func (d *Dispatcher) NotifyExpiry(_ context.Context, recipient Identity, sections SectionChange) {
	d.enqueue(notifyEvent{kind: model.NotificationSwapExpired, recipient: recipient, sections: sections})
}

func (d *Dispatcher) NotifyCompletion(_ context.Context, recipient, partner Identity, sections SectionChange) {
	d.enqueue(notifyEvent{kind: model.NotificationSwapCompleted, recipient: recipient, partner: partner, sections: sections})
}

func (d *Dispatcher) enqueue(ev notifyEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("通知队列已关闭，丢弃通知", zap.String("type", ev.kind), zap.String("user_id", ev.recipient.UserID))
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("通知队列已满，丢弃通知", zap.String("type", ev.kind), zap.String("user_id", ev.recipient.UserID))
	}
}

// Close 停止接收新事件并等待已入队事件处理完毕
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev notifyEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	msg := renderNotification(ev, d.baseURL)

	related := model.RelatedTypeSwapRequest
	n := &model.Notification{
		UserID:      ev.recipient.UserID,
		Type:        ev.kind,
		Title:       msg.Title,
		Content:     msg.Summary,
		RelatedType: &related,
	}
	if ev.sections.RequestID != "" {
		n.RelatedID = &ev.sections.RequestID
	}
	if err := d.repo.Notification.Create(ctx, n); err != nil {
		d.logger.Error("写入站内通知失败", zap.String("user_id", ev.recipient.UserID), zap.String("type", ev.kind), zap.Error(err))
	}

	if d.mail == nil || ev.recipient.Email == "" || !d.wantsMail(ctx, ev.recipient.UserID) {
		return
	}
	err := d.mail.Send(ctx, mailer.Message{
		To:       ev.recipient.Email,
		ToName:   ev.recipient.Name,
		Subject:  msg.Subject,
		Markdown: msg.Body,
	})
	if err != nil {
		d.logger.Error("发送通知邮件失败", zap.String("user_id", ev.recipient.UserID), zap.String("type", ev.kind), zap.Error(err))
	}
}

// wantsMail 未设置偏好时默认发送
func (d *Dispatcher) wantsMail(ctx context.Context, userID string) bool {
	pref, err := d.repo.User.GetPreference(ctx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			d.logger.Warn("查询通知偏好失败", zap.String("user_id", userID), zap.Error(err))
		}
		return true
	}
	return pref.SwapNotification
}

// ── 通知文案 ──

type renderedNotification struct {
	Title   string
	Summary string
	Subject string
	Body    string // Markdown
}

func renderNotification(ev notifyEvent, baseURL string) renderedNotification {
	link := baseURL + "/section-swap"
	switch ev.kind {
	case model.NotificationSwapMatched:
		return renderedNotification{
			Title:   "Section swap match found",
			Summary: fmt.Sprintf("%s wants to move from %s to %s. Accept before %s.", ev.partner.Name, ev.sections.To, ev.sections.From, ev.expiresAt.Format(time.RFC1123)),
			Subject: "Section Swap Match Found! Action Required",
			Body: fmt.Sprintf(`Hi %s,

Great news! We found a match for your section swap request.

| | |
|---|---|
| **Your section** | %s |
| **Target section** | %s |
| **Matched with** | %s |
| **Email** | %s |
| **Phone** | %s |

Please contact your match and **accept the swap within 24 hours**. The match expires at **%s**.

[Review your match](%s)
`, ev.recipient.Name, ev.sections.From, ev.sections.To, ev.partner.Name, orDash(ev.partner.Email), orDash(ev.partner.Phone), ev.expiresAt.Format(time.RFC1123), link),
		}
	case model.NotificationSwapCompleted:
		return renderedNotification{
			Title:   "Section swap completed",
			Summary: fmt.Sprintf("Your swap from %s to %s with %s is complete.", ev.sections.From, ev.sections.To, ev.partner.Name),
			Subject: "Section Swap Accepted!",
			Body: fmt.Sprintf(`Hi %s,

Both you and **%s** accepted the swap. You are moving from **%s** to **%s**.

Please complete the official section change process with your department.

[View details](%s)
`, ev.recipient.Name, ev.partner.Name, ev.sections.From, ev.sections.To, link),
		}
	default:
		return renderedNotification{
			Title:   "Section swap match expired",
			Summary: fmt.Sprintf("Your match for %s → %s was released. Your request is back in the queue.", ev.sections.From, ev.sections.To),
			Subject: "Section Swap Match Expired",
			Body: fmt.Sprintf(`Hi %s,

Your section swap match for **%s → %s** was not confirmed in time and has been released.

Your request is back in the queue and we will notify you when a new match is found.

[View your request](%s)
`, ev.recipient.Name, ev.sections.From, ev.sections.To, link),
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ═══════════════════════════════════════════════════════════
// NotificationService 站内通知查询
// ═══════════════════════════════════════════════════════════

// ErrNotificationNotFound 通知不存在或不属于当前用户
var ErrNotificationNotFound = errors.New("通知不存在")

// NotificationService 站内通知业务接口
type NotificationService interface {
	List(ctx context.Context, userID string, page *dto.PaginationRequest) ([]dto.NotificationResponse, int64, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

type notificationService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewNotificationService 创建 NotificationService 实例
func NewNotificationService(repo *repository.Repository, logger *zap.Logger) NotificationService {
	return &notificationService{repo: repo, logger: logger}
}

func (s *notificationService) List(ctx context.Context, userID string, page *dto.PaginationRequest) ([]dto.NotificationResponse, int64, error) {
	list, total, err := s.repo.Notification.ListByUser(ctx, userID, page.GetOffset(), page.GetPageSize())
	if err != nil {
		s.logger.Error("查询通知列表失败", zap.Error(err))
		return nil, 0, err
	}
	out := make([]dto.NotificationResponse, 0, len(list))
	for _, n := range list {
		resp := dto.NotificationResponse{
			ID:        n.NotificationID,
			Type:      n.Type,
			Title:     n.Title,
			Content:   n.Content,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		}
		if n.RelatedID != nil {
			resp.RelatedID = *n.RelatedID
		}
		out = append(out, resp)
	}
	return out, total, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ok, err := s.repo.Notification.MarkRead(ctx, userID, notificationID)
	if err != nil {
		s.logger.Error("标记通知已读失败", zap.Error(err))
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}
