package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// CalendarService 生成匹配保留期的日历文件
type CalendarService interface {
	// HoldDeadline 返回 .ics 内容与建议文件名，事件从匹配时间持续到 expiresAt
	HoldDeadline(ctx context.Context, userID, requestID string) (string, string, error)
}

type calendarService struct {
	repo    *repository.Repository
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewCalendarService 创建 CalendarService 实例
func NewCalendarService(repo *repository.Repository, baseURL string, logger *zap.Logger) CalendarService {
	return &calendarService{repo: repo, baseURL: baseURL, logger: logger, now: time.Now}
}

func (s *calendarService) HoldDeadline(ctx context.Context, userID, requestID string) (string, string, error) {
	req, err := s.repo.SwapRequest.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrSwapRequestNotFound
		}
		s.logger.Error("查询换班申请失败", zap.String("request_id", requestID), zap.Error(err))
		return "", "", err
	}
	if req.UserID != userID {
		return "", "", ErrSwapNotOwner
	}
	if req.Status != model.SwapStatusMatched || req.ExpiresAt == nil || req.MatchGroupID == nil {
		return "", "", ErrSwapNotMatched
	}

	start := s.now()
	if req.MatchedAt != nil {
		start = *req.MatchedAt
	}
	partner := identityFromMatch(req)
	now := s.now()

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//KIITease//Section Swap//EN")

	ev := cal.AddEvent(fmt.Sprintf("%s@section-swap", *req.MatchGroupID))
	ev.SetCreatedTime(now)
	ev.SetDtStampTime(now)
	ev.SetModifiedAt(now)
	ev.SetStartAt(start)
	ev.SetEndAt(*req.ExpiresAt)
	ev.SetSummary(fmt.Sprintf("Confirm section swap %s → %s", req.CurrentSection, req.TargetSection))
	ev.SetDescription(fmt.Sprintf("Matched with %s (%s). Accept the swap before the hold expires or it will be released.",
		orDash(partner.Name), orDash(partner.Email)))
	ev.SetURL(s.baseURL + "/section-swap")

	alarm := ev.AddAlarm()
	alarm.SetAction(ics.ActionDisplay)
	alarm.SetTrigger("-PT1H")

	filename := fmt.Sprintf("section_swap_%s.ics", req.SwapRequestID)
	return cal.Serialize(), filename, nil
}
