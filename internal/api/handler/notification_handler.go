package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/service"
	"section-swap/backend/pkg/response"
)

// NotificationHandler 站内通知 HTTP 处理器
type NotificationHandler struct {
	notificationSvc service.NotificationService
}

// NewNotificationHandler 创建 NotificationHandler
func NewNotificationHandler(notificationSvc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationSvc: notificationSvc}
}

// List 我的通知
// GET /api/v1/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		BindError(c, err)
		return
	}

	list, total, err := h.notificationSvc.List(c.Request.Context(), userID, &page)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, page.GetPage(), page.GetPageSize())
}

// MarkRead 标记已读
// PUT /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.notificationSvc.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, service.ErrNotificationNotFound) {
			response.NotFound(c, 15004, "通知不存在")
			return
		}
		response.InternalError(c)
		return
	}
	response.OK(c, nil)
}
