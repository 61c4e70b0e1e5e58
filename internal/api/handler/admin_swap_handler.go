package handler

import (
	"github.com/gin-gonic/gin"

	"section-swap/backend/internal/dto"
	"section-swap/backend/internal/service"
	"section-swap/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminSwapHandler 换班管理 HTTP 处理器（管理员）
type AdminSwapHandler struct {
	swapSvc   service.SwapService
	exportSvc service.ExportService
}

// NewAdminSwapHandler 创建 AdminSwapHandler
func NewAdminSwapHandler(swapSvc service.SwapService, exportSvc service.ExportService) *AdminSwapHandler {
	return &AdminSwapHandler{swapSvc: swapSvc, exportSvc: exportSvc}
}

// RunMatcher 立即执行一次匹配周期（先回收过期，再匹配）
// POST /api/v1/admin/section-swaps/run-matcher
func (h *AdminSwapHandler) RunMatcher(c *gin.Context) {
	resp, err := h.swapSvc.RunMatchingCycle(c.Request.Context())
	if err != nil {
		handleSwapError(c, err)
		return
	}
	response.OK(c, resp)
}

// List 全部申请
// GET /api/v1/admin/section-swaps
func (h *AdminSwapHandler) List(c *gin.Context) {
	var req dto.AdminSwapListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		BindError(c, err)
		return
	}

	list, total, err := h.swapSvc.AdminList(c.Request.Context(), &req)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// Stats 申请统计
// GET /api/v1/admin/section-swaps/stats
func (h *AdminSwapHandler) Stats(c *gin.Context) {
	resp, err := h.swapSvc.Stats(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, resp)
}

// Export 导出申请与已完成互换
// GET /api/v1/admin/section-swaps/export?status=&branch=
func (h *AdminSwapHandler) Export(c *gin.Context) {
	var req dto.AdminSwapListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		BindError(c, err)
		return
	}

	buf, filename, err := h.exportSvc.ExportSwapRequests(c.Request.Context(), req.Status, req.Branch)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.Attachment(c, xlsxContentType, filename, buf.Bytes())
}
