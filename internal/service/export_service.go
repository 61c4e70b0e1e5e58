package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response。
// 文件包含两个 Sheet：换班申请、已完成互换。
type ExportService interface {
	ExportSwapRequests(ctx context.Context, status, branch string) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger, now: time.Now}
}

const (
	sheetRequests  = "Swap Requests"
	sheetCompleted = "Completed Swaps"
)

func (s *exportService) ExportSwapRequests(ctx context.Context, status, branch string) (*bytes.Buffer, string, error) {
	filter := repository.SwapRequestFilter{Status: model.SwapStatus(status), Branch: branch}
	reqs, _, err := s.repo.SwapRequest.List(ctx, filter, 0, 0)
	if err != nil {
		s.logger.Error("导出时查询申请失败", zap.Error(err))
		return nil, "", err
	}
	completed, err := s.repo.CompletedSwap.ListRecent(ctx, 0)
	if err != nil {
		s.logger.Error("导出时查询已完成互换失败", zap.Error(err))
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, _ := f.NewSheet(sheetRequests)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")
	f.NewSheet(sheetCompleted)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// ── 换班申请 ──
	reqHeader := []interface{}{"Request ID", "Student", "Email", "Branch", "Current", "Target", "Status", "Matched With", "Expires At", "Created At"}
	writeRow(f, sheetRequests, 1, reqHeader)
	f.SetCellStyle(sheetRequests, "A1", cellName(len(reqHeader), 1), headerStyle)
	for i := range reqs {
		r := &reqs[i]
		name, email := "", ""
		if r.User != nil {
			name, email = r.User.Name, r.User.Email
		}
		writeRow(f, sheetRequests, i+2, []interface{}{
			r.SwapRequestID, name, email, r.Branch, r.CurrentSection, r.TargetSection,
			string(r.Status), stringOr(r.MatchedWithName, ""), formatTime(r.ExpiresAt),
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	f.SetColWidth(sheetRequests, "A", "A", 38)
	f.SetColWidth(sheetRequests, "B", "C", 24)
	f.SetColWidth(sheetRequests, "D", "G", 12)
	f.SetColWidth(sheetRequests, "H", "J", 24)

	// ── 已完成互换 ──
	doneHeader := []interface{}{"Match Group", "Branch", "Student 1", "Student 2", "Section 1", "Section 2", "Completed At"}
	writeRow(f, sheetCompleted, 1, doneHeader)
	f.SetCellStyle(sheetCompleted, "A1", cellName(len(doneHeader), 1), headerStyle)
	for i, c := range completed {
		writeRow(f, sheetCompleted, i+2, []interface{}{
			c.MatchGroupID, c.Branch, c.User1Name, c.User2Name, c.Section1, c.Section2,
			c.CompletedAt.Format(time.RFC3339),
		})
	}
	f.SetColWidth(sheetCompleted, "A", "A", 38)
	f.SetColWidth(sheetCompleted, "B", "G", 18)

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("section_swaps_%s_%s.xlsx", statusLabel(filter.Status), s.now().Format("20060102"))
	return buf, filename, nil
}

// statusLabel 用于导出文件名中的筛选说明
func statusLabel(st model.SwapStatus) string {
	if st == "" {
		return "all"
	}
	return string(st)
}

// ── 辅助函数 ──

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	start := cellName(1, row)
	f.SetSheetRow(sheet, start, &values)
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
