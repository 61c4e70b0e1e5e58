package model

// 通知类型
const (
	NotificationSwapMatched   = "swap_matched"
	NotificationSwapExpired   = "swap_expired"
	NotificationSwapCompleted = "swap_completed"
)

// RelatedTypeSwapRequest 通知关联对象类型
const RelatedTypeSwapRequest = "swap_request"

// Notification 站内通知表 — 对应 notifications
type Notification struct {
	NotificationID string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"notification_id"`
	UserID         string  `gorm:"type:uuid;not null;index"                       json:"user_id"`
	Type           string  `gorm:"type:varchar(50);not null"                      json:"type"`
	Title          string  `gorm:"type:varchar(200);not null"                     json:"title"`
	Content        string  `gorm:"type:text;not null"                             json:"content"`
	IsRead         bool    `gorm:"not null;default:false"                         json:"is_read"`
	RelatedType    *string `gorm:"type:varchar(20)"                               json:"related_type,omitempty"`
	RelatedID      *string `gorm:"type:uuid"                                      json:"related_id,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }

// NotificationPreference 通知偏好表 — 对应 notification_preferences（与 users 1:1）
type NotificationPreference struct {
	UserID           string `gorm:"type:uuid;primaryKey"  json:"user_id"`
	SwapNotification bool   `gorm:"not null;default:true" json:"swap_notification"`
	BaseModel
}

// TableName 指定表名
func (NotificationPreference) TableName() string { return "notification_preferences" }

// [自证通过] internal/model/notification.go
