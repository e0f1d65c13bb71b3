package model

import (
	"time"
)

// WebhookEventModel 支付提供商回调事件记录
//
// (provider, event_id) 唯一索引用于重复投递审计。
// 状态机本身依赖条件写保证幂等，此表仅作审计与排查用途。
type WebhookEventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Provider  string `json:"provider" gorm:"size:16;not null;uniqueIndex:uk_webhook_provider_event,priority:1"`
	EventId   string `json:"event_id" gorm:"size:128;not null;uniqueIndex:uk_webhook_provider_event,priority:2"`
	EventType string `json:"event_type" gorm:"size:64;index"`

	OrderId   string `json:"order_id" gorm:"size:128;index"`
	CaptureId string `json:"capture_id" gorm:"size:128"`
	Matched   bool   `json:"matched"`
}

// TableName 自定义表名
func (WebhookEventModel) TableName() string {
	return "webhook_event"
}
