package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 支付提供商
const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

// 赞助状态
const (
	SponsorshipStatusPending   = "pending"   // 已创建，等待支付
	SponsorshipStatusCompleted = "completed" // 支付完成（终态）
	SponsorshipStatusFailed    = "failed"    // 支付失败（终态）
	SponsorshipStatusRefunded  = "refunded"  // 已退款（终态）
)

// SponsorshipModel 赞助记录
//
// idempotency_key 和 payment_provider_order_id 使用指针类型，
// 保证未设置时写入 NULL，不会在唯一索引上互相冲突。
type SponsorshipModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserId    string `json:"user_id" gorm:"size:128"`
	UserEmail string `json:"user_email" gorm:"size:255"`

	SponsorType      string          `json:"sponsor_type" gorm:"size:64;not null"`
	TargetIdentifier string          `json:"target_identifier" gorm:"size:128;index"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency         string          `json:"currency" gorm:"size:8;default:USD"`

	PaymentProvider          string  `json:"payment_provider" gorm:"size:16;default:paypal"`
	PaymentProviderOrderId   *string `json:"payment_provider_order_id" gorm:"size:128;uniqueIndex"`
	PaymentProviderCaptureId *string `json:"payment_provider_capture_id" gorm:"size:128;index"`

	Message string `json:"message" gorm:"size:500"`
	Status  string `json:"status" gorm:"size:16;default:pending;index"`

	IdempotencyKey *string    `json:"idempotency_key" gorm:"size:128;uniqueIndex"`
	ReservedAt     *time.Time `json:"reserved_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// TableName 自定义表名
func (SponsorshipModel) TableName() string {
	return "sponsorship"
}

// IsTerminal 是否处于终态
func (s *SponsorshipModel) IsTerminal() bool {
	switch s.Status {
	case SponsorshipStatusCompleted, SponsorshipStatusFailed, SponsorshipStatusRefunded:
		return true
	}
	return false
}

// OrderId 返回订单ID（未设置时为空字符串）
func (s *SponsorshipModel) OrderId() string {
	if s.PaymentProviderOrderId == nil {
		return ""
	}
	return *s.PaymentProviderOrderId
}

// CaptureId 返回捕获ID（未设置时为空字符串）
func (s *SponsorshipModel) CaptureId() string {
	if s.PaymentProviderCaptureId == nil {
		return ""
	}
	return *s.PaymentProviderCaptureId
}
