package handler

import (
	"github.com/shopspring/decimal"
)

// CreateDonationRequest 创建捐赠请求
//
// amount 接受数字或字符串形式的十进制金额。
type CreateDonationRequest struct {
	SponsorType      string          `json:"sponsor_type"`
	TargetIdentifier string          `json:"target_identifier"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Message          string          `json:"message"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Provider         string          `json:"provider"`
}

// ConfirmDonationRequest 确认捐赠请求
type ConfirmDonationRequest struct {
	OrderId string `json:"order_id"`
}
