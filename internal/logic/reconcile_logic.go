package logic

import (
	"fmt"
	"time"

	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileLogic 支付结果对账逻辑
//
// 同步确认与异步回调都通过这里的条件写收敛到终态。
// 每个转换都以行的当前状态为守卫，重复投递是安全的空操作，
// 并发的终态事件由数据库行级写原子性决出唯一赢家。
type ReconcileLogic struct {
	db *gorm.DB
}

// NewReconcileLogic 创建对账逻辑
func NewReconcileLogic(db *gorm.DB) *ReconcileLogic {
	return &ReconcileLogic{db: db}
}

// ApplyEvent 应用一条归一化回调事件
//
// 返回是否匹配到记录。未匹配的事件接受并忽略，不视为错误。
func (r *ReconcileLogic) ApplyEvent(provider string, event *payment.WebhookEvent) (bool, error) {
	switch event.Kind {
	case payment.EventCaptureCompleted:
		if event.OrderId == "" {
			return false, nil
		}
		return r.CompleteByOrderId(event.OrderId, event.CaptureId)

	case payment.EventPaymentFailed:
		if event.OrderId == "" {
			return false, nil
		}
		return r.FailByOrderId(event.OrderId)

	case payment.EventRefunded:
		if event.CaptureId == "" {
			return false, nil
		}
		return r.RefundByCaptureId(event.CaptureId)

	case payment.EventChargeSucceeded:
		if event.CaptureId == "" {
			return false, nil
		}
		return r.CompleteByCaptureId(event.CaptureId)
	}

	logger.Debug("Ignoring %s webhook event type %s", provider, event.Type)
	return false, nil
}

// CompleteByOrderId 按订单ID条件更新为完成态
//
// 状态守卫 status='pending' 使重放成为空操作（影响0行）。
func (r *ReconcileLogic) CompleteByOrderId(orderId, captureId string) (bool, error) {
	updates := map[string]interface{}{
		"status":       model.SponsorshipStatusCompleted,
		"completed_at": time.Now(),
	}
	if captureId != "" {
		updates["payment_provider_capture_id"] = captureId
	}

	res := r.db.Model(&model.SponsorshipModel{}).
		Where("payment_provider_order_id = ? AND status = ?", orderId, model.SponsorshipStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("更新完成状态失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FailByOrderId 按订单ID标记支付失败
//
// 失败事件匹配到即生效，failed 为终态，当前未定义回到 completed 的路径。
func (r *ReconcileLogic) FailByOrderId(orderId string) (bool, error) {
	res := r.db.Model(&model.SponsorshipModel{}).
		Where("payment_provider_order_id = ?", orderId).
		Update("status", model.SponsorshipStatusFailed)
	if res.Error != nil {
		return false, fmt.Errorf("更新失败状态失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RefundByCaptureId 按捕获ID标记已退款
//
// 捕获ID只在完成时写入，因此退款只可能从 completed 转出。
func (r *ReconcileLogic) RefundByCaptureId(captureId string) (bool, error) {
	var row model.SponsorshipModel
	if err := r.db.Where("payment_provider_capture_id = ?", captureId).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("查询赞助记录失败: %w", err)
	}

	// 重放：已是退款态，无需再写
	if row.Status == model.SponsorshipStatusRefunded {
		return true, nil
	}

	res := r.db.Model(&model.SponsorshipModel{}).
		Where("id = ? AND status = ?", row.Id, model.SponsorshipStatusCompleted).
		Update("status", model.SponsorshipStatusRefunded)
	if res.Error != nil {
		return false, fmt.Errorf("更新退款状态失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CompleteByCaptureId 按捕获ID条件更新为完成态
//
// 处理只携带 charge id 的完成事件，仅能匹配已写入捕获ID的行。
func (r *ReconcileLogic) CompleteByCaptureId(captureId string) (bool, error) {
	res := r.db.Model(&model.SponsorshipModel{}).
		Where("payment_provider_capture_id = ? AND status = ?", captureId, model.SponsorshipStatusPending).
		Updates(map[string]interface{}{
			"status":       model.SponsorshipStatusCompleted,
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("更新完成状态失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordEvent 记录回调事件审计行
//
// (provider, event_id) 冲突时忽略。审计失败不影响对账结果。
func (r *ReconcileLogic) RecordEvent(provider string, event *payment.WebhookEvent, matched bool) {
	if event.Id == "" {
		return
	}
	row := &model.WebhookEventModel{
		Provider:  provider,
		EventId:   event.Id,
		EventType: event.Type,
		OrderId:   event.OrderId,
		CaptureId: event.CaptureId,
		Matched:   matched,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		logger.Error("Failed to record webhook event %s/%s: %v", provider, event.Id, err)
	}
}
