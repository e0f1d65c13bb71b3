package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/logic"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// 单次任务最多处理的订单数
const reconcileBatchSize = 100

// 并发查询网关的协程数上限
const reconcilePoolSize = 8

// PendingReconcileJob 滞留订单对账任务
//
// 回调可能丢失或延迟，定期对已有订单ID但仍为 pending 的行
// 走同步确认路径补齐终态。确认路径本身是条件写，重复执行安全。
type PendingReconcileJob struct {
	db        *gorm.DB
	reconcile *logic.ReconcileLogic
	gateways  payment.Registry
	config    *config.Config
}

// NewPendingReconcileJob 创建滞留订单对账任务
func NewPendingReconcileJob(db *gorm.DB, gateways payment.Registry, cfg *config.Config) *PendingReconcileJob {
	return &PendingReconcileJob{
		db:        db,
		reconcile: logic.NewReconcileLogic(db),
		gateways:  gateways,
		config:    cfg,
	}
}

// GetName 获取任务名称
func (j *PendingReconcileJob) GetName() string {
	return "pending_order_reconciler"
}

// GetSchedule 获取调度配置
func (j *PendingReconcileJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Scheduler.Interval) * time.Second)
}

// Execute 执行任务
func (j *PendingReconcileJob) Execute() {
	// 创建后超过一个调度周期仍未结算的订单才处理，避免打扰正在支付的用户
	grace := time.Duration(j.config.Scheduler.Interval) * time.Second
	cutoff := time.Now().Add(-grace)

	var rows []model.SponsorshipModel
	err := j.db.Where("payment_provider_order_id IS NOT NULL AND payment_provider_order_id <> '' AND status = ? AND created_at < ?",
		model.SponsorshipStatusPending, cutoff).
		Limit(reconcileBatchSize).
		Find(&rows).Error
	if err != nil {
		logger.Error("Failed to fetch pending sponsorships: %v", err)
		return
	}

	if len(rows) == 0 {
		return
	}

	logger.Info("Reconciling %d pending sponsorships", len(rows))

	poolSize := reconcilePoolSize
	if len(rows) < poolSize {
		poolSize = len(rows)
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		logger.Error("Failed to create reconcile pool: %v", err)
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range rows {
		row := rows[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			j.reconcileRow(&row)
		})
		if err != nil {
			wg.Done()
			logger.Error("Failed to submit reconcile task: %v", err)
		}
	}
	wg.Wait()
}

// reconcileRow 对单条记录执行确认
func (j *PendingReconcileJob) reconcileRow(row *model.SponsorshipModel) {
	gateway, err := j.gateways.Get(row.PaymentProvider)
	if err != nil {
		logger.Error("Sponsorship %d: %v", row.Id, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	confirm, err := gateway.ConfirmOrder(ctx, row.OrderId())
	if err != nil {
		logger.Warn("Sponsorship %d confirm failed: %v", row.Id, err)
		return
	}
	if !confirm.Paid {
		// 未支付的订单留给回调或下一轮处理
		return
	}

	updated, err := j.reconcile.CompleteByOrderId(row.OrderId(), confirm.CaptureId)
	if err != nil {
		logger.Error("Sponsorship %d complete failed: %v", row.Id, err)
		return
	}
	if updated {
		logger.Info("Sponsorship %d reconciled to completed", row.Id)
	}
}
