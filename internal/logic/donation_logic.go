package logic

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrValidation 请求参数校验失败
	ErrValidation = errors.New("无效的请求")
	// ErrReservationTimeout 预留等待超时，状态不明确，调用方应重新查询而不是重新提交
	ErrReservationTimeout = errors.New("订单创建中，请稍后重新查询")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("订单不存在")
	// ErrOrderNotPaid 远端订单未支付
	ErrOrderNotPaid = errors.New("订单尚未支付")
)

// validationError 构造校验错误
func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// 消息内容禁止出现 HTML 标记
var messageBlacklist = regexp.MustCompile(`(?i)<|>|script`)

// DonationLogic 捐赠业务逻辑
type DonationLogic struct {
	db        *gorm.DB
	gateways  payment.Registry
	reconcile *ReconcileLogic
	cfg       config.DonationConfig
}

// NewDonationLogic 创建捐赠业务逻辑
func NewDonationLogic(db *gorm.DB, gateways payment.Registry, cfg config.DonationConfig) *DonationLogic {
	return &DonationLogic{
		db:        db,
		gateways:  gateways,
		reconcile: NewReconcileLogic(db),
		cfg:       cfg,
	}
}

// CreateDonationInput 创建捐赠请求
type CreateDonationInput struct {
	UserId           string
	UserEmail        string
	SponsorType      string
	TargetIdentifier string
	Amount           decimal.Decimal
	Currency         string
	Message          string
	IdempotencyKey   string
	Provider         string
}

// CreateDonationResult 创建捐赠结果
type CreateDonationResult struct {
	SponsorshipId int64
	OrderId       string
	ApprovalURL   string
	Existing      bool // 命中幂等键已有订单
}

// CreateDonation 创建捐赠订单
//
// 带幂等键时执行预留协议：同一幂等键的并发请求中只有一个会调用支付网关，
// 其余请求轮询等待订单ID出现后返回同一结果。
func (l *DonationLogic) CreateDonation(ctx context.Context, input *CreateDonationInput) (*CreateDonationResult, error) {
	if err := l.validate(input); err != nil {
		return nil, err
	}

	provider := model.ProviderPayPal
	if strings.ToLower(input.Provider) == model.ProviderStripe {
		provider = model.ProviderStripe
	}
	gateway, err := l.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Donation %s", input.SponsorType)

	// 无幂等键时无法去重，直接创建远端订单后落库
	if input.IdempotencyKey == "" {
		order, err := gateway.CreateOrder(ctx, payment.CreateOrderRequest{
			Amount:      input.Amount,
			Currency:    input.Currency,
			Description: description,
		})
		if err != nil {
			return nil, fmt.Errorf("创建支付订单失败: %w", err)
		}

		row := l.newRow(input, provider)
		row.PaymentProviderOrderId = &order.OrderId
		if err := l.db.Create(row).Error; err != nil {
			return nil, fmt.Errorf("保存赞助记录失败: %w", err)
		}
		return &CreateDonationResult{
			SponsorshipId: row.Id,
			OrderId:       order.OrderId,
			ApprovalURL:   order.ApprovalURL,
		}, nil
	}

	// 第一步：按幂等键插入，键已存在时忽略。
	// 无论调用先后，此后必然存在一行以该键标识的记录。
	row := l.newRow(input, provider)
	row.IdempotencyKey = &input.IdempotencyKey
	if err := l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, fmt.Errorf("保存赞助记录失败: %w", err)
	}

	existing, err := l.getByIdempotencyKey(input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	// 订单ID已存在，直接短路返回，不再预留或轮询
	if existing.OrderId() != "" {
		return &CreateDonationResult{
			SponsorshipId: existing.Id,
			OrderId:       existing.OrderId(),
			Existing:      true,
		}, nil
	}

	// 第二步：尝试预留。条件更新保证并发请求中只有一个生效。
	reserved, err := l.tryReserve(input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		// 预留失败，有界轮询等待持有预留的请求写入订单ID
		found, err := l.pollForOrderId(input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return &CreateDonationResult{
				SponsorshipId: found.Id,
				OrderId:       found.OrderId(),
				Existing:      true,
			}, nil
		}

		// 轮询耗尽仍无订单ID。预留已过期说明持有者网关调用失败，
		// 允许当前请求重试网关调用；否则返回状态不明确错误，绝不重复下单。
		stale, err := l.reservationStale(input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !stale {
			return nil, ErrReservationTimeout
		}
		logger.Warn("Stale reservation for key %s, retrying gateway call", input.IdempotencyKey)
	}

	// 第三步：持有预留（或接管过期预留）的请求调用支付网关
	order, err := gateway.CreateOrder(ctx, payment.CreateOrderRequest{
		Amount:        input.Amount,
		Currency:      input.Currency,
		Description:   description,
		CorrelationId: input.IdempotencyKey,
	})
	if err != nil {
		// 行保持已预留无订单ID状态，同键的后续请求可重试
		return nil, fmt.Errorf("创建支付订单失败: %w", err)
	}

	// 第四步：回写订单ID，条件更新防止过期请求覆盖新订单ID
	res := l.db.Model(&model.SponsorshipModel{}).
		Where("idempotency_key = ? AND (payment_provider_order_id IS NULL OR payment_provider_order_id = '')", input.IdempotencyKey).
		Update("payment_provider_order_id", order.OrderId)
	if res.Error != nil {
		return nil, fmt.Errorf("回写订单ID失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 另一个请求已写入订单ID，以库中结果为准
		logger.Warn("Order id already set for key %s, discarding %s", input.IdempotencyKey, order.OrderId)
		final, err := l.getByIdempotencyKey(input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return &CreateDonationResult{
			SponsorshipId: final.Id,
			OrderId:       final.OrderId(),
			Existing:      true,
		}, nil
	}

	return &CreateDonationResult{
		SponsorshipId: existing.Id,
		OrderId:       order.OrderId,
		ApprovalURL:   order.ApprovalURL,
	}, nil
}

// ConfirmDonationResult 确认捐赠结果
type ConfirmDonationResult struct {
	SponsorshipId int64
	CaptureId     string
	Updated       bool // false 表示此前已结算，本次为重放
}

// ConfirmDonation 同步确认捐赠支付结果
//
// 向网关查询远端订单是否已支付，已支付则条件更新为完成态。
// 状态守卫使重放调用成为空操作。
func (l *DonationLogic) ConfirmDonation(ctx context.Context, orderId string) (*ConfirmDonationResult, error) {
	var row model.SponsorshipModel
	if err := l.db.Where("payment_provider_order_id = ?", orderId).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	gateway, err := l.gateways.Get(row.PaymentProvider)
	if err != nil {
		return nil, err
	}

	confirm, err := gateway.ConfirmOrder(ctx, orderId)
	if err != nil {
		return nil, fmt.Errorf("确认支付订单失败: %w", err)
	}
	if !confirm.Paid {
		return nil, ErrOrderNotPaid
	}

	updated, err := l.reconcile.CompleteByOrderId(orderId, confirm.CaptureId)
	if err != nil {
		return nil, err
	}
	return &ConfirmDonationResult{
		SponsorshipId: row.Id,
		CaptureId:     confirm.CaptureId,
		Updated:       updated,
	}, nil
}

// GetByOrderId 按订单ID查询赞助记录
func (l *DonationLogic) GetByOrderId(orderId string) (*model.SponsorshipModel, error) {
	var row model.SponsorshipModel
	if err := l.db.Where("payment_provider_order_id = ?", orderId).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &row, nil
}

// newRow 构造待插入的赞助记录
func (l *DonationLogic) newRow(input *CreateDonationInput, provider string) *model.SponsorshipModel {
	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	return &model.SponsorshipModel{
		UserId:           input.UserId,
		UserEmail:        input.UserEmail,
		SponsorType:      input.SponsorType,
		TargetIdentifier: input.TargetIdentifier,
		Amount:           input.Amount,
		Currency:         currency,
		PaymentProvider:  provider,
		Message:          strings.TrimSpace(input.Message),
		Status:           model.SponsorshipStatusPending,
	}
}

// tryReserve 尝试预留幂等键对应的行
//
// 仅当订单ID与预留时间均为空时生效，并发请求中最多一个更新到行。
func (l *DonationLogic) tryReserve(key string) (bool, error) {
	res := l.db.Model(&model.SponsorshipModel{}).
		Where("idempotency_key = ? AND (payment_provider_order_id IS NULL OR payment_provider_order_id = '') AND reserved_at IS NULL", key).
		Update("reserved_at", time.Now())
	if res.Error != nil {
		return false, fmt.Errorf("预留赞助记录失败: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// pollForOrderId 有界轮询等待订单ID出现
func (l *DonationLogic) pollForOrderId(key string) (*model.SponsorshipModel, error) {
	retries := l.cfg.PollRetries
	if retries <= 0 {
		retries = 10
	}
	interval := time.Duration(l.cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	for i := 0; i < retries; i++ {
		row, err := l.getByIdempotencyKey(key)
		if err != nil {
			return nil, err
		}
		if row.OrderId() != "" {
			return row, nil
		}
		time.Sleep(interval)
	}
	return nil, nil
}

// reservationStale 判断预留是否已过期
func (l *DonationLogic) reservationStale(key string) (bool, error) {
	row, err := l.getByIdempotencyKey(key)
	if err != nil {
		return false, err
	}
	if row.ReservedAt == nil {
		return false, nil
	}
	staleAfter := time.Duration(l.cfg.ReserveStaleAfter) * time.Second
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return time.Since(*row.ReservedAt) > staleAfter, nil
}

func (l *DonationLogic) getByIdempotencyKey(key string) (*model.SponsorshipModel, error) {
	var row model.SponsorshipModel
	if err := l.db.Where("idempotency_key = ?", key).First(&row).Error; err != nil {
		return nil, fmt.Errorf("查询赞助记录失败: %w", err)
	}
	return &row, nil
}

// validate 验证捐赠请求
func (l *DonationLogic) validate(input *CreateDonationInput) error {
	if input.SponsorType == "" {
		return validationError("赞助类型不能为空")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return validationError("金额必须大于0")
	}
	if l.cfg.MinAmount > 0 && input.Amount.LessThan(decimal.NewFromFloat(l.cfg.MinAmount)) {
		return validationError("金额不能低于 %.2f", l.cfg.MinAmount)
	}
	if l.cfg.MaxAmount > 0 && input.Amount.GreaterThan(decimal.NewFromFloat(l.cfg.MaxAmount)) {
		return validationError("金额不能超过 %.2f", l.cfg.MaxAmount)
	}

	message := strings.TrimSpace(input.Message)
	if len(message) > 500 {
		return validationError("留言过长（最多500字符）")
	}
	if message != "" && messageBlacklist.MatchString(message) {
		return validationError("留言包含非法字符")
	}
	return nil
}
