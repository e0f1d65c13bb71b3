package logic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDonationConfig() config.DonationConfig {
	return config.DonationConfig{
		MinAmount:         1,
		MaxAmount:         10000,
		PollRetries:       20,
		PollIntervalMs:    10,
		ReserveStaleAfter: 5,
	}
}

func newTestLogic(t *testing.T, gw payment.Gateway) *DonationLogic {
	db := newTestDB(t)
	gateways := payment.Registry{
		model.ProviderPayPal: gw,
		model.ProviderStripe: gw,
	}
	return NewDonationLogic(db, gateways, testDonationConfig())
}

func createInput(key string) *CreateDonationInput {
	return &CreateDonationInput{
		UserId:         "tester",
		SponsorType:    "one_time",
		Amount:         decimal.NewFromFloat(5.00),
		Currency:       "USD",
		IdempotencyKey: key,
		Provider:       model.ProviderPayPal,
	}
}

func TestCreateDonationConcurrentSameKey(t *testing.T) {
	gw := &fakeGateway{}
	l := newTestLogic(t, gw)

	const workers = 8
	results := make([]*CreateDonationResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.CreateDonation(context.Background(), createInput("k1"))
		}(i)
	}
	wg.Wait()

	// 只产生一次网关调用
	assert.Equal(t, 1, gw.CreateCalls())

	// 所有请求观察到同一订单与同一赞助记录
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].OrderId, results[i].OrderId)
		assert.Equal(t, results[0].SponsorshipId, results[i].SponsorshipId)
	}

	// 数据库中只有一行
	var count int64
	require.NoError(t, l.db.Model(&model.SponsorshipModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateDonationShortCircuitAfterCompletion(t *testing.T) {
	gw := &fakeGateway{}
	l := newTestLogic(t, gw)

	first, err := l.CreateDonation(context.Background(), createInput("k2"))
	require.NoError(t, err)
	require.NotEmpty(t, first.OrderId)

	// 订单ID已写入，第二次调用立即返回已有结果，不再调用网关
	second, err := l.CreateDonation(context.Background(), createInput("k2"))
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.OrderId, second.OrderId)
	assert.Equal(t, first.SponsorshipId, second.SponsorshipId)
	assert.Equal(t, 1, gw.CreateCalls())
}

func TestCreateDonationWithoutKeyCreatesFreshRows(t *testing.T) {
	gw := &fakeGateway{}
	l := newTestLogic(t, gw)

	first, err := l.CreateDonation(context.Background(), createInput(""))
	require.NoError(t, err)
	second, err := l.CreateDonation(context.Background(), createInput(""))
	require.NoError(t, err)

	assert.NotEqual(t, first.SponsorshipId, second.SponsorshipId)
	assert.NotEqual(t, first.OrderId, second.OrderId)
	assert.Equal(t, 2, gw.CreateCalls())
}

func TestCreateDonationGatewayFailureAllowsRetry(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("network down")}
	l := newTestLogic(t, gw)

	_, err := l.CreateDonation(context.Background(), createInput("k3"))
	require.Error(t, err)

	// 行保持已预留、无订单ID
	var row model.SponsorshipModel
	require.NoError(t, l.db.Where("idempotency_key = ?", "k3").First(&row).Error)
	assert.NotNil(t, row.ReservedAt)
	assert.Nil(t, row.PaymentProviderOrderId)

	// 预留过期后，同键重试可以重新调用网关，且不产生新行
	stale := time.Now().Add(-time.Minute)
	require.NoError(t, l.db.Model(&row).Update("reserved_at", stale).Error)

	result, err := l.CreateDonation(context.Background(), createInput("k3"))
	require.NoError(t, err)
	assert.Equal(t, row.Id, result.SponsorshipId)
	assert.NotEmpty(t, result.OrderId)

	var count int64
	require.NoError(t, l.db.Model(&model.SponsorshipModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateDonationReservationTimeout(t *testing.T) {
	gw := &fakeGateway{}
	db := newTestDB(t)
	cfg := testDonationConfig()
	cfg.PollRetries = 2
	cfg.ReserveStaleAfter = 3600 // 预留未过期
	l := NewDonationLogic(db, payment.Registry{model.ProviderPayPal: gw}, cfg)

	// 模拟另一个工作进程持有预留：行存在且已预留，但订单ID迟迟未写入
	key := "k4"
	now := time.Now()
	row := &model.SponsorshipModel{
		SponsorType:     "one_time",
		Amount:          decimal.NewFromInt(5),
		Currency:        "USD",
		PaymentProvider: model.ProviderPayPal,
		Status:          model.SponsorshipStatusPending,
		IdempotencyKey:  &key,
		ReservedAt:      &now,
	}
	require.NoError(t, db.Create(row).Error)

	_, err := l.CreateDonation(context.Background(), createInput("k4"))
	require.ErrorIs(t, err, ErrReservationTimeout)

	// 输掉预留的请求绝不调用网关
	assert.Equal(t, 0, gw.CreateCalls())
}

func TestCreateDonationValidation(t *testing.T) {
	l := newTestLogic(t, &fakeGateway{})

	cases := []struct {
		name   string
		mutate func(*CreateDonationInput)
	}{
		{"缺少赞助类型", func(in *CreateDonationInput) { in.SponsorType = "" }},
		{"金额为零", func(in *CreateDonationInput) { in.Amount = decimal.Zero }},
		{"金额为负", func(in *CreateDonationInput) { in.Amount = decimal.NewFromInt(-3) }},
		{"低于下限", func(in *CreateDonationInput) { in.Amount = decimal.NewFromFloat(0.5) }},
		{"高于上限", func(in *CreateDonationInput) { in.Amount = decimal.NewFromInt(99999) }},
		{"留言含脚本", func(in *CreateDonationInput) { in.Message = "<script>alert(1)</script>" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := createInput("")
			tc.mutate(input)
			_, err := l.CreateDonation(context.Background(), input)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestConfirmDonationReplayIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	l := newTestLogic(t, gw)

	created, err := l.CreateDonation(context.Background(), createInput("k5"))
	require.NoError(t, err)

	first, err := l.ConfirmDonation(context.Background(), created.OrderId)
	require.NoError(t, err)
	assert.True(t, first.Updated)
	assert.Equal(t, "CAPTURE-"+created.OrderId, first.CaptureId)

	// 重放确认：状态守卫使更新影响0行，不报错
	second, err := l.ConfirmDonation(context.Background(), created.OrderId)
	require.NoError(t, err)
	assert.False(t, second.Updated)

	var row model.SponsorshipModel
	require.NoError(t, l.db.Where("payment_provider_order_id = ?", created.OrderId).First(&row).Error)
	assert.Equal(t, model.SponsorshipStatusCompleted, row.Status)
	assert.NotNil(t, row.CompletedAt)
}

func TestConfirmDonationNotPaid(t *testing.T) {
	gw := &fakeGateway{
		confirmFn: func(string) (*payment.ConfirmResult, error) {
			return &payment.ConfirmResult{Paid: false}, nil
		},
	}
	l := newTestLogic(t, gw)

	created, err := l.CreateDonation(context.Background(), createInput("k6"))
	require.NoError(t, err)

	_, err = l.ConfirmDonation(context.Background(), created.OrderId)
	require.ErrorIs(t, err, ErrOrderNotPaid)

	var row model.SponsorshipModel
	require.NoError(t, l.db.Where("payment_provider_order_id = ?", created.OrderId).First(&row).Error)
	assert.Equal(t, model.SponsorshipStatusPending, row.Status)
}

func TestConfirmDonationUnknownOrder(t *testing.T) {
	l := newTestLogic(t, &fakeGateway{})

	_, err := l.ConfirmDonation(context.Background(), "ORDER-MISSING")
	require.ErrorIs(t, err, ErrOrderNotFound)
}
