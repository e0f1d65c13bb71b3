package logic

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blues/dss/internal/database"
	"github.com/blues/dss/internal/payment"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var testDBSeq int64

// newTestDB 创建测试用内存数据库
//
// cache=shared 让同一测试内的连接共享数据库；
// 单连接串行化避免 sqlite 并发写锁干扰测试。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	seq := atomic.AddInt64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:logic_test_%d?mode=memory&cache=shared", seq)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		NamingStrategy: &schema.NamingStrategy{
			SingularTable: true,
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

// fakeGateway 可编程的支付网关桩
type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	confirmFn   func(orderId string) (*payment.ConfirmResult, error)
	createErr   error
	verified    bool
	event       *payment.WebhookEvent
}

func (f *fakeGateway) CreateOrder(_ context.Context, _ payment.CreateOrderRequest) (*payment.CreateOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil // 只失败一次
		return nil, err
	}
	return &payment.CreateOrderResult{
		OrderId:     fmt.Sprintf("ORDER-%d", f.createCalls),
		ApprovalURL: "https://pay.example/approve",
	}, nil
}

func (f *fakeGateway) ConfirmOrder(_ context.Context, orderId string) (*payment.ConfirmResult, error) {
	if f.confirmFn != nil {
		return f.confirmFn(orderId)
	}
	return &payment.ConfirmResult{Paid: true, CaptureId: "CAPTURE-" + orderId}, nil
}

func (f *fakeGateway) VerifyWebhookSignature(_ context.Context, _ http.Header, _ []byte) (bool, error) {
	return f.verified, nil
}

func (f *fakeGateway) ParseWebhookEvent(_ []byte) (*payment.WebhookEvent, error) {
	return f.event, nil
}

func (f *fakeGateway) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}
