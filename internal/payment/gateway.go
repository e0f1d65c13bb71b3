package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

// ErrUnknownProvider 不支持的支付提供商
var ErrUnknownProvider = errors.New("不支持的支付提供商")

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	Amount        decimal.Decimal // 金额（主单位），换算为提供商最小单位在网关内部完成
	Currency      string
	Description   string
	CorrelationId string // 幂等键，透传给提供商用于关联
}

// CreateOrderResult 创建订单结果
type CreateOrderResult struct {
	OrderId     string // 提供商订单/会话ID
	ApprovalURL string // 用户跳转支付的链接
}

// ConfirmResult 确认/捕获结果
type ConfirmResult struct {
	Paid      bool
	CaptureId string // 捕获/扣款ID，退款关联用
}

// 归一化后的事件类别
type EventKind int

const (
	EventIgnored EventKind = iota // 未识别的事件类型，接受但不处理
	EventCaptureCompleted
	EventPaymentFailed
	EventRefunded
	EventChargeSucceeded // 仅按捕获ID匹配的完成事件
)

// WebhookEvent 归一化后的回调事件
//
// 提供商特有的响应结构（嵌套 link 数组、charge 列表等）
// 全部在网关实现内解析，状态机只消费这里的字段。
type WebhookEvent struct {
	Id        string // 提供商事件ID
	Type      string // 提供商原始事件类型
	Kind      EventKind
	OrderId   string
	CaptureId string
}

// Gateway 支付提供商网关
//
// 两个提供商实现同一契约，核心逻辑只按提供商标识选择实现，
// 状态机本身与提供商无关。
type Gateway interface {
	// CreateOrder 创建远端订单
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	// ConfirmOrder 查询/捕获远端订单是否已支付
	ConfirmOrder(ctx context.Context, orderId string) (*ConfirmResult, error)
	// VerifyWebhookSignature 校验回调签名，必须使用未经修改的原始报文
	VerifyWebhookSignature(ctx context.Context, headers http.Header, rawBody []byte) (bool, error)
	// ParseWebhookEvent 解析回调事件为归一化结构
	ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error)
}

// Registry 按提供商标识选择网关实现
type Registry map[string]Gateway

// Get 获取提供商对应的网关
func (r Registry) Get(provider string) (Gateway, error) {
	gw, ok := r[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return gw, nil
}
