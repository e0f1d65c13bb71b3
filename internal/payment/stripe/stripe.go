package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/payment"
	"github.com/shopspring/decimal"
)

const apiBase = "https://api.stripe.com"

var decimalHundred = decimal.NewFromInt(100)

// 签名时间戳容差
const signatureTolerance = 5 * time.Minute

// Client Stripe 支付网关（Checkout Session 流程）
type Client struct {
	cfg        config.StripeConfig
	successURL string
	cancelURL  string
	httpClient *http.Client
	now        func() time.Time // 测试注入
}

// New 创建 Stripe 网关
func New(cfg config.StripeConfig, frontendURL string) *Client {
	return &Client{
		cfg:        cfg,
		successURL: frontendURL + "/?donation=success",
		cancelURL:  frontendURL + "/?donation=cancelled",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// post 发送表单编码请求
func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	if c.cfg.SecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Stripe %s failed: %d %s", path, resp.StatusCode, string(data))
	}
	return data, nil
}

type checkoutSession struct {
	Id            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent struct {
		Id      string `json:"id"`
		Charges struct {
			Data []struct {
				Id string `json:"id"`
			} `json:"data"`
		} `json:"charges"`
	} `json:"payment_intent"`
}

// CreateOrder 创建 Checkout Session
func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.CreateOrderResult, error) {
	// Stripe 金额为最小单位整数
	amount := req.Amount.Mul(decimalHundred).Round(0).String()

	form := url.Values{}
	form.Set("payment_method_types[]", "card")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("line_items[0][price_data][unit_amount]", amount)
	form.Set("line_items[0][quantity]", "1")
	form.Set("mode", "payment")
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)
	if req.CorrelationId != "" {
		form.Set("metadata[idempotency_key]", req.CorrelationId)
	}

	data, err := c.post(ctx, "/v1/checkout/sessions", form)
	if err != nil {
		return nil, err
	}

	var sess checkoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("Stripe session decode failed: %w", err)
	}
	return &payment.CreateOrderResult{OrderId: sess.Id, ApprovalURL: sess.URL}, nil
}

// ConfirmOrder 查询 Checkout Session 是否已支付
func (c *Client) ConfirmOrder(ctx context.Context, orderId string) (*payment.ConfirmResult, error) {
	if c.cfg.SecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY not configured")
	}

	u := fmt.Sprintf("%s/v1/checkout/sessions/%s?expand[]=payment_intent&expand[]=payment_intent.charges.data",
		apiBase, url.PathEscape(orderId))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Stripe retrieveSession failed: %d %s", resp.StatusCode, string(data))
	}

	var sess checkoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("Stripe session decode failed: %w", err)
	}

	result := &payment.ConfirmResult{Paid: sess.PaymentStatus == "paid"}
	// 退款关联优先使用 charge id，取不到时退回 payment intent id
	if len(sess.PaymentIntent.Charges.Data) > 0 {
		result.CaptureId = sess.PaymentIntent.Charges.Data[0].Id
	} else {
		result.CaptureId = sess.PaymentIntent.Id
	}
	return result, nil
}

// VerifyWebhookSignature 校验 Stripe 回调签名
//
// 签名头格式: t=<timestamp>,v1=<signature>,...
// 期望值为 HMAC-SHA256(secret, "<t>.<原始报文>")。
func (c *Client) VerifyWebhookSignature(_ context.Context, headers http.Header, rawBody []byte) (bool, error) {
	if c.cfg.WebhookSecret == "" {
		return false, errors.New("STRIPE_WEBHOOK_SECRET not configured")
	}

	sigHeader := headers.Get("Stripe-Signature")
	if sigHeader == "" {
		return false, nil
	}

	var ts, v1 string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false, nil
	}

	// 时间戳容差检查，防止重放旧报文
	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, nil
	}
	diff := c.now().Unix() - tsSec
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(signatureTolerance.Seconds()) {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(v1)) == 1, nil
}

type webhookEvent struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Id            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
			Charges       struct {
				Data []struct {
					Id string `json:"id"`
				} `json:"data"`
			} `json:"charges"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent 解析 Stripe 回调事件
func (c *Client) ParseWebhookEvent(rawBody []byte) (*payment.WebhookEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("Stripe webhook decode failed: %w", err)
	}

	obj := event.Data.Object
	parsed := &payment.WebhookEvent{
		Id:   event.Id,
		Type: event.Type,
		Kind: payment.EventIgnored,
	}

	switch event.Type {
	case "checkout.session.completed":
		// 订单ID为会话ID，捕获ID为 payment intent
		parsed.Kind = payment.EventCaptureCompleted
		parsed.OrderId = obj.Id
		parsed.CaptureId = obj.PaymentIntent
	case "payment_intent.succeeded":
		parsed.Kind = payment.EventCaptureCompleted
		parsed.OrderId = obj.Id
		if len(obj.Charges.Data) > 0 {
			parsed.CaptureId = obj.Charges.Data[0].Id
		}
	case "payment_intent.payment_failed":
		parsed.Kind = payment.EventPaymentFailed
		parsed.OrderId = obj.Id
	case "charge.refunded", "charge.refund.updated":
		parsed.Kind = payment.EventRefunded
		parsed.CaptureId = obj.Id
	case "charge.succeeded":
		parsed.Kind = payment.EventChargeSucceeded
		parsed.CaptureId = obj.Id
	}
	return parsed, nil
}
