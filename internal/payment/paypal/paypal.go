package paypal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/payment"
	"github.com/google/uuid"
)

const (
	sandboxAPIBase = "https://api-m.sandbox.paypal.com"
	liveAPIBase    = "https://api-m.paypal.com"
)

// Client PayPal 支付网关
type Client struct {
	cfg        config.PayPalConfig
	apiBase    string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New 创建 PayPal 网关
func New(cfg config.PayPalConfig) *Client {
	apiBase := sandboxAPIBase
	if cfg.Mode == "live" {
		apiBase = liveAPIBase
	}
	return &Client{
		cfg:        cfg,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// getAccessToken 获取访问令牌（带缓存）
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	if c.cfg.ClientId == "" || c.cfg.ClientSecret == "" {
		return "", errors.New("PayPal credentials not configured")
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientId + ":" + c.cfg.ClientSecret))
	body := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/oauth2/token", strings.NewReader(body.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("PayPal token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("PayPal token error: %d %s", resp.StatusCode, string(data))
	}

	var token tokenResponse
	if err := json.Unmarshal(data, &token); err != nil {
		return "", fmt.Errorf("PayPal token decode failed: %w", err)
	}

	c.accessToken = token.AccessToken
	// 提前一分钟过期，避免临界使用
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)

	return c.accessToken, nil
}

type orderResponse struct {
	Id     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				Id     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateOrder 创建 PayPal 订单
func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.CreateOrderResult, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	unit := map[string]interface{}{
		"amount": map[string]string{
			"currency_code": req.Currency,
			"value":         req.Amount.StringFixed(2), // 最小单位换算只发生在网关边界
		},
		"description": req.Description,
	}
	if req.CorrelationId != "" {
		unit["custom_id"] = req.CorrelationId
	}
	payload := map[string]interface{}{
		"intent":         "CAPTURE",
		"purchase_units": []interface{}{unit},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/checkout/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	// 请求级幂等头，网络重试不会产生重复订单
	httpReq.Header.Set("PayPal-Request-Id", requestId(req.CorrelationId))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("PayPal createOrder request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("PayPal createOrder failed: %d %s", resp.StatusCode, string(data))
	}

	var order orderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("PayPal createOrder decode failed: %w", err)
	}

	result := &payment.CreateOrderResult{OrderId: order.Id}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "approval_url" {
			result.ApprovalURL = link.Href
			break
		}
	}
	return result, nil
}

// ConfirmOrder 捕获 PayPal 订单
func (c *Client) ConfirmOrder(ctx context.Context, orderId string) (*payment.ConfirmResult, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.apiBase, url.PathEscape(orderId)), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("PayPal captureOrder request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("PayPal captureOrder failed: %d %s", resp.StatusCode, string(data))
	}

	var order orderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("PayPal captureOrder decode failed: %w", err)
	}

	result := &payment.ConfirmResult{Paid: order.Status == "COMPLETED"}
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		result.CaptureId = order.PurchaseUnits[0].Payments.Captures[0].Id
	}
	return result, nil
}

// VerifyWebhookSignature 通过 PayPal 验签接口校验回调签名
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, rawBody []byte) (bool, error) {
	if c.cfg.WebhookId == "" {
		return false, errors.New("PAYPAL_WEBHOOK_ID not configured")
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return false, err
	}

	// webhook_event 必须是原始报文解析出的完整事件
	var event json.RawMessage
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return false, fmt.Errorf("PayPal webhook body is not valid JSON: %w", err)
	}

	payload := map[string]interface{}{
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"webhook_id":        c.cfg.WebhookId,
		"webhook_event":     event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v1/notifications/verify-webhook-signature", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("PayPal webhook verify request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("PayPal webhook verify API failed: %d %s", resp.StatusCode, string(data))
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return false, err
	}
	return result.VerificationStatus == "SUCCESS", nil
}

type webhookEvent struct {
	Id        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		Id                string `json:"id"`
		SupplementaryData struct {
			RelatedIds struct {
				OrderId string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseWebhookEvent 解析 PayPal 回调事件
func (c *Client) ParseWebhookEvent(rawBody []byte) (*payment.WebhookEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("PayPal webhook decode failed: %w", err)
	}

	parsed := &payment.WebhookEvent{
		Id:   event.Id,
		Type: event.EventType,
		Kind: payment.EventIgnored,
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DONE":
		parsed.Kind = payment.EventCaptureCompleted
		parsed.OrderId = event.Resource.SupplementaryData.RelatedIds.OrderId
		parsed.CaptureId = event.Resource.Id
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		parsed.Kind = payment.EventPaymentFailed
		parsed.OrderId = event.Resource.SupplementaryData.RelatedIds.OrderId
		parsed.CaptureId = event.Resource.Id
	case "PAYMENT.CAPTURE.REFUNDED":
		// 退款事件按捕获ID关联
		parsed.Kind = payment.EventRefunded
		parsed.CaptureId = event.Resource.Id
	}
	return parsed, nil
}

// requestId 生成请求级幂等标识
func requestId(correlationId string) string {
	if correlationId != "" {
		return correlationId
	}
	return uuid.NewString()
}
