package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	c := New(config.PayPalConfig{
		ClientId:     "client",
		ClientSecret: "secret",
		Mode:         "sandbox",
		WebhookId:    "WH-1",
	})
	c.apiBase = serverURL
	return c
}

func TestCreateOrder(t *testing.T) {
	tokenCalls := 0
	createCalls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			tokenCalls++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "token-1",
				"expires_in":   3600,
			})
		case "/v2/checkout/orders":
			createCalls++
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("PayPal-Request-Id"))

			var payload struct {
				Intent        string `json:"intent"`
				PurchaseUnits []struct {
					Amount struct {
						CurrencyCode string `json:"currency_code"`
						Value        string `json:"value"`
					} `json:"amount"`
					CustomId string `json:"custom_id"`
				} `json:"purchase_units"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "CAPTURE", payload.Intent)
			assert.Equal(t, "5.00", payload.PurchaseUnits[0].Amount.Value)
			assert.Equal(t, "k1", payload.PurchaseUnits[0].CustomId)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "ORDER-1",
				"links": []map[string]string{
					{"rel": "self", "href": "https://example/self"},
					{"rel": "approve", "href": "https://example/approve"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	result, err := c.CreateOrder(context.Background(), payment.CreateOrderRequest{
		Amount:        decimal.NewFromFloat(5.00),
		Currency:      "USD",
		Description:   "Donation one_time",
		CorrelationId: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", result.OrderId)
	assert.Equal(t, "https://example/approve", result.ApprovalURL)

	// 令牌缓存：第二次调用不再请求令牌
	_, err = c.CreateOrder(context.Background(), payment.CreateOrderRequest{
		Amount:   decimal.NewFromInt(1),
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, 2, createCalls)
}

func TestConfirmOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "token-1", "expires_in": 3600})
		case "/v2/checkout/orders/ORDER-1/capture":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":     "ORDER-1",
				"status": "COMPLETED",
				"purchase_units": []map[string]interface{}{
					{"payments": map[string]interface{}{
						"captures": []map[string]string{{"id": "CAP-1", "status": "COMPLETED"}},
					}},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	result, err := c.ConfirmOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Equal(t, "CAP-1", result.CaptureId)
}

func TestParseWebhookEventCaptureCompleted(t *testing.T) {
	c := New(config.PayPalConfig{})

	raw := []byte(`{
		"id": "WH-EVT-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-1",
			"supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
		}
	}`)

	event, err := c.ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, payment.EventCaptureCompleted, event.Kind)
	assert.Equal(t, "ORDER-1", event.OrderId)
	assert.Equal(t, "CAP-1", event.CaptureId)
}

func TestParseWebhookEventRefunded(t *testing.T) {
	c := New(config.PayPalConfig{})

	raw := []byte(`{
		"id": "WH-EVT-2",
		"event_type": "PAYMENT.CAPTURE.REFUNDED",
		"resource": {"id": "CAP-1"}
	}`)

	event, err := c.ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, payment.EventRefunded, event.Kind)
	assert.Equal(t, "CAP-1", event.CaptureId)
}

func TestParseWebhookEventUnknownTypeIgnored(t *testing.T) {
	c := New(config.PayPalConfig{})

	raw := []byte(`{"id": "WH-EVT-3", "event_type": "BILLING.PLAN.CREATED", "resource": {}}`)

	event, err := c.ParseWebhookEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, payment.EventIgnored, event.Kind)
}

func TestVerifyWebhookSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "token-1", "expires_in": 3600})
		case "/v1/notifications/verify-webhook-signature":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "WH-1", payload["webhook_id"])
			assert.Equal(t, "tid-1", payload["transmission_id"])
			json.NewEncoder(w).Encode(map[string]string{"verification_status": "SUCCESS"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tid-1")
	headers.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	headers.Set("Paypal-Cert-Url", "https://example/cert")
	headers.Set("Paypal-Auth-Algo", "SHA256withRSA")
	headers.Set("Paypal-Transmission-Sig", "sig")

	ok, err := c.VerifyWebhookSignature(context.Background(), headers, []byte(`{"id":"WH-EVT-1"}`))
	require.NoError(t, err)
	assert.True(t, ok)
}
