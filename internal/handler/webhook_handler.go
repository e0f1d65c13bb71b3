package handler

import (
	"io"
	"net/http"

	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/logic"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"github.com/gin-gonic/gin"
)

// WebhookHandler 支付提供商回调处理器
type WebhookHandler struct {
	gateways  payment.Registry
	reconcile *logic.ReconcileLogic
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(gateways payment.Registry, reconcile *logic.ReconcileLogic) *WebhookHandler {
	return &WebhookHandler{
		gateways:  gateways,
		reconcile: reconcile,
	}
}

// HandlePayPal PayPal 回调入口
func (h *WebhookHandler) HandlePayPal(c *gin.Context) {
	h.handle(c, model.ProviderPayPal)
}

// HandleStripe Stripe 回调入口
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	h.handle(c, model.ProviderStripe)
}

// handle 处理一次回调投递
//
// 签名校验必须基于解析前的原始报文字节。验签失败拒绝且不产生任何写入。
// 验签通过后的处理错误返回 5xx，让提供商按自身策略重试投递——
// 条件写保证重试是安全的。
func (h *WebhookHandler) handle(c *gin.Context, provider string) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "读取请求体失败")
		return
	}

	gateway, err := h.gateways.Get(provider)
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, err.Error())
		return
	}

	verified, err := gateway.VerifyWebhookSignature(c.Request.Context(), c.Request.Header, raw)
	if err != nil {
		logger.Error("%s webhook verification error: %v", provider, err)
		ErrorResponse(c, http.StatusInternalServerError, "签名校验失败")
		return
	}
	if !verified {
		logger.Warn("%s webhook verification failed", provider)
		ErrorResponse(c, http.StatusBadRequest, "Invalid signature")
		return
	}

	event, err := gateway.ParseWebhookEvent(raw)
	if err != nil {
		logger.Error("%s webhook parse error: %v", provider, err)
		ErrorResponse(c, http.StatusBadRequest, "无法解析回调事件")
		return
	}

	matched, err := h.reconcile.ApplyEvent(provider, event)
	if err != nil {
		logger.Error("%s webhook apply error for event %s: %v", provider, event.Id, err)
		ErrorResponse(c, http.StatusInternalServerError, "处理回调事件失败")
		return
	}

	// 未匹配到记录的事件接受并忽略，不是错误
	if !matched {
		logger.Info("%s webhook event %s (%s) did not match any sponsorship", provider, event.Id, event.Type)
	}
	h.reconcile.RecordEvent(provider, event, matched)

	OkResponse(c, http.StatusOK, nil)
}
