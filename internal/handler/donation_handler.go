package handler

import (
	"errors"
	"net/http"

	"github.com/blues/dss/internal/logic"
	"github.com/gin-gonic/gin"
)

// DonationHandler 捐赠处理器
type DonationHandler struct {
	donationLogic *logic.DonationLogic
	campaignLogic *logic.CampaignLogic
}

// NewDonationHandler 创建捐赠处理器
func NewDonationHandler(donationLogic *logic.DonationLogic, campaignLogic *logic.CampaignLogic) *DonationHandler {
	return &DonationHandler{
		donationLogic: donationLogic,
		campaignLogic: campaignLogic,
	}
}

// CreateDonation 创建捐赠订单
//
// 调用方身份由上游认证层解析后通过请求头传入。
func (h *DonationHandler) CreateDonation(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	userId := c.GetHeader("X-User-Id")
	if userId == "" {
		userId = "anonymous"
	}

	input := &logic.CreateDonationInput{
		UserId:           userId,
		UserEmail:        c.GetHeader("X-User-Email"),
		SponsorType:      req.SponsorType,
		TargetIdentifier: req.TargetIdentifier,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Message:          req.Message,
		IdempotencyKey:   req.IdempotencyKey,
		Provider:         req.Provider,
	}

	result, err := h.donationLogic.CreateDonation(c.Request.Context(), input)
	if err != nil {
		// 状态不明确时提示调用方重新查询而不是重新提交
		if errors.Is(err, logic.ErrReservationTimeout) {
			ErrorResponse(c, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, logic.ErrValidation) {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	OkResponse(c, http.StatusOK, gin.H{
		"sponsorship_id": result.SponsorshipId,
		"order_id":       result.OrderId,
		"approval_url":   result.ApprovalURL,
		"existing":       result.Existing,
	})
}

// ConfirmDonation 同步确认捐赠支付结果
func (h *DonationHandler) ConfirmDonation(c *gin.Context) {
	var req ConfirmDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderId == "" {
		ErrorResponse(c, http.StatusBadRequest, "缺少订单ID")
		return
	}

	result, err := h.donationLogic.ConfirmDonation(c.Request.Context(), req.OrderId)
	if err != nil {
		if errors.Is(err, logic.ErrOrderNotFound) {
			ErrorResponse(c, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, logic.ErrOrderNotPaid) {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	if !result.Updated {
		// 重放确认：此前已结算，本次为空操作
		WarningResponse(c, http.StatusOK, "订单已结算", gin.H{
			"sponsorship_id": result.SponsorshipId,
			"capture_id":     result.CaptureId,
		})
		return
	}

	OkResponse(c, http.StatusOK, gin.H{
		"sponsorship_id": result.SponsorshipId,
		"capture_id":     result.CaptureId,
	})
}

// GetCampaigns 获取募捐活动列表及进度
func (h *DonationHandler) GetCampaigns(c *gin.Context) {
	campaigns, err := h.campaignLogic.GetCampaigns(c.Request.Context())
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	OkResponse(c, http.StatusOK, gin.H{"campaigns": campaigns})
}
