package router

import (
	"github.com/blues/dss/internal/cache"
	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/handler"
	"github.com/blues/dss/internal/logic"
	"github.com/blues/dss/internal/payment"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, gateways payment.Registry, cacheStore cache.Store, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "donation-service",
		})
	})

	donationLogic := logic.NewDonationLogic(db, gateways, cfg.Donation)
	campaignLogic := logic.NewCampaignLogic(db, cacheStore, cfg.Donation)
	reconcileLogic := logic.NewReconcileLogic(db)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		donationHandler := handler.NewDonationHandler(donationLogic, campaignLogic)
		donations := v1.Group("/donations")
		{
			donations.POST("/create", donationHandler.CreateDonation)
			donations.POST("/confirm", donationHandler.ConfirmDonation)
			donations.GET("/campaigns", donationHandler.GetCampaigns)
		}
	}

	// 提供商回调入口
	webhookHandler := handler.NewWebhookHandler(gateways, reconcileLogic)
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/paypal", webhookHandler.HandlePayPal)
		webhooks.POST("/stripe", webhookHandler.HandleStripe)
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
