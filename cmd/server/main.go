package main

import (
	"log"

	"github.com/blues/dss/internal/cache"
	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/database"
	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/model"
	"github.com/blues/dss/internal/payment"
	"github.com/blues/dss/internal/payment/paypal"
	"github.com/blues/dss/internal/payment/stripe"
	"github.com/blues/dss/internal/router"
	"github.com/blues/dss/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	level := logger.ParseLogLevel(cfg.Log.Level)
	if cfg.Log.Output == "file" {
		l, err := logger.NewWithFileRotation(level, cfg.Log.File)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		logger.SetDefaultLogger(l)
	}

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化缓存
	cacheStore := cache.New(cfg.Redis)

	// 初始化支付网关
	gateways := payment.Registry{
		model.ProviderPayPal: paypal.New(cfg.PayPal),
		model.ProviderStripe: stripe.New(cfg.Stripe, cfg.Donation.FrontendURL),
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(db, gateways, cacheStore, cfg)

	// 启动定时任务
	if cfg.Scheduler.Enabled {
		scheduler.Start(db, gateways, cfg)
	}

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
