package logic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/blues/dss/internal/cache"
	"github.com/blues/dss/internal/config"
	"github.com/blues/dss/internal/logger"
	"github.com/blues/dss/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const campaignCacheKey = "donation:campaigns"

// CampaignLogic 募捐活动进度逻辑
type CampaignLogic struct {
	db    *gorm.DB
	cache cache.Store
	cfg   config.DonationConfig
}

// NewCampaignLogic 创建募捐活动逻辑
func NewCampaignLogic(db *gorm.DB, cacheStore cache.Store, cfg config.DonationConfig) *CampaignLogic {
	return &CampaignLogic{db: db, cache: cacheStore, cfg: cfg}
}

// GetCampaigns 获取活动列表及进度
//
// 进度为已完成赞助金额的聚合，结果短时间缓存。
func (c *CampaignLogic) GetCampaigns(ctx context.Context) ([]model.CampaignProgress, error) {
	if cached, ok, err := c.cache.Get(ctx, campaignCacheKey); err == nil && ok {
		var result []model.CampaignProgress
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return result, nil
		}
	} else if err != nil {
		logger.Warn("Campaign cache read failed: %v", err)
	}

	campaigns, err := c.loadCampaigns()
	if err != nil {
		return nil, err
	}

	result := make([]model.CampaignProgress, 0, len(campaigns))
	for _, campaign := range campaigns {
		var total decimal.Decimal
		err := c.db.Model(&model.SponsorshipModel{}).
			Where("target_identifier = ? AND status = ?", campaign.Id, model.SponsorshipStatusCompleted).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&total).Error
		if err != nil {
			return nil, fmt.Errorf("聚合活动金额失败: %w", err)
		}

		target, _ := decimal.NewFromString(campaign.TargetAmount)
		percent := 0
		if target.IsPositive() {
			percent = int(total.Div(target).Mul(decimal.NewFromInt(100)).IntPart())
			if percent > 100 {
				percent = 100
			}
		}

		result = append(result, model.CampaignProgress{
			Campaign:        campaign,
			CollectedAmount: total.StringFixed(2),
			PercentComplete: percent,
		})
	}

	if data, err := json.Marshal(result); err == nil {
		ttl := time.Duration(c.cfg.CacheTTL) * time.Second
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		if err := c.cache.Set(ctx, campaignCacheKey, string(data), ttl); err != nil {
			logger.Warn("Campaign cache write failed: %v", err)
		}
	}

	return result, nil
}

// loadCampaigns 读取活动配置文件
func (c *CampaignLogic) loadCampaigns() ([]model.Campaign, error) {
	data, err := os.ReadFile(c.cfg.CampaignsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取活动配置失败: %w", err)
	}

	var file struct {
		Campaigns []model.Campaign `json:"campaigns"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析活动配置失败: %w", err)
	}
	return file.Campaigns, nil
}
