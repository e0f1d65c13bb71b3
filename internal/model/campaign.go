package model

// Campaign 募捐活动（来自配置文件，非数据库表）
type Campaign struct {
	Id           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	TargetAmount string `json:"target_amount_usd"`
}

// CampaignProgress 募捐活动进度
type CampaignProgress struct {
	Campaign
	CollectedAmount string `json:"collected_usd"`
	PercentComplete int    `json:"percent_complete"`
}
