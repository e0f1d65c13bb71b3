package config

import (
	"github.com/blues/dss/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PayPal    PayPalConfig    `mapstructure:"paypal"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Donation  DonationConfig  `mapstructure:"donation"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // 为空时使用内存缓存
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PayPalConfig PayPal 配置
type PayPalConfig struct {
	ClientId     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Mode         string `mapstructure:"mode"`       // sandbox 或 live
	WebhookId    string `mapstructure:"webhook_id"` // 回调签名校验用
}

// StripeConfig Stripe 配置
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// DonationConfig 捐赠业务配置
type DonationConfig struct {
	MinAmount         float64 `mapstructure:"min_amount"`          // 最小金额（美元）
	MaxAmount         float64 `mapstructure:"max_amount"`          // 最大金额（美元）
	FrontendURL       string  `mapstructure:"frontend_url"`        // 支付完成后跳转地址
	CampaignsFile     string  `mapstructure:"campaigns_file"`      // 活动配置文件路径
	PollRetries       int     `mapstructure:"poll_retries"`        // 预留失败后轮询次数
	PollIntervalMs    int     `mapstructure:"poll_interval_ms"`    // 轮询间隔（毫秒）
	ReserveStaleAfter int     `mapstructure:"reserve_stale_after"` // 预留过期秒数，超过后允许重试网关调用
	CacheTTL          int     `mapstructure:"cache_ttl"`           // 活动进度缓存秒数
}

type SchedulerConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // 秒
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/dss")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "donation")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("paypal.mode", "sandbox")
	viper.SetDefault("donation.min_amount", 1.0)
	viper.SetDefault("donation.max_amount", 10000.0)
	viper.SetDefault("donation.frontend_url", "http://localhost:8000")
	viper.SetDefault("donation.campaigns_file", "config/donation_campaigns.json")
	viper.SetDefault("donation.poll_retries", 10)
	viper.SetDefault("donation.poll_interval_ms", 50)
	viper.SetDefault("donation.reserve_stale_after", 30)
	viper.SetDefault("donation.cache_ttl", 30)
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval", 300)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
