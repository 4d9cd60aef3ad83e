// internal/service/config.go
package service

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config 存储整个采集进程的配置
type Config struct {
	Feed      FeedConfig      `mapstructure:"Feed"`
	Market    MarketConfig    `mapstructure:"Market"`
	Directory DirectoryConfig `mapstructure:"Directory"`
	Sink      SinkConfig      `mapstructure:"Sink"`
	Server    ServerConfig    `mapstructure:"Server"`
}

// FeedConfig 定义了行情源的连接与订阅信息
type FeedConfig struct {
	APIKey            string
	SecretKey         string
	SessionToken      string // 静态兜底 token（优先级低于 override 文件）
	TokenFilePath     string // 运维热更新的 override token 文件路径
	WSURL             string
	Interval          string // 行情周期枚举: 1second / 1minute / 5minute / 30minute
	SubscriptionTmpl  string // 订阅模板前缀，例如 "4.1!"
	BatchSize         int
	BatchDelayMs      int
	ConnectTimeoutSec int
}

// MarketConfig 定义了交易时段与休市日历
type MarketConfig struct {
	Timezone    string
	PrepStart   string // 盘前准备开始 "HH:MM"
	Open        string // 开盘 "HH:MM"
	Close       string // 收盘 "HH:MM"
	CaptureEnd  string // 尾盘采集结束 "HH:MM"
	Holidays    []string
	PollSeconds int
}

// DirectoryConfig 定义了证券主文件的下载与缓存参数
type DirectoryConfig struct {
	MasterURL      string
	MasterFileName string
	CacheDir       string
	CacheTTLHours  int
}

// SinkConfig 定义了下游推送目标
type SinkConfig struct {
	IngestURL     string
	MaxRetries    int
	TimeoutSec    int
	RedisAddr     string // 留空表示不启用 Redis 扇出
	RedisPassword string
	RedisDB       int
	RedisTTLSec   int
}

// ServerConfig 定义了运维接口的监听地址
type ServerConfig struct {
	ListenAddr string
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

// LoadConfig 读取并解析配置：先读 config/config.yaml（可选），再用环境变量覆盖
func LoadConfig(configPath string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)

	setDefaults()
	bindEnvKeys()
	viper.AutomaticEnv()

	// 配置文件缺失时仅依赖默认值和环境变量
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode config into struct: %s", err)
	}

	// 环境变量里的休市日是逗号分隔的单个字符串，拆开
	GlobalConfig.Market.Holidays = splitHolidays(GlobalConfig.Market.Holidays)

	if err := Validate(&GlobalConfig); err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}

	return &GlobalConfig
}

// Validate 在任何连接尝试之前做启动期校验，失败即进程级失败
func Validate(cfg *Config) error {
	if cfg.Feed.APIKey == "" || cfg.Feed.SecretKey == "" {
		return fmt.Errorf("feed api key/secret must be set")
	}
	if cfg.Feed.WSURL == "" {
		return fmt.Errorf("feed ws url must be set")
	}
	if _, err := IntervalDuration(cfg.Feed.Interval); err != nil {
		return err
	}
	if cfg.Feed.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if cfg.Directory.MasterURL == "" {
		return fmt.Errorf("directory master url must be set")
	}
	if cfg.Sink.IngestURL == "" {
		return fmt.Errorf("sink ingest url must be set")
	}
	return nil
}

func splitHolidays(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, day := range strings.Split(entry, ",") {
			if day = strings.TrimSpace(day); day != "" {
				out = append(out, day)
			}
		}
	}
	return out
}

func setDefaults() {
	viper.SetDefault("Feed.APIKey", "")
	viper.SetDefault("Feed.SecretKey", "")
	viper.SetDefault("Feed.SessionToken", "")
	viper.SetDefault("Feed.TokenFilePath", "./session_token.txt")
	viper.SetDefault("Feed.WSURL", "")
	viper.SetDefault("Feed.Interval", "1minute")
	viper.SetDefault("Feed.SubscriptionTmpl", "4.1!")
	viper.SetDefault("Feed.BatchSize", 1000)
	viper.SetDefault("Feed.BatchDelayMs", 200)
	viper.SetDefault("Feed.ConnectTimeoutSec", 15)

	viper.SetDefault("Market.Timezone", "Asia/Kolkata")
	viper.SetDefault("Market.PrepStart", "09:00")
	viper.SetDefault("Market.Open", "09:15")
	viper.SetDefault("Market.Close", "15:30")
	viper.SetDefault("Market.CaptureEnd", "15:45")
	viper.SetDefault("Market.Holidays", []string{})
	viper.SetDefault("Market.PollSeconds", 15)

	viper.SetDefault("Directory.MasterURL", "")
	viper.SetDefault("Directory.MasterFileName", "NSEScripMaster.txt")
	viper.SetDefault("Directory.CacheDir", "./cache")
	viper.SetDefault("Directory.CacheTTLHours", 23)

	viper.SetDefault("Sink.IngestURL", "")
	viper.SetDefault("Sink.MaxRetries", 3)
	viper.SetDefault("Sink.TimeoutSec", 5)
	viper.SetDefault("Sink.RedisAddr", "")
	viper.SetDefault("Sink.RedisPassword", "")
	viper.SetDefault("Sink.RedisDB", 0)
	viper.SetDefault("Sink.RedisTTLSec", 90)

	viper.SetDefault("Server.ListenAddr", ":8088")
}

// bindEnvKeys 保留旧版采集脚本的环境变量名，方便平滑迁移
func bindEnvKeys() {
	viper.BindEnv("Feed.APIKey", "BREEZE_API_KEY")
	viper.BindEnv("Feed.SecretKey", "BREEZE_SECRET_KEY")
	viper.BindEnv("Feed.SessionToken", "BREEZE_SESSION_TOKEN")
	viper.BindEnv("Feed.TokenFilePath", "BREEZE_TOKEN_FILE")
	viper.BindEnv("Feed.WSURL", "BREEZE_WS_URL")
	viper.BindEnv("Feed.Interval", "BREEZE_INTERVAL")
	viper.BindEnv("Feed.SubscriptionTmpl", "BREEZE_SUBSCRIPTION_TEMPLATE")
	viper.BindEnv("Feed.BatchSize", "BREEZE_BATCH_SIZE")
	viper.BindEnv("Feed.BatchDelayMs", "BREEZE_BATCH_DELAY_MS")
	viper.BindEnv("Feed.ConnectTimeoutSec", "BREEZE_CONNECT_TIMEOUT_S")
	viper.BindEnv("Market.Holidays", "MARKET_HOLIDAYS")
	viper.BindEnv("Directory.MasterURL", "BREEZE_MASTER_URL")
	viper.BindEnv("Directory.CacheTTLHours", "CACHE_LIFETIME_HOURS")
	viper.BindEnv("Sink.IngestURL", "INGEST_URL")
	viper.BindEnv("Sink.RedisAddr", "REDIS_ADDR")
	viper.BindEnv("Server.ListenAddr", "SERVER_LISTEN_ADDR")
}
