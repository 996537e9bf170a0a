package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Postgres PostgresConfig `mapstructure:"postgres"` // PostgreSQL配置
	Merge    MergeConfig    `mapstructure:"merge"`    // 组队合并配置
	Tracks   []TrackConfig  `mapstructure:"tracks"`   // 赛道容量表（外部配置，本引擎只读）
	Notify   NotifyConfig   `mapstructure:"notify"`   // 通知投递配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// PostgresConfig PostgreSQL数据库配置
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// MergeConfig 组队合并配置
type MergeConfig struct {
	TargetTeamSize int           `mapstructure:"target_team_size"` // 合并目标队伍规模（默认4）
	TokenSecret    string        `mapstructure:"token_secret"`     // 入池令牌签名密钥（建议从.env覆盖）
	TokenMaxAge    time.Duration `mapstructure:"token_max_age"`    // 令牌最大有效期（默认7天）
	InviteDeadline string        `mapstructure:"invite_deadline"`  // 邀请通知中展示的截止时间
	AcceptURLBase  string        `mapstructure:"accept_url_base"`  // 确认链接前缀，token 追加在末尾
	Cron           string        `mapstructure:"cron"`             // 撮合调度Cron表达式（由外部调度器读取）
}

// TrackConfig 单个赛道配置。Capacity 为空表示不限容量
type TrackConfig struct {
	Code             string `mapstructure:"code"`              // 赛道标识
	Label            string `mapstructure:"label"`             // 展示名称
	Capacity         *int   `mapstructure:"capacity"`          // 最大队伍数（nil=不限）
	Open             bool   `mapstructure:"open"`              // 是否开放报名志愿
	OverflowEligible bool   `mapstructure:"overflow_eligible"` // 是否参与超员再平衡（赞助商限额赛道）
}

// NotifyConfig 通知投递配置
type NotifyConfig struct {
	Mode         string `mapstructure:"mode"`          // 投递方式：log/webhook
	WebhookURL   string `mapstructure:"webhook_url"`   // webhook模式下的投递地址
	Timeout      int    `mapstructure:"timeout"`       // 请求超时（秒）
	RetryCount   int    `mapstructure:"retry_count"`   // 投递重试次数
	ContactEmail string `mapstructure:"contact_email"` // 通知正文中的联系邮箱
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("MERGE_TOKEN_SECRET"); v != "" {
		cfg.Merge.TokenSecret = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

// applyDefaults 合并关键参数兜底，避免 yaml 缺项导致规则退化
func applyDefaults(cfg *Config) {
	if cfg.Merge.TargetTeamSize <= 0 {
		cfg.Merge.TargetTeamSize = 4
	}
	if cfg.Merge.TokenMaxAge <= 0 {
		cfg.Merge.TokenMaxAge = 7 * 24 * time.Hour
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = "log"
	}
}

// TrackLabels 赛道标识 -> 展示名称
func (c *Config) TrackLabels() map[string]string {
	labels := make(map[string]string, len(c.Tracks))
	for _, t := range c.Tracks {
		labels[t.Code] = t.Label
	}
	return labels
}

// TrackCapacities 赛道标识 -> 容量（nil=不限）
func (c *Config) TrackCapacities() map[string]*int {
	caps := make(map[string]*int, len(c.Tracks))
	for _, t := range c.Tracks {
		caps[t.Code] = t.Capacity
	}
	return caps
}

// OpenTrackCount 当前开放的赛道数，决定必填志愿数 min(3, open)
func (c *Config) OpenTrackCount() int {
	n := 0
	for _, t := range c.Tracks {
		if t.Open {
			n++
		}
	}
	return n
}

// OverflowEligibleSet 参与超员再平衡的赛道集合
func (c *Config) OverflowEligibleSet() map[string]bool {
	set := make(map[string]bool)
	for _, t := range c.Tracks {
		if t.OverflowEligible {
			set[t.Code] = true
		}
	}
	return set
}
