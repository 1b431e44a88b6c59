package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "KURASHI_CONFIG"

// DefaultPath 是未指定路径时使用的配置文件。
const DefaultPath = "configs/kurashi.yaml"

// Config 描述了 kurashid 在启动阶段需要加载的核心配置。
type Config struct {
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Agents   AgentsConfig   `yaml:"agents"`
	Discord  DiscordConfig  `yaml:"discord"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Alerting AlertingConfig `yaml:"alerting"`

	path string
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir  string `yaml:"data_dir"`
	Timezone string `yaml:"timezone"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"`
	Outputs    []string `yaml:"outputs"`
	AddSource  bool     `yaml:"add_source"`
	AuditPath  string   `yaml:"audit_path"`
	MaxSizeMB  int      `yaml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups"`
	MaxAgeDays int      `yaml:"max_age_days"`
}

// StorageConfig 描述记录库与任务库。
type StorageConfig struct {
	// Database 是智能体记录所在的 SQLite 文件。
	Database string         `yaml:"database"`
	Jobs     JobStoreConfig `yaml:"jobs"`
}

// JobStoreConfig 选择任务状态的存储后端：memory、sqlite 或 mysql。
type JobStoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

// QueueConfig 选择任务队列：memory、redis、rabbitmq 或 nats。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	NATS     NATSConfig     `yaml:"nats"`
}

// RedisConfig 描述 Redis 列表队列。
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`
}

// RabbitMQConfig 描述 AMQP 队列。
type RabbitMQConfig struct {
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`
	Queue  string `yaml:"queue"`
}

// NATSConfig 描述 NATS 主题与队列组。
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Group   string `yaml:"group"`
}

// DispatchConfig 控制任务处理。
type DispatchConfig struct {
	Workers     int           `yaml:"workers"`
	MaxRetries  int           `yaml:"max_retries"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// AgentsConfig 控制智能体注册与路由。
type AgentsConfig struct {
	Definitions   string            `yaml:"definitions"`
	DefaultAgent  string            `yaml:"default"`
	ChannelRoutes map[string]string `yaml:"channel_routes"`
	Disabled      []string          `yaml:"disabled"`
	Watch         bool              `yaml:"watch"`
}

// DiscordConfig 描述 Discord 机器人。
type DiscordConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Token           string   `yaml:"token"`
	TokenEnv        string   `yaml:"token_env"`
	GuildID         string   `yaml:"guild_id"`
	Channels        []string `yaml:"channels"`
	MentionChannels []string `yaml:"mention_channels"`
	AllowDM         bool     `yaml:"allow_dm"`
	// RatePerMinute 是每个用户每分钟允许的消息数。
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// APIConfig 控制 HTTP API。
type APIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
}

// MetricsConfig 控制独立的指标端口；为空时指标挂在 API 上。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	DiscordWebhook    string `yaml:"discord_webhook"`
	DiscordWebhookEnv string `yaml:"discord_webhook_env"`
	MinSeverity       string `yaml:"min_severity"`
}

// ResolvePath 按 参数 > KURASHI_CONFIG > 默认值 的顺序确定配置文件路径。
func ResolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。配置目录下的 .env 会先被加载，
// 已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	baseDir := filepath.Dir(path)
	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(content, baseDir)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse 解析 YAML 内容并应用默认值与环境变量覆盖。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path 返回配置文件路径。
func (c *Config) Path() string {
	return c.path
}

// Location 返回配置的时区。
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Runtime.Timezone)
	if err != nil {
		return nil, fmt.Errorf("无效的时区 %q: %w", c.Runtime.Timezone, err)
	}
	return loc, nil
}

// Validate 检查枚举字段。
func (c *Config) Validate() error {
	switch c.Storage.Jobs.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("不支持的任务存储驱动: %s", c.Storage.Jobs.Driver)
	}
	if c.Storage.Jobs.Driver == "mysql" && c.Storage.Jobs.DSN == "" {
		return errors.New("mysql 任务存储需要 dsn")
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq", "nats":
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}
	if c.Queue.Driver == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return errors.New("rabbitmq 队列需要 url")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("已启用 Discord，但未设置令牌（环境变量 %s）", c.Discord.TokenEnv)
	}
	return nil
}

func loadDotEnv(baseDir string) error {
	for _, candidate := range []string{filepath.Join(baseDir, ".env"), ".env"} {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", candidate, err)
		}
	}
	return nil
}

// applyEnv 用环境变量覆盖敏感或常调的字段。
func (c *Config) applyEnv() {
	if c.Discord.TokenEnv == "" {
		c.Discord.TokenEnv = "DISCORD_BOT_TOKEN"
	}
	if c.API.TokenEnv == "" {
		c.API.TokenEnv = "KURASHI_API_TOKEN"
	}
	if c.Alerting.DiscordWebhookEnv == "" {
		c.Alerting.DiscordWebhookEnv = "KURASHI_ALERT_WEBHOOK"
	}
	overrideFromEnv(&c.Discord.Token, c.Discord.TokenEnv)
	overrideFromEnv(&c.API.Token, c.API.TokenEnv)
	overrideFromEnv(&c.Alerting.DiscordWebhook, c.Alerting.DiscordWebhookEnv)
	overrideFromEnv(&c.Storage.Jobs.DSN, c.Storage.Jobs.DSNEnv)
	overrideFromEnv(&c.Queue.Redis.Password, c.Queue.Redis.PasswordEnv)
	overrideFromEnv(&c.Queue.RabbitMQ.URL, c.Queue.RabbitMQ.URLEnv)
	overrideFromEnv(&c.Logging.Level, "KURASHI_LOG_LEVEL")
	overrideFromEnv(&c.Runtime.Timezone, "KURASHI_TIMEZONE")
	if v := strings.TrimSpace(os.Getenv("KURASHI_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.Workers = n
		}
	}
}

func overrideFromEnv(target *string, key string) {
	if key == "" {
		return
	}
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	if c.Runtime.Timezone == "" {
		c.Runtime.Timezone = "Asia/Tokyo"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.AuditPath != "" && !filepath.IsAbs(c.Logging.AuditPath) {
		c.Logging.AuditPath = filepath.Join(c.Runtime.DataDir, c.Logging.AuditPath)
	}

	if c.Storage.Database == "" {
		c.Storage.Database = filepath.Join(c.Runtime.DataDir, "kurashi.db")
	} else if !filepath.IsAbs(c.Storage.Database) {
		c.Storage.Database = filepath.Join(baseDir, c.Storage.Database)
	}
	if c.Storage.Jobs.Driver == "" {
		c.Storage.Jobs.Driver = "sqlite"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Queue.Redis.Addr == "" {
		c.Queue.Redis.Addr = "localhost:6379"
	}
	if c.Queue.NATS.URL == "" {
		c.Queue.NATS.URL = "nats://127.0.0.1:4222"
	}

	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 2
	}
	if c.Dispatch.MaxRetries <= 0 {
		c.Dispatch.MaxRetries = 3
	}
	if c.Dispatch.WaitTimeout <= 0 {
		c.Dispatch.WaitTimeout = 30 * time.Second
	}

	if c.Agents.Definitions != "" && !filepath.IsAbs(c.Agents.Definitions) {
		c.Agents.Definitions = filepath.Join(baseDir, c.Agents.Definitions)
	}

	if c.Discord.RatePerMinute <= 0 {
		c.Discord.RatePerMinute = 20
	}
	if c.Discord.Burst <= 0 {
		c.Discord.Burst = 5
	}

	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "critical"
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
