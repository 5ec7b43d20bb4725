package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 在 YAML 中以 "30s"、"1h" 的形式书写。
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("非法的时长 %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 返回标准库的 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 描述了 ChainFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Events   EventsConfig   `yaml:"events"`
	Runner   RunnerConfig   `yaml:"runner"`
	Chains   ChainsConfig   `yaml:"chains"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Actions  []ActionSpec   `yaml:"actions"`
	Alerting AlertingConfig `yaml:"alerting"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig 统一描述任务存储后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `yaml:"task_store"`
}

// TaskStoreConfig 支持内存与 MySQL 两种驱动。
type TaskStoreConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// ScoringConfig 描述机会评分数据源。
type ScoringConfig struct {
	Provider string            `yaml:"provider"`
	Redis    RedisFeedSettings `yaml:"redis"`
	// Static 仅用于本地联调：固定的各链评分。
	Static []StaticScore `yaml:"static"`
	// MaxScoreAge 超过该时长的评分快照视为过期。
	MaxScoreAge Duration   `yaml:"max_score_age"`
	Gate        GateConfig `yaml:"gate"`
}

// StaticScore 是一条固定的链评分。
type StaticScore struct {
	ChainID string  `yaml:"chain_id"`
	Score   float64 `yaml:"score"`
}

// RedisFeedSettings 配置基于 Redis 的评分快照源。
type RedisFeedSettings struct {
	Address         string   `yaml:"address"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	KeyPrefix       string   `yaml:"key_prefix"`
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// GateConfig 配置再平衡迟滞：评分变化低于 MinDelta 或距上次执行
// 不足 Cooldown 时不触发新的链上动作。
type GateConfig struct {
	MinDelta float64  `yaml:"min_delta"`
	Cooldown Duration `yaml:"cooldown"`
}

// EventsConfig 描述任务生命周期事件的投递方式。
type EventsConfig struct {
	Provider string           `yaml:"provider"`
	RabbitMQ RabbitMQSettings `yaml:"rabbitmq"`
}

// RabbitMQSettings 配置 RabbitMQ 事件队列。
type RabbitMQSettings struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// RunnerConfig 控制调度循环的节奏。
type RunnerConfig struct {
	Interval      Duration `yaml:"interval"`
	UpdateTimeout Duration `yaml:"update_timeout"`
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig 描述跨链组合服务的接入信息。API Key 从环境变量
// 读取，避免落盘。
type BridgeConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Timeout   Duration `yaml:"timeout"`
}

// ActionSpec 声明一个要注册到调度器的动作实例。
type ActionSpec struct {
	Type string `yaml:"type"`
	// Chain 是单链动作的目标链；跨链动作使用 FromChain/ToChain。
	Chain     string `yaml:"chain"`
	FromChain string `yaml:"from_chain"`
	ToChain   string `yaml:"to_chain"`
	Asset     string `yaml:"asset"`
	FromAsset string `yaml:"from_asset"`
	ToAsset   string `yaml:"to_asset"`
	// Amount 是十进制 wei 金额。
	Amount string `yaml:"amount"`
	// Interval 仅用于 vault-sync。
	Interval Duration `yaml:"interval"`
	// Threshold 是评分阈值；MinSpread 仅用于 bridge。
	Threshold float64 `yaml:"threshold"`
	MinSpread float64 `yaml:"min_spread"`
}

// AlertingConfig 配置任务异常的告警渠道。webhook 地址含密钥，
// 一律从环境变量读取。
type AlertingConfig struct {
	DingTalkWebhookEnv string `yaml:"dingtalk_webhook_env"`
	SlackWebhookEnv    string `yaml:"slack_webhook_env"`
	SlackChannel       string `yaml:"slack_channel"`
}

// LoggingConfig 控制结构化日志与审计日志。
type LoggingConfig struct {
	Level string      `yaml:"level"`
	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志落盘。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// 支持的枚举取值。
const (
	TaskStoreMemory = "memory"
	TaskStoreMySQL  = "mysql"

	ScoringStatic = "static"
	ScoringRedis  = "redis"

	EventsNone     = "none"
	EventsRabbitMQ = "rabbitmq"
)

// Load 解析指定路径的 YAML 配置文件并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = TaskStoreMemory
	}

	if c.Scoring.Provider == "" {
		c.Scoring.Provider = ScoringStatic
	}
	if c.Scoring.MaxScoreAge <= 0 {
		c.Scoring.MaxScoreAge = Duration(5 * time.Minute)
	}

	if c.Events.Provider == "" {
		c.Events.Provider = EventsNone
	}

	if c.Runner.Interval <= 0 {
		c.Runner.Interval = Duration(30 * time.Second)
	}

	if c.Chains.Path != "" && !filepath.IsAbs(c.Chains.Path) {
		c.Chains.Path = filepath.Join(baseDir, c.Chains.Path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate 检查启动所需的关键字段。校验失败视为致命错误，
// 进程不应带着残缺配置进入调度循环。
func (c *Config) validate() error {
	switch c.Storage.TaskStore.Driver {
	case TaskStoreMemory:
	case TaskStoreMySQL:
		if c.Storage.TaskStore.DSN == "" {
			return errors.New("task_store.driver 为 mysql 时必须提供 dsn")
		}
	default:
		return fmt.Errorf("不支持的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}

	switch c.Scoring.Provider {
	case ScoringStatic:
	case ScoringRedis:
		if c.Scoring.Redis.Address == "" {
			return errors.New("scoring.provider 为 redis 时必须提供 address")
		}
	default:
		return fmt.Errorf("不支持的评分数据源: %s", c.Scoring.Provider)
	}

	switch c.Events.Provider {
	case EventsNone:
	case EventsRabbitMQ:
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.provider 为 rabbitmq 时必须提供 url")
		}
	default:
		return fmt.Errorf("不支持的事件投递方式: %s", c.Events.Provider)
	}

	if len(c.Actions) == 0 {
		return errors.New("至少需要配置一个动作")
	}
	if c.Chains.Path == "" {
		return errors.New("缺少链定义文件路径")
	}
	for idx, spec := range c.Actions {
		if err := spec.validate(); err != nil {
			return fmt.Errorf("actions[%d]: %w", idx, err)
		}
	}
	return nil
}

func (s ActionSpec) validate() error {
	switch s.Type {
	case "vault-sync":
		if s.Chain == "" {
			return errors.New("vault-sync 缺少 chain")
		}
	case "swap":
		if s.Chain == "" || s.FromAsset == "" || s.ToAsset == "" || s.Amount == "" {
			return errors.New("swap 缺少 chain/from_asset/to_asset/amount")
		}
	case "add-liquidity", "remove-liquidity":
		if s.Chain == "" || s.Asset == "" || s.Amount == "" {
			return errors.New(s.Type + " 缺少 chain/asset/amount")
		}
	case "bridge":
		if s.FromChain == "" || s.ToChain == "" || s.Asset == "" || s.Amount == "" {
			return errors.New("bridge 缺少 from_chain/to_chain/asset/amount")
		}
	default:
		return fmt.Errorf("不支持的动作类型: %s", s.Type)
	}
	return nil
}
