package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 PayRoute 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Ledger   LedgerConfig   `json:"ledger"`
	Queue    QueueConfig    `json:"queue"`
	Keeper   KeeperConfig   `json:"keeper"`
	Router   RouterConfig   `json:"router"`
	Vault    VaultConfig    `json:"vault"`
	Identity IdentityConfig `json:"identity"`
}

// ServerConfig 控制 API 服务与指标服务的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// StorageConfig 统一描述策略与订阅存储的后端。
type StorageConfig struct {
	PolicyStore       StoreConfig `json:"policy_store"`
	SubscriptionStore StoreConfig `json:"subscription_store"`
}

// StoreConfig 描述单个存储的驱动与连接串，驱动为 memory 或 mysql。
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// LedgerConfig 描述结算账本。memory 驱动用于测试与演示，
// ethereum 驱动按 chains 文件连接链上稳定币合约。
type LedgerConfig struct {
	Driver     string `json:"driver"`
	ChainsPath string `json:"chains_path"`
	Chain      string `json:"chain"`
}

// QueueConfig 描述到期订阅队列的驱动与连接信息。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// KeeperConfig 控制到期订阅的自动执行。
type KeeperConfig struct {
	Enabled      bool   `json:"enabled"`
	Executor     string `json:"executor"`
	ScanInterval int    `json:"scan_interval_seconds"`
	BatchSize    int    `json:"batch_size"`
}

// RouterConfig 控制一次性支付路由。
type RouterConfig struct {
	Treasury string `json:"treasury"`
	FeeBps   int64  `json:"fee_bps"`
}

// VaultConfig 控制金库功能，Pool 为持有全部存款的池化账户。
type VaultConfig struct {
	Pool string `json:"pool"`
}

// IdentityConfig 指向静态身份档案文件，为空时不启用身份校验。
type IdentityConfig struct {
	Source string `json:"source"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.AuditEnabled && c.Logging.AuditPath == "" {
		c.Logging.AuditPath = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Storage.PolicyStore.Driver == "" {
		c.Storage.PolicyStore.Driver = "memory"
	}
	if c.Storage.SubscriptionStore.Driver == "" {
		c.Storage.SubscriptionStore.Driver = "memory"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.ChainsPath != "" && !filepath.IsAbs(c.Ledger.ChainsPath) {
		c.Ledger.ChainsPath = filepath.Join(baseDir, c.Ledger.ChainsPath)
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Keeper.Executor == "" {
		c.Keeper.Executor = "keeper"
	}
	if c.Keeper.ScanInterval <= 0 {
		c.Keeper.ScanInterval = 15
	}
	if c.Keeper.BatchSize <= 0 {
		c.Keeper.BatchSize = 100
	}

	if c.Router.Treasury == "" {
		c.Router.Treasury = "treasury"
	}

	if c.Vault.Pool == "" {
		c.Vault.Pool = "vault-pool"
	}

	if c.Identity.Source != "" && !filepath.IsAbs(c.Identity.Source) {
		c.Identity.Source = filepath.Join(baseDir, c.Identity.Source)
	}
}
