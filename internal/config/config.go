package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Queue    QueueConfig    `yaml:"queue"`
	Provider ProviderConfig `yaml:"provider"`
	Policy   PolicyConfig   `yaml:"policy"`
	Limiter  LimiterConfig  `yaml:"limiter"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
}

type NATSConfig struct {
	// 为空时使用进程内实现（本地开发/单测），非空时连接NATS
	URL string `yaml:"url"`
}

type QueueConfig struct {
	// 任务队列最大投递次数（含首次投递）
	TaskMaxDeliver     int `yaml:"task_max_deliver"`
	ApprovalMaxDeliver int `yaml:"approval_max_deliver"`
	// 指数退避基础延迟（毫秒）
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	// worker并发数
	Concurrency int `yaml:"concurrency"`
}

type ProviderConfig struct {
	// OpenAI兼容的chat completions端点
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// 单次调用超时（秒）
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxTokens      int `yaml:"max_tokens"`
}

type PolicyConfig struct {
	BlockedTools          []string `yaml:"blocked_tools"`
	ApprovalRequiredTools []string `yaml:"approval_required_tools"`
	CriticalTables        []string `yaml:"critical_tables"`
	BulkActionThreshold   int      `yaml:"bulk_action_threshold"`
}

type LimiterConfig struct {
	// 每个workspace的模型调用速率（次/秒）与突发额度
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnv()
	config.ApplyDefaults()
	return &config, nil
}

// applyEnv 环境变量覆盖敏感配置（配合godotenv使用）
func (c *Config) applyEnv() {
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
}

// ApplyDefaults 填充缺省值；单测构造配置时也会调用
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Queue.TaskMaxDeliver <= 0 {
		c.Queue.TaskMaxDeliver = 3
	}
	if c.Queue.ApprovalMaxDeliver <= 0 {
		c.Queue.ApprovalMaxDeliver = 2
	}
	if c.Queue.BackoffBaseMs <= 0 {
		c.Queue.BackoffBaseMs = 2000
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 5
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4-turbo-preview"
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 30
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = 2000
	}
	if c.Limiter.RatePerSecond <= 0 {
		c.Limiter.RatePerSecond = 1
	}
	if c.Limiter.Burst <= 0 {
		c.Limiter.Burst = 3
	}
}
