package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 TaskPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Events  EventsConfig  `json:"events" yaml:"events"`
	LLM     LLMConfig     `json:"llm" yaml:"llm"`
	Agent   AgentConfig   `json:"agent" yaml:"agent"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address" yaml:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StorageConfig 描述任务与对话两类存储。
type StorageConfig struct {
	TaskStore         TaskStoreConfig         `json:"task_store" yaml:"task_store"`
	ConversationStore ConversationStoreConfig `json:"conversation_store" yaml:"conversation_store"`
}

// TaskStoreConfig 支持 memory、mysql 与 sqlite。
type TaskStoreConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// ConversationStoreConfig 支持 memory 与 redis。
type ConversationStoreConfig struct {
	Driver     string      `json:"driver" yaml:"driver"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
	TTLSeconds int         `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	Channel  string `json:"channel" yaml:"channel"`
}

// EventsConfig 选择任务变更事件的发布方式：noop、memory、redis、rabbitmq。
type EventsConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// LLMConfig 用于配置 OpenAI 兼容的模型服务与降级列表。
type LLMConfig struct {
	APIKey         string   `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string   `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	Model          string   `json:"model" yaml:"model"`
	FallbackModels []string `json:"fallback_models" yaml:"fallback_models"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
	Referer        string   `json:"referer" yaml:"referer"`
	Title          string   `json:"title" yaml:"title"`
}

// Timeout 返回单次模型请求的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用配置中的 Key，其次读取 api_key_env 指定的环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// AgentConfig 控制对话轮次。
type AgentConfig struct {
	HistoryLimit       int `json:"history_limit" yaml:"history_limit"`
	TurnTimeoutSeconds int `json:"turn_timeout_seconds" yaml:"turn_timeout_seconds"`
}

// TurnTimeout 返回整轮对话的超时时间，0 表示不限制。
func (c AgentConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// AuthConfig 描述 API 的身份认证方式。
type AuthConfig struct {
	// Mode 为 jwt 或 disabled。
	Mode      string `json:"mode" yaml:"mode"`
	Secret    string `json:"secret" yaml:"secret"`
	SecretEnv string `json:"secret_env" yaml:"secret_env"`
	Issuer    string `json:"issuer" yaml:"issuer"`
	// DevUserID 在 disabled 模式下作为所有请求的用户。
	DevUserID string `json:"dev_user_id" yaml:"dev_user_id"`
}

// ResolveSecret 返回 JWT 签名密钥。
func (c AuthConfig) ResolveSecret() string {
	if c.Secret != "" {
		return c.Secret
	}
	if c.SecretEnv != "" {
		return os.Getenv(c.SecretEnv)
	}
	return ""
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	AddSource   bool        `json:"add_source" yaml:"add_source"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

const (
	defaultModel        = "openai/gpt-4o-mini"
	defaultHistoryLimit = 20
	defaultDevUserID    = "00000000-0000-0000-0000-000000000001"
)

// Load 解析指定路径的配置文件，.yaml/.yml 按 YAML 解析，其余按 JSON 解析。
// 解析后依次应用环境变量覆盖与默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只依赖环境变量的配置，用于未提供配置文件的场景。
func Default() (*Config, error) {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("获取工作目录失败: %w", err)
	}
	cfg.applyDefaults(wd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用环境变量覆盖模型相关配置。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("OPENAI_API_KEY"); ok && strings.TrimSpace(v) != "" {
		c.LLM.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup("OPENAI_API_BASE"); ok && strings.TrimSpace(v) != "" {
		c.LLM.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup("OPENAI_MODEL"); ok && strings.TrimSpace(v) != "" {
		c.LLM.Model = strings.TrimSpace(v)
	}
	if v, ok := lookup("TASKPILOT_FALLBACK_MODELS"); ok && strings.TrimSpace(v) != "" {
		c.LLM.FallbackModels = splitList(v)
	}
	if v, ok := lookup("TASKPILOT_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("TASKPILOT_HISTORY_LIMIT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Agent.HistoryLimit = n
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	ts := &c.Storage.TaskStore
	ts.Driver = strings.ToLower(strings.TrimSpace(ts.Driver))
	if ts.Driver == "" {
		ts.Driver = "memory"
	}
	if ts.Driver == "sqlite" && ts.DSN == "" {
		ts.DSN = filepath.Join(c.Runtime.DataDir, "taskpilot.db")
	}

	cs := &c.Storage.ConversationStore
	cs.Driver = strings.ToLower(strings.TrimSpace(cs.Driver))
	if cs.Driver == "" {
		cs.Driver = "memory"
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "noop"
	}

	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 30
	}
	if c.LLM.Title == "" {
		c.LLM.Title = "TaskPilot"
	}

	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = defaultHistoryLimit
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.SecretEnv == "" {
		c.Auth.SecretEnv = "TASKPILOT_JWT_SECRET"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "taskpilot"
	}
	if c.Auth.DevUserID == "" {
		c.Auth.DevUserID = defaultDevUserID
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Storage.TaskStore.Driver {
	case "memory", "sqlite":
	case "mysql":
		if c.Storage.TaskStore.DSN == "" {
			return errors.New("mysql 任务存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}

	switch c.Storage.ConversationStore.Driver {
	case "memory":
	case "redis":
		if c.Storage.ConversationStore.Redis.Address == "" {
			return errors.New("redis 对话存储需要配置 address")
		}
	default:
		return fmt.Errorf("未知的对话存储驱动: %s", c.Storage.ConversationStore.Driver)
	}

	switch c.Events.Driver {
	case "noop", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("redis 事件发布需要配置 address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件发布需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	switch c.Auth.Mode {
	case "disabled", "jwt":
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
