// Package config 加载 StreamChat 的 YAML 配置文件。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IMBotPlatform/StreamChat/pkg/ai"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/logger"
	"github.com/IMBotPlatform/StreamChat/pkg/storage"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// Config 是整个应用的配置。
type Config struct {
	Log    logger.Config  `yaml:"log"`
	AI     ai.Config      `yaml:"ai"`
	Chat   ChatConfig     `yaml:"chat"`
	Store  storage.Config `yaml:"store"`
	Server ServerConfig   `yaml:"server"`
	WeCom  WeComConfig    `yaml:"wecom"`
}

// ChatConfig 控制对话驱动与快照刷新。
type ChatConfig struct {
	SystemPrompt    string        `yaml:"system_prompt"`
	FlushThreshold  int           `yaml:"flush_threshold"`
	Sentinel        string        `yaml:"sentinel"`
	PersistSentinel bool          `yaml:"persist_sentinel"`
	MaxHistory      int           `yaml:"max_history"` // 0 表示不限制
	TurnTimeout     time.Duration `yaml:"turn_timeout"`
}

// Options 转换为 chat.Service 的选项。
func (c ChatConfig) Options() []chat.Option {
	return []chat.Option{
		chat.WithSystemPrompt(c.SystemPrompt),
		chat.WithThreshold(c.FlushThreshold),
		chat.WithSentinel(c.Sentinel),
		chat.WithPersistSentinel(c.PersistSentinel),
		chat.WithHistoryWindow(c.MaxHistory),
		chat.WithTurnTimeout(c.TurnTimeout),
	}
}

// ServerConfig 为 HTTP 服务参数。
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"` // WebSocket 跨域白名单，空表示仅同源
}

// WeComConfig 为企业微信智能机器人回调参数，Token 为空表示不启用。
type WeComConfig struct {
	Token          string        `yaml:"token"`
	EncodingAESKey string        `yaml:"encoding_aes_key"`
	CorpID         string        `yaml:"corp_id"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	Path           string        `yaml:"path"`
}

// Enabled 判断是否配置了企业微信回调。
func (w WeComConfig) Enabled() bool {
	return w.Token != ""
}

// Default 返回可直接运行的配置：内存存储 + 本地 ollama 模型。
func Default() *Config {
	return &Config{
		Log: logger.Default(),
		AI: ai.Config{
			DefaultModel: "default",
			Models: []ai.ModelConfig{{
				Name:        "default",
				Provider:    "ollama",
				BaseURL:     "http://localhost:11434",
				ModelName:   "llama3.1:8b",
				Temperature: 0.5,
			}},
		},
		Chat: ChatConfig{
			SystemPrompt:   chat.DefaultSystemPrompt,
			FlushThreshold: stream.DefaultThreshold,
			Sentinel:       stream.DefaultSentinel,
			TurnTimeout:    2 * time.Minute,
		},
		Store:  storage.Config{Driver: storage.DriverMemory},
		Server: ServerConfig{Listen: ":8080"},
		WeCom: WeComConfig{
			SessionTTL:     10 * time.Minute,
			RefreshTimeout: 2 * time.Second,
			Path:           "/callback/wecom",
		},
	}
}

// Load 读取 YAML 文件并覆盖默认值。path 为空时返回 Default()。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate 检查各段配置。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("ai: %w", err)
	}
	if c.Chat.FlushThreshold <= 0 {
		return fmt.Errorf("chat.flush_threshold must be positive, got %d", c.Chat.FlushThreshold)
	}
	if c.Chat.MaxHistory < 0 {
		return fmt.Errorf("chat.max_history must not be negative, got %d", c.Chat.MaxHistory)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.WeCom.Enabled() {
		if c.WeCom.EncodingAESKey == "" || c.WeCom.CorpID == "" {
			return errors.New("wecom: encoding_aes_key and corp_id are required when token is set")
		}
		if c.WeCom.Path == "" {
			return errors.New("wecom: path is required")
		}
	}
	return nil
}
