package ai

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelConfig 描述单个模型的连接参数。
type ModelConfig struct {
	Name        string  `json:"name" yaml:"name"`                             // e.g., "gpt-4o", "fast"
	Provider    string  `json:"provider" yaml:"provider"`                     // e.g., "openai", "google", "ollama"
	APIKey      string  `json:"api_key" yaml:"api_key"`                       // "env:NAME" or direct key
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Optional: for custom endpoints
	ModelName   string  `json:"model_name" yaml:"model_name"`                 // The specific model ID (e.g., "gemini-1.5-pro")
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`                 // Max output tokens, 0 = provider default
	Temperature float64 `json:"temperature" yaml:"temperature"`               // Creativity
}

// Config 是全部模型配置及默认模型。
type Config struct {
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	Models       []ModelConfig `json:"models" yaml:"models"`
}

// LoadConfig 从 YAML 文件读取并解析模型配置。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Lookup 按名称查找模型配置。
func (c *Config) Lookup(name string) (*ModelConfig, error) {
	if c == nil {
		return nil, ErrModelNotFound
	}
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// Validate 校验模型名唯一且默认模型存在。
func (c *Config) Validate() error {
	if c == nil || len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	seen := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return errors.New("model name is required")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate model name: %s", m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.Provider == "" {
			return fmt.Errorf("model %s: provider is required", m.Name)
		}
	}
	if _, err := c.Lookup(c.DefaultModel); err != nil {
		return fmt.Errorf("default_model: %w", err)
	}
	return nil
}

// ResolveSecret 解析密钥。
// 如果值以 "env:" 开头，则从环境变量中获取实际值。
func ResolveSecret(value string) string {
	if strings.HasPrefix(value, "env:") {
		return os.Getenv(strings.TrimPrefix(value, "env:"))
	}
	return value
}
