// Package ai 将配置中的各类模型统一为按序推送文本片段的补全源。
package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

var (
	// ErrModelNotFound 表示配置中没有该名称的模型。
	ErrModelNotFound = errors.New("model not found in configuration")
	// ErrUnsupportedProvider 表示 provider 字段无法识别。
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Provider 以推送方式产出补全文本。
// emit 按生成顺序调用；emit 返回错误时实现应尽快停止并返回。
type Provider interface {
	StreamChat(ctx context.Context, messages []chat.Message, emit func(text string) error) error
}

// ProviderFactory 根据模型配置创建 Provider。
type ProviderFactory func(ctx context.Context, cfg ModelConfig) (Provider, error)

// Service 是 AI 逻辑的主要入口点，实现 chat.CompletionSource。
// 它按模型名缓存 Provider 实例。
type Service struct {
	config    *Config
	logger    *zap.Logger
	factories map[string]ProviderFactory

	mu    sync.Mutex
	cache map[string]Provider
}

// ServiceOption 定制 Service。
type ServiceOption func(*Service)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithProviderFactory 注册或覆盖某个 provider 的构造函数。
func WithProviderFactory(provider string, factory ProviderFactory) ServiceOption {
	return func(s *Service) {
		s.factories[provider] = factory
	}
}

// NewService 创建一个新的 AI 服务实例。
func NewService(config *Config, opts ...ServiceOption) *Service {
	s := &Service{
		config:    config,
		factories: defaultFactories(),
		cache:     make(map[string]Provider),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Models 返回已配置的模型列表。
func (s *Service) Models() []ModelConfig {
	if s.config == nil {
		return nil
	}
	out := make([]ModelConfig, len(s.config.Models))
	copy(out, s.config.Models)
	return out
}

// DefaultModel 返回默认模型名。
func (s *Service) DefaultModel() string {
	if s.config == nil {
		return ""
	}
	return s.config.DefaultModel
}

// HasModel 判断模型名是否已配置。
func (s *Service) HasModel(name string) bool {
	_, err := s.config.Lookup(name)
	return err == nil
}

// getModel 获取 Provider 实例。
// 如果缓存中存在则直接返回，否则按配置初始化并缓存。
//
// Check Cache -> (Hit) -> Return
//
//	  |
//	(Miss)
//	  v
//
// Load Config -> Init Provider -> Update Cache -> Return
func (s *Service) getModel(ctx context.Context, modelName string) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache[modelName]; ok {
		return p, nil
	}
	cfg, err := s.config.Lookup(modelName)
	if err != nil {
		return nil, err
	}
	factory, ok := s.factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
	resolved := *cfg
	resolved.APIKey = ResolveSecret(cfg.APIKey)
	p, err := factory(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}
	s.cache[modelName] = p
	s.logger.Info("model provider initialized",
		zap.String("model", modelName), zap.String("provider", cfg.Provider))
	return p, nil
}

// Stream 实现 chat.CompletionSource。
// Provider 的推送回调被转换为按序的片段通道；Provider 失败时以一个错误片段结束。
func (s *Service) Stream(ctx context.Context, req chat.Request) (<-chan stream.Fragment, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = s.DefaultModel()
	}
	p, err := s.getModel(ctx, modelName)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Fragment)
	go func() {
		defer close(out)
		emit := func(text string) error {
			if text == "" {
				return nil
			}
			select {
			case out <- stream.Fragment{Text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := p.StreamChat(ctx, req.Messages, emit)
		if err == nil || ctx.Err() != nil {
			return
		}
		s.logger.Warn("streaming error",
			zap.String("model", modelName),
			zap.String("conversation", req.ConversationID),
			zap.Error(err))
		select {
		case out <- stream.Fragment{Err: err}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func defaultFactories() map[string]ProviderFactory {
	return map[string]ProviderFactory{
		"openai":            newOpenAIProvider,
		"google":            newGoogleProvider,
		"anthropic":         newAnthropicProvider,
		"ollama":            newOllamaProvider,
		"openai-compatible": newCompatibleProvider,
		"eino-openai":       newEinoOpenAIProvider,
		"eino-claude":       newEinoClaudeProvider,
		"eino-gemini":       newEinoGeminiProvider,
	}
}
