package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// langchainProvider 通过 langchaingo 的流式回调产出片段。
type langchainProvider struct {
	model llms.Model
	opts  []llms.CallOption
}

func newLangchainProvider(model llms.Model, cfg ModelConfig) *langchainProvider {
	opts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	return &langchainProvider{model: model, opts: opts}
}

// StreamChat 转为 GenerateContent 所需的消息片段并流式写回。
func (p *langchainProvider) StreamChat(ctx context.Context, messages []chat.Message, emit func(string) error) error {
	contents := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, llms.TextParts(langchainRole(m.Role), m.Content))
	}
	opts := append([]llms.CallOption{}, p.opts...)
	opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		return emit(string(chunk))
	}))
	_, err := p.model.GenerateContent(ctx, contents, opts...)
	return err
}

func langchainRole(r chat.Role) llms.ChatMessageType {
	switch r {
	case chat.RoleSystem:
		return llms.ChatMessageTypeSystem
	case chat.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func newOpenAIProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.ModelName != "" {
		opts = append(opts, openai.WithModel(cfg.ModelName))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return newLangchainProvider(llm, cfg), nil
}

func newGoogleProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(cfg.ModelName),
	)
	if err != nil {
		return nil, err
	}
	return newLangchainProvider(llm, cfg), nil
}

func newAnthropicProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.ModelName),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, err
	}
	return newLangchainProvider(llm, cfg), nil
}

func newOllamaProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("ollama: model_name is required")
	}
	opts := []ollama.Option{ollama.WithModel(cfg.ModelName)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	return newLangchainProvider(llm, cfg), nil
}
