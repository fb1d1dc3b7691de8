package ai

import (
	"context"
	"errors"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// claudeDefaultMaxTokens 为 Claude 必填的 max_tokens 缺省值。
const claudeDefaultMaxTokens = 3000

// einoProvider 读取 eino StreamReader 并逐条推送。
type einoProvider struct {
	model model.BaseChatModel
	opts  []model.Option
}

func newEinoProvider(m model.BaseChatModel, cfg ModelConfig) *einoProvider {
	opts := []model.Option{model.WithTemperature(float32(cfg.Temperature))}
	if cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(cfg.MaxTokens))
	}
	return &einoProvider{model: m, opts: opts}
}

func (p *einoProvider) StreamChat(ctx context.Context, messages []chat.Message, emit func(string) error) error {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		in = append(in, &schema.Message{Role: einoRole(m.Role), Content: m.Content})
	}
	reader, err := p.model.Stream(ctx, in, p.opts...)
	if err != nil {
		return err
	}
	defer reader.Close()
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		if err := emit(chunk.Content); err != nil {
			return err
		}
	}
}

func einoRole(r chat.Role) schema.RoleType {
	switch r {
	case chat.RoleSystem:
		return schema.System
	case chat.RoleAssistant:
		return schema.Assistant
	default:
		return schema.User
	}
}

func newEinoOpenAIProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.ModelName,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return newEinoProvider(m, cfg), nil
}

func newEinoClaudeProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	var baseURL *string
	if cfg.BaseURL != "" {
		baseURL = &cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}
	m, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.ModelName,
		BaseURL:   baseURL,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return newEinoProvider(m, cfg), nil
}

func newEinoGeminiProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, err
	}
	m, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  cfg.ModelName,
	})
	if err != nil {
		return nil, err
	}
	return newEinoProvider(m, cfg), nil
}
