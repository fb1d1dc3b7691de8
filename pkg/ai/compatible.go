package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// compatibleProvider 经 go-openai 访问 OpenAI 兼容接口（DeepSeek、DashScope 兼容模式、vLLM 等）的流式补全。
type compatibleProvider struct {
	client *openai.Client
	cfg    ModelConfig
}

// newCompatibleProvider 校验必填项并创建带超时的客户端。
func newCompatibleProvider(ctx context.Context, cfg ModelConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("openai-compatible: model_name is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	return &compatibleProvider{client: openai.NewClientWithConfig(config), cfg: cfg}, nil
}

// StreamChat 逐个转发 delta 内容，读到 EOF 即正常结束。
func (p *compatibleProvider) StreamChat(ctx context.Context, messages []chat.Message, emit func(string) error) error {
	in := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		in = append(in, openai.ChatCompletionMessage{Role: compatibleRole(m.Role), Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       p.cfg.ModelName,
		Messages:    in,
		Stream:      true,
		Temperature: float32(p.cfg.Temperature),
		MaxTokens:   p.cfg.MaxTokens,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, choice := range resp.Choices {
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func compatibleRole(r chat.Role) string {
	switch r {
	case chat.RoleSystem:
		return openai.ChatMessageRoleSystem
	case chat.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
