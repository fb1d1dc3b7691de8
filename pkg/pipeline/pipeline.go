// Package pipeline 组装消息路由：斜杠命令交给 command.Manager，其余文本进入对话。
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// 对话轮次被拒绝时返回给用户的提示。
const (
	EmptyInputWarning = "Please enter a message."
	BusyWarning       = "Still answering your previous message, please wait."
)

// Turner 定义执行一轮对话的能力，由 *chat.Service 实现。
type Turner interface {
	Send(ctx context.Context, conversationID, prompt string, sink chat.Sink, opts ...chat.TurnOption) (chat.TurnResult, error)
}

// ChatHandler 把非命令文本作为一轮对话执行，快照逐个转为 StreamChunk。
type ChatHandler struct {
	turner  Turner
	values  command.ConversationStore
	logger  *zap.Logger
	timeout time.Duration
}

// ChatOption 定制 ChatHandler。
type ChatOption func(*ChatHandler)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) ChatOption {
	return func(h *ChatHandler) { h.logger = l }
}

// WithTimeout 设置单轮对话的上限，<=0 表示不限制。
func WithTimeout(d time.Duration) ChatOption {
	return func(h *ChatHandler) { h.timeout = d }
}

// NewChatHandler 创建对话处理器。values 用于读取 /model 选择，可为 nil。
func NewChatHandler(turner Turner, values command.ConversationStore, opts ...ChatOption) *ChatHandler {
	h := &ChatHandler{turner: turner, values: values}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Trigger 实现 botcore.PipelineInvoker。
//
//	Update -> [读取会话模型] -> Turner.Send
//	                              |
//	           Snapshot ---> StreamChunk{Content, Failed}
//	                              |
//	           结束 ---> StreamChunk{IsFinal: true}
func (h *ChatHandler) Trigger(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
	out := make(chan botcore.StreamChunk, 1)
	go func() {
		defer close(out)

		key := update.ConversationKey()
		var opts []chat.TurnOption
		if model := h.model(key); model != "" {
			opts = append(opts, chat.WithModel(model))
		}

		ctx := context.Background()
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}

		var last botcore.StreamChunk
		sink := chat.SinkFunc(func(ctx context.Context, snap stream.Snapshot) error {
			last = botcore.StreamChunk{Content: snap.Content, Failed: snap.Failed}
			select {
			case out <- last:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		_, err := h.turner.Send(ctx, key, update.Text, sink, opts...)
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			last = botcore.StreamChunk{Content: EmptyInputWarning}
		case errors.Is(err, chat.ErrTurnInProgress):
			last = botcore.StreamChunk{Content: BusyWarning}
		case err != nil:
			h.logger.Warn("chat turn ended with error",
				zap.String("conversation", key), zap.String("stream", streamID), zap.Error(err))
		}
		last.IsFinal = true
		out <- last
	}()
	return out
}

func (h *ChatHandler) model(key string) string {
	if h.values == nil {
		return ""
	}
	values, err := h.values.Load(key)
	if err != nil {
		h.logger.Warn("failed to load conversation values", zap.String("key", key), zap.Error(err))
		return ""
	}
	return values[command.ValueModel]
}

// New 构建完整路由：以 "/" 开头的文本进入命令，其余进入对话。
func New(commands botcore.PipelineInvoker, chatHandler botcore.PipelineInvoker) *botcore.Chain {
	chain := botcore.NewChain(chatHandler)
	chain.AddRoute("command", botcore.MatchPrefix("/"), commands)
	return chain
}

// IsCommand 判断文本是否会被路由到命令。
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
