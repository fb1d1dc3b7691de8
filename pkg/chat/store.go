package chat

import "context"

// Store 负责跨轮次持久化会话历史。
type Store interface {
	// Load 返回会话的全部消息，不存在时返回空切片。
	Load(ctx context.Context, conversationID string) ([]Message, error)

	// Append 按顺序追加一批消息。一轮对话的消息应一次提交。
	Append(ctx context.Context, conversationID string, messages ...Message) error

	// Clear 清空会话历史。会话不存在时不报错。
	Clear(ctx context.Context, conversationID string) error
}
