package command

import (
	"context"

	"github.com/IMBotPlatform/StreamChat/pkg/ai"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// ChatBackend 定义命令层依赖的会话能力，由 *chat.Service 实现。
// 这使得命令无需关心存储与补全源的具体实现。
type ChatBackend interface {
	History(ctx context.Context, conversationID string) (*chat.History, error)
	Reset(ctx context.Context, conversationID string) error
}

// ModelCatalog 定义可选模型的查询能力，由 *ai.Service 实现。
type ModelCatalog interface {
	Models() []ai.ModelConfig
	DefaultModel() string
	HasModel(name string) bool
}

// ValueModel 是 ContextValues 中保存当前会话所选模型的键。
const ValueModel = "model"
