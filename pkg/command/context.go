package command

import (
	"context"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
)

// keyExecutionContext 是 context.Context 中存储 ExecutionContext 的键。
type keyExecutionContext struct{}

// ContextValues 存储命令执行过程中的上下文扩展字段。
type ContextValues map[string]string

// ConversationStore 定义上下文存取接口，便于替换实现。
type ConversationStore interface {
	Load(key string) (ContextValues, error)
	Save(key string, values ContextValues) error
}

// ExecutionContext 为命令 handler 提供必要的环境信息。
type ExecutionContext struct {
	Update    botcore.Update
	StreamID  string
	Values    ContextValues
	Store     ConversationStore
	chat      ChatBackend
	models    ModelCatalog
	responder botcore.ActiveResponder
}

// Chat 返回会话服务，可能为 nil。
func (ctx *ExecutionContext) Chat() ChatBackend {
	return ctx.chat
}

// Models 返回模型目录，可能为 nil。
func (ctx *ExecutionContext) Models() ModelCatalog {
	return ctx.models
}

// Responder 返回主动消息发送器。
func (ctx *ExecutionContext) Responder() botcore.ActiveResponder {
	return ctx.responder
}

// ConversationKey 返回当前上下文在存储中的唯一 key。
func (ctx *ExecutionContext) ConversationKey() string {
	if ctx == nil {
		return ""
	}
	return ctx.Update.ConversationKey()
}

// SaveValue 写入单个上下文键值并同步到本地 Values。
func (ctx *ExecutionContext) SaveValue(key, value string) error {
	if ctx.Values == nil {
		ctx.Values = ContextValues{}
	}
	if value == "" {
		delete(ctx.Values, key)
	} else {
		ctx.Values[key] = value
	}
	if ctx.Store == nil {
		return nil
	}
	return ctx.Store.Save(ctx.ConversationKey(), ContextValues{key: value})
}

// WithExecutionContext 将 ExecutionContext 注入到标准 context.Context 中。
func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext{}, execCtx)
}

// FromContext 从标准 context.Context 中提取 ExecutionContext。
func FromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(keyExecutionContext{}).(*ExecutionContext)
	return execCtx
}
