package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
)

const (
	commandLogSnippet     = 256
	defaultCommandTimeout = 30 * time.Second
)

// Manager 实现 PipelineInvoker，负责串联解析、构建 Cobra 命令树并执行。
type Manager struct {
	factory   CommandFactory
	parser    Parser
	store     ConversationStore
	logger    *zap.Logger
	chat      ChatBackend
	models    ModelCatalog
	responder botcore.ActiveResponder
	timeout   time.Duration
}

// ManagerOption 自定义 Manager 行为。
type ManagerOption func(*Manager)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithResponder 注入主动消息发送器。
func WithResponder(r botcore.ActiveResponder) ManagerOption {
	return func(m *Manager) {
		m.responder = r
	}
}

// WithChat 注入会话服务，供 /reset、/history 使用。
func WithChat(c ChatBackend) ManagerOption {
	return func(m *Manager) {
		m.chat = c
	}
}

// WithModels 注入模型目录，供 /model、/models 使用。
func WithModels(c ModelCatalog) ManagerOption {
	return func(m *Manager) {
		m.models = c
	}
}

// WithTimeout 限制单条命令的执行时长。
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// NewManager 绑定命令工厂与存储，返回实现 PipelineInvoker 的管理器。
func NewManager(factory CommandFactory, store ConversationStore, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		factory: factory,
		parser:  NewParser(),
		store:   store,
		timeout: defaultCommandTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	if mgr.logger == nil {
		mgr.logger = zap.NewNop()
	}
	return mgr
}

// Trigger 满足 botcore.PipelineInvoker，为每个请求构建独立的命令树并执行。
//
//	[Parse] --非命令--> [提示并结束]
//	   |
//	[factory() 新建命令树] -> [IO 重定向到 StreamWriter]
//	   |
//	[加载 ContextValues] -> [ExecuteContext]
//	   |
//	[发送 Final 快照]
func (m *Manager) Trigger(update botcore.Update, streamID string) <-chan botcore.StreamChunk {
	out := make(chan botcore.StreamChunk, 1)
	go func() {
		defer close(out)

		if m == nil || m.factory == nil {
			out <- botcore.StreamChunk{Content: "Error: command manager not initialized", IsFinal: true}
			return
		}

		parsed := m.parser.Parse(update.Text)
		if !parsed.IsCommand {
			if strings.TrimSpace(update.Text) == "" {
				out <- botcore.StreamChunk{Content: "Please enter a command (e.g. /help)", IsFinal: true}
			} else {
				out <- botcore.StreamChunk{Content: fmt.Sprintf("Unrecognized command: %s\nTry /help", parsed.Raw), IsFinal: true}
			}
			return
		}

		rootCmd := m.factory()
		writer := NewStreamWriter(out)
		rootCmd.SetOut(writer)
		rootCmd.SetErr(writer)
		rootCmd.CompletionOptions.DisableDefaultCmd = true

		execCtx := &ExecutionContext{
			Update:    update,
			StreamID:  streamID,
			Store:     m.store,
			chat:      m.chat,
			models:    m.models,
			responder: m.responder,
		}
		convKey := execCtx.ConversationKey()
		if m.store != nil {
			if values, err := m.store.Load(convKey); err != nil {
				m.logger.Warn("failed to load conversation values", zap.String("key", convKey), zap.Error(err))
			} else {
				execCtx.Values = values
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		ctx = WithExecutionContext(ctx, execCtx)

		args := parsed.Tokens
		// 第一个 token 等于 root 名时去掉，避免 "unknown command X for X"
		if len(args) > 0 && strings.EqualFold(args[0], rootCmd.Name()) {
			args = args[1:]
		}
		rootCmd.SetArgs(args)
		m.logger.Info("executing command",
			zap.Strings("args", args),
			zap.String("sender", update.SenderID),
			zap.String("raw", truncateForLog(update.Text, commandLogSnippet)))

		if err := rootCmd.ExecuteContext(ctx); err != nil {
			m.logger.Warn("command execution error", zap.Error(err))
			fmt.Fprintf(writer, "Error: %v\n", err)
		}
		out <- botcore.StreamChunk{Content: writer.String(), IsFinal: true}
	}()
	return out
}

// truncateForLog 限制日志中输出的文本长度。
func truncateForLog(src string, limit int) string {
	if limit <= 0 || len(src) <= limit {
		return src
	}
	return fmt.Sprintf("%s...(truncated)", src[:limit])
}
