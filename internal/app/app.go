// Package app 按配置装配 StreamChat 的各个组件，供 CLI 与示例共用。
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/ai"
	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
	"github.com/IMBotPlatform/StreamChat/pkg/config"
	"github.com/IMBotPlatform/StreamChat/pkg/logger"
	"github.com/IMBotPlatform/StreamChat/pkg/pipeline"
	"github.com/IMBotPlatform/StreamChat/pkg/platform/wecom"
	"github.com/IMBotPlatform/StreamChat/pkg/server"
	"github.com/IMBotPlatform/StreamChat/pkg/storage"
)

// App 持有装配完成的组件。
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Models   *ai.Service
	Chat     *chat.Service
	Values   command.ConversationStore
	Commands *command.Manager
	Router   *botcore.Chain

	closeStore func() error
}

// Option 允许调用方替换部分组件，主要用于测试。
type Option func(*options)

type options struct {
	logger  *zap.Logger
	source  chat.CompletionSource
	factory command.CommandFactory
}

// WithLogger 使用外部日志记录器，忽略配置中的 log 段。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSource 替换补全源（默认为按配置构建的 ai.Service）。
func WithSource(src chat.CompletionSource) Option {
	return func(o *options) { o.source = src }
}

// WithCommands 替换命令树工厂（默认为内置命令）。
func WithCommands(f command.CommandFactory) Option {
	return func(o *options) { o.factory = f }
}

// New 按配置装配全部组件。
//
//	config -> logger -> ai.Service (CompletionSource + ModelCatalog)
//	       -> storage.Open -> chat.Service
//	       -> command.Manager + pipeline.ChatHandler -> botcore.Chain
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	// 1) 日志
	log := o.logger
	if log == nil {
		var err error
		log, err = logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	// 2) 模型目录与补全源
	models := ai.NewService(&cfg.AI, ai.WithLogger(log.Named("ai")))
	var source chat.CompletionSource = models
	if o.source != nil {
		source = o.source
	}

	// 3) 历史存储
	store, closeStore, err := storage.Open(ctx, cfg.Store, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// 4) 对话驱动
	chatOpts := append(cfg.Chat.Options(), chat.WithLogger(log.Named("chat")))
	svc := chat.NewService(store, source, chatOpts...)

	// 5) 命令与路由
	factory := o.factory
	if factory == nil {
		factory = command.BuiltinFactory()
	}
	values := command.NewMemoryStore()
	commands := command.NewManager(factory, values,
		command.WithLogger(log.Named("command")),
		command.WithChat(svc),
		command.WithModels(models),
	)
	chatHandler := pipeline.NewChatHandler(svc, values,
		pipeline.WithLogger(log.Named("pipeline")),
		pipeline.WithTimeout(cfg.Chat.TurnTimeout),
	)

	return &App{
		Config:     cfg,
		Logger:     log,
		Models:     models,
		Chat:       svc,
		Values:     values,
		Commands:   commands,
		Router:     pipeline.New(commands, chatHandler),
		closeStore: closeStore,
	}, nil
}

// Model 返回会话当前选择的模型名，未选择时为空。
func (a *App) Model(conversationID string) string {
	values, err := a.Values.Load(conversationID)
	if err != nil {
		a.Logger.Warn("failed to load conversation values", zap.String("key", conversationID), zap.Error(err))
		return ""
	}
	return values[command.ValueModel]
}

// SetModel 记录会话选择的模型。
func (a *App) SetModel(conversationID, model string) error {
	values, err := a.Values.Load(conversationID)
	if err != nil {
		return err
	}
	if values == nil {
		values = command.ContextValues{}
	}
	values[command.ValueModel] = model
	return a.Values.Save(conversationID, values)
}

// WeComBot 按配置构建企业微信回调处理器；未配置时返回 nil。
// 会话过期后的最终回复经 response_url 主动推送。
func (a *App) WeComBot() (*wecom.Bot, error) {
	wc := a.Config.WeCom
	if !wc.Enabled() {
		return nil, nil
	}
	crypt, err := wecom.NewCrypt(wc.Token, wc.EncodingAESKey, wc.CorpID)
	if err != nil {
		return nil, fmt.Errorf("init wecom crypt: %w", err)
	}
	client := wecom.NewClient()
	return wecom.NewBot(crypt, wc.SessionTTL, wc.RefreshTimeout, a.Router,
		wecom.WithResponder(client),
		wecom.WithLogger(a.Logger.Named("wecom")),
	)
}

// Server 构建 HTTP 服务，企业微信已配置时一并挂载。
func (a *App) Server() (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(a.Logger.Named("http")),
		server.WithModels(a.Models),
		server.WithAllowedOrigins(a.Config.Server.AllowedOrigins...),
	}
	bot, err := a.WeComBot()
	if err != nil {
		return nil, err
	}
	if bot != nil {
		opts = append(opts, server.WithWeCom(a.Config.WeCom.Path, bot))
	}
	return server.New(a.Chat, opts...), nil
}

// Close 释放存储连接并刷新日志。
func (a *App) Close() error {
	var errs []error
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
