package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// DefaultSystemPrompt 为新会话的首条 system 消息。
const DefaultSystemPrompt = "You are a helpful assistant."

var (
	// ErrEmptyInput 表示用户输入为空或仅包含空白，补全源不会被调用。
	ErrEmptyInput = errors.New("empty input")
	// ErrTurnInProgress 表示同一会话上一轮尚未结束。
	ErrTurnInProgress = errors.New("turn already in progress")
	// ErrSink 表示展示端渲染失败，本轮被中止。
	ErrSink = errors.New("display sink failed")
)

// Request 是发往补全源的一次请求。
type Request struct {
	ConversationID string
	Model          string // 为空时由补全源选择默认模型
	Messages       []Message
}

// CompletionSource 定义驱动层依赖的补全能力。
// 返回的通道按序产出片段，结束时关闭；失败以 Err 非空的片段报告。
// 这使得 chat 包无需直接依赖 pkg/ai。
type CompletionSource interface {
	Stream(ctx context.Context, req Request) (<-chan stream.Fragment, error)
}

// Sink 接收快照并替换同一轮此前的渲染结果。
type Sink interface {
	Render(ctx context.Context, snap stream.Snapshot) error
}

// SinkFunc 允许直接以函数实现 Sink。
type SinkFunc func(ctx context.Context, snap stream.Snapshot) error

// Render 实现 Sink 接口。
func (f SinkFunc) Render(ctx context.Context, snap stream.Snapshot) error {
	if f == nil {
		return nil
	}
	return f(ctx, snap)
}

// Options 定义 Service 的行为参数。
type Options struct {
	SystemPrompt    string
	Threshold       int
	Sentinel        string
	PersistSentinel bool          // 失败时是否把占位文本作为助手回复写入历史
	HistoryWindow   int           // >0 时请求只携带最近 N 条非 system 消息
	TurnTimeout     time.Duration // >0 时限制单轮总时长
	Logger          *zap.Logger
}

// Option 是配置 Options 的函数。
type Option func(*Options)

// WithSystemPrompt 设置新会话的 system 消息，空串表示不注入。
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

// WithThreshold 设置快照刷新阈值。
func WithThreshold(n int) Option {
	return func(o *Options) { o.Threshold = n }
}

// WithSentinel 设置失败占位文本。
func WithSentinel(text string) Option {
	return func(o *Options) { o.Sentinel = text }
}

// WithPersistSentinel 设置失败轮次是否入库。
func WithPersistSentinel(persist bool) Option {
	return func(o *Options) { o.PersistSentinel = persist }
}

// WithHistoryWindow 设置请求携带的历史条数上限。
func WithHistoryWindow(n int) Option {
	return func(o *Options) { o.HistoryWindow = n }
}

// WithTurnTimeout 设置单轮超时。
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Options) { o.TurnTimeout = d }
}

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Service 是会话驱动方：它独占历史的写入，每个会话同一时刻只允许一轮对话。
type Service struct {
	store  Store
	source CompletionSource
	opts   Options

	mu     sync.Mutex
	active map[string]struct{}
}

// NewService 绑定存储与补全源。
func NewService(store Store, source CompletionSource, opts ...Option) *Service {
	options := Options{
		SystemPrompt: DefaultSystemPrompt,
		Threshold:    stream.DefaultThreshold,
		Sentinel:     stream.DefaultSentinel,
	}
	for _, o := range opts {
		if o != nil {
			o(&options)
		}
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		source: source,
		opts:   options,
		active: make(map[string]struct{}),
	}
}

// TurnOptions 定义单轮对话的可选参数。
type TurnOptions struct {
	Model string
}

// TurnOption 是设置 TurnOptions 的函数。
type TurnOption func(*TurnOptions)

// WithModel 指定本轮使用的模型（配置文件中的 name）。
func WithModel(name string) TurnOption {
	return func(o *TurnOptions) { o.Model = name }
}

// TurnResult 汇总一轮对话。
type TurnResult struct {
	ConversationID string
	Outcome        stream.Outcome
	Reply          Message // 助手回复；Canceled 时为空
	Snapshots      int     // 下发给展示端的快照数量
	Committed      bool    // 本轮消息是否已写入历史
	SourceErr      error   // 补全源报告的错误（Failed 时）
}

// Send 执行一轮对话。
//
// 核心流程：
//
//	User Input
//	    |
//	[空输入?] --是--> ErrEmptyInput（不调用补全源，历史不变）
//	    |
//	[会话加锁] --占用--> ErrTurnInProgress
//	    |
//	[加载历史 -> 组装请求] -> [CompletionSource.Stream]
//	    |
//	[stream.Accumulate] -> [Sink.Render 每个快照]
//	    |
//	[Completed: 提交 user + assistant]
//	[Failed:    按 PersistSentinel 决定提交或丢弃]
//	[Canceled:  不提交]
func (s *Service) Send(ctx context.Context, conversationID, prompt string, sink Sink, opts ...TurnOption) (TurnResult, error) {
	result := TurnResult{ConversationID: conversationID}
	if strings.TrimSpace(prompt) == "" {
		return result, ErrEmptyInput
	}
	turnOpts := TurnOptions{}
	for _, o := range opts {
		if o != nil {
			o(&turnOpts)
		}
	}
	if sink == nil {
		sink = SinkFunc(nil)
	}

	if !s.acquire(conversationID) {
		return result, ErrTurnInProgress
	}
	defer s.release(conversationID)

	logger := s.opts.Logger.With(zap.String("conversation", conversationID))

	stored, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return result, fmt.Errorf("failed to load history: %w", err)
	}
	history, err := NewHistory(stored...)
	if err != nil {
		return result, fmt.Errorf("invalid stored history: %w", err)
	}

	// pending 为本轮待提交的消息，首轮包含 system。
	var pending []Message
	if history.Len() == 0 && s.opts.SystemPrompt != "" {
		system := NewMessage(RoleSystem, s.opts.SystemPrompt)
		_ = history.Append(system)
		pending = append(pending, system)
	}
	user := NewMessage(RoleUser, prompt)
	pending = append(pending, user)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.opts.TurnTimeout > 0 {
		var cancelTimeout context.CancelFunc
		turnCtx, cancelTimeout = context.WithTimeout(turnCtx, s.opts.TurnTimeout)
		defer cancelTimeout()
	}

	req := Request{
		ConversationID: conversationID,
		Model:          turnOpts.Model,
		Messages:       history.Compose(user, s.opts.HistoryWindow),
	}
	fragments, err := s.source.Stream(turnCtx, req)
	if err != nil {
		// 建立流失败与流中途失败走同一条占位路径
		fragments = failedSource(err)
	}

	st := stream.Accumulate(turnCtx, fragments,
		stream.WithThreshold(s.opts.Threshold),
		stream.WithSentinel(s.opts.Sentinel),
		stream.WithLogger(logger),
	)

	var sinkErr error
	for snap := range st.Snapshots() {
		if sinkErr != nil {
			continue
		}
		if err := sink.Render(turnCtx, snap); err != nil {
			sinkErr = err
			cancel()
		}
	}
	res := st.Wait()
	result.Outcome = res.Outcome
	result.Snapshots = res.Emitted

	if sinkErr != nil {
		logger.Error("display sink failed", zap.Error(sinkErr))
		result.Outcome = stream.Canceled
		return result, fmt.Errorf("%w: %w", ErrSink, sinkErr)
	}

	switch res.Outcome {
	case stream.Canceled:
		logger.Info("turn canceled", zap.Error(res.Err), zap.Int("snapshots", res.Emitted))
		return result, res.Err
	case stream.Failed:
		result.SourceErr = res.Err
		result.Reply = NewMessage(RoleAssistant, res.Content)
		if !s.opts.PersistSentinel {
			logger.Warn("turn failed, history unchanged", zap.Error(res.Err))
			return result, nil
		}
	default:
		result.Reply = NewMessage(RoleAssistant, res.Content)
	}

	pending = append(pending, result.Reply)
	// 回复已下发给用户，落库不随调用方取消而中断
	if err := s.store.Append(context.WithoutCancel(ctx), conversationID, pending...); err != nil {
		return result, fmt.Errorf("failed to save turn: %w", err)
	}
	result.Committed = true
	logger.Info("turn committed",
		zap.String("outcome", res.Outcome.String()),
		zap.String("model", turnOpts.Model),
		zap.Int("snapshots", res.Emitted),
		zap.Int("length", len(res.Content)))
	return result, nil
}

// History 返回会话历史。
func (s *Service) History(ctx context.Context, conversationID string) (*History, error) {
	stored, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return NewHistory(stored...)
}

// Reset 清空会话历史。进行中的会话不能被清空。
func (s *Service) Reset(ctx context.Context, conversationID string) error {
	if !s.acquire(conversationID) {
		return ErrTurnInProgress
	}
	defer s.release(conversationID)
	return s.store.Clear(ctx, conversationID)
}

// Busy 判断会话是否有进行中的一轮对话。
func (s *Service) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[conversationID]
	return ok
}

func (s *Service) acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[conversationID]; ok {
		return false
	}
	s.active[conversationID] = struct{}{}
	return true
}

func (s *Service) release(conversationID string) {
	s.mu.Lock()
	delete(s.active, conversationID)
	s.mu.Unlock()
}

// failedSource 返回只包含一个错误片段的通道。
func failedSource(err error) <-chan stream.Fragment {
	ch := make(chan stream.Fragment, 1)
	ch <- stream.Fragment{Err: err}
	close(ch)
	return ch
}
