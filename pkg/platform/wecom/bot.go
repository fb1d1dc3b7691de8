package wecom

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
)

const (
	defaultRefreshTimeout = 500 * time.Millisecond
	firstFrameWait        = 200 * time.Millisecond
)

// ErrNoResponse 表示本次回调不进行被动回复（HTTP 200 OK 空包）。
var ErrNoResponse = errors.New("no response")

// Bot 集成企业微信回调处理与流式响应逻辑。
// Fields:
//   - Sessions: 管理流式会话生命周期的 SessionManager
//   - Crypto: 负责签名校验与加解密的 Crypt
//   - Pipeline: 首包触发的业务流水线实现，可为空
//   - Timeout: 刷新请求等待新快照的最大时长
type Bot struct {
	Sessions  *SessionManager
	Crypto    *Crypt
	Pipeline  botcore.PipelineInvoker
	Adapter   botcore.Adapter
	Emitter   botcore.Emitter
	Responder botcore.ActiveResponder
	Timeout   time.Duration
	Logger    *zap.Logger

	fallback sync.Map // msgid -> botcore.StreamChunk，用于记录未及时下发的最终快照。
}

// BotOption 用于定制 Bot 行为。
type BotOption func(*Bot)

// WithAdapter 自定义消息标准化适配器。
func WithAdapter(adapter botcore.Adapter) BotOption {
	return func(b *Bot) {
		b.Adapter = adapter
	}
}

// WithEmitter 覆盖默认的流式响应构造器。
func WithEmitter(emitter botcore.Emitter) BotOption {
	return func(b *Bot) {
		b.Emitter = emitter
	}
}

// WithResponder 设置主动回复器：会话已过期的最终结果经 response_url 补发。
func WithResponder(r botcore.ActiveResponder) BotOption {
	return func(b *Bot) {
		b.Responder = r
	}
}

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) BotOption {
	return func(b *Bot) {
		b.Logger = l
	}
}

// NewBot 根据给定参数创建 Bot。
// Parameters:
//   - crypto: 企业微信加解密上下文，不能为空
//   - sessionTTL: 会话最大存活时间（<=0 时使用 SessionManager 默认值）
//   - timeout: 刷新请求等待快照的最大时长（<=0 时回退默认值）
//   - pipeline: 首包触发的业务流水线实现，可为 nil
func NewBot(crypto *Crypt, sessionTTL, timeout time.Duration, pipeline botcore.PipelineInvoker, opts ...BotOption) (*Bot, error) {
	if crypto == nil {
		return nil, errors.New("crypto is required")
	}
	bot := &Bot{
		Sessions: NewSessionManager(sessionTTL),
		Crypto:   crypto,
		Pipeline: pipeline,
		Timeout:  timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(bot)
		}
	}
	if bot.Adapter == nil {
		bot.Adapter = MessageAdapter{}
	}
	if bot.Emitter == nil {
		bot.Emitter = StreamEmitter{}
	}
	if bot.Logger == nil {
		bot.Logger = zap.NewNop()
	}
	return bot, nil
}

// ServeHTTP 实现 http.Handler：GET 用于 URL 验证，POST 承载消息推送。
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.handleGet(w, r)
	case http.MethodPost:
		b.handlePost(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGet 校验签名并返回解密后的 echostr。
func (b *Bot) handleGet(w http.ResponseWriter, r *http.Request) {
	if b == nil || b.Crypto == nil {
		http.Error(w, "server misconfigured", http.StatusInternalServerError)
		return
	}
	query := r.URL.Query()
	sig := query.Get("msg_signature")
	ts := query.Get("timestamp")
	nonce := query.Get("nonce")
	echostr := query.Get("echostr")
	if sig == "" || ts == "" || nonce == "" || echostr == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	plain, err := b.Crypto.VerifyURL(sig, ts, nonce, echostr)
	if err != nil {
		b.logger().Warn("wecom url verification failed", zap.Error(err))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8") // 企业微信要求返回纯文本
	_, _ = w.Write([]byte(plain))
}

// handlePost 完成解密、业务响应构造与加密返回。
//
//	[读取URL参数] -> [校验缺失?] --是--> [400]
//	     |
//	[解析JSON体] -> [解密消息]
//	     |
//	[stream?] -> [Refresh] / [Initial]
//	     |
//	[JSON序列化响应] -> [写回加密包]
func (b *Bot) handlePost(w http.ResponseWriter, r *http.Request) {
	if b == nil || b.Crypto == nil || b.Sessions == nil {
		http.Error(w, "server misconfigured", http.StatusInternalServerError)
		return
	}
	b.Cleanup()

	query := r.URL.Query()
	sig := query.Get("msg_signature")
	ts := query.Get("timestamp")
	nonce := query.Get("nonce")
	if sig == "" || ts == "" || nonce == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	var req EncryptedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Encrypt == "" {
		http.Error(w, "missing encrypt", http.StatusBadRequest)
		return
	}

	msg, err := b.Crypto.DecryptMessage(sig, ts, nonce, req)
	if err != nil {
		b.logger().Warn("wecom decrypt failed", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var resp EncryptedResponse
	if msg.MsgType == "stream" {
		resp, err = b.Refresh(msg, ts, nonce)
	} else {
		resp, err = b.Initial(msg, ts, nonce)
	}
	if errors.Is(err, ErrNoResponse) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		b.logger().Error("wecom callback failed", zap.String("msgid", msg.MsgID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

// Initial 处理首次回调，创建流式会话并触发业务流水线。
//
//	[无文本事件?] --是--> ErrNoResponse
//	     |
//	[创建/复用会话] -> [触发流水线] -> [等待首帧]
//	     |                  |
//	     |           [有首帧] -> [首包携带快照] -> [后台消费剩余]
//	     |                  |
//	     |           [超时] -> [空首包] -> [后台消费]
//	     v
//	[加密返回]
func (b *Bot) Initial(msg *Message, timestamp, nonce string) (EncryptedResponse, error) {
	if b.Adapter == nil {
		return EncryptedResponse{}, errors.New("adapter not configured")
	}
	update, err := b.Adapter.Normalize(msg)
	if err != nil {
		return EncryptedResponse{}, err
	}
	if msg.MsgType == "event" && strings.TrimSpace(update.Text) == "" {
		b.logger().Info("wecom event acknowledged",
			zap.String("event", update.Metadata["event_type"]),
			zap.String("feedback_id", update.Metadata["feedback_id"]),
			zap.String("feedback_type", update.Metadata["feedback_type"]))
		return EncryptedResponse{}, ErrNoResponse
	}

	session, isNew := b.Sessions.CreateOrGet(msg)
	b.Sessions.SetUpdate(session.StreamID, update)

	initialChunk := botcore.StreamChunk{}
	if isNew && b.Pipeline != nil {
		if outCh := b.Pipeline.Trigger(update, session.StreamID); outCh != nil {
			select {
			case chunk, ok := <-outCh:
				if ok {
					// 首帧直接随首包返回，只记录不入队，后续快照由 Refresh 消费
					b.Sessions.Record(session.StreamID, chunk)
					initialChunk = chunk
					if chunk.IsFinal {
						b.Sessions.MarkFinished(session.StreamID)
					}
					go b.consumePipeline(outCh, msg.MsgID, session.StreamID, update)
				} else {
					b.Sessions.MarkFinished(session.StreamID)
					initialChunk = botcore.StreamChunk{IsFinal: true}
				}
			case <-time.After(firstFrameWait):
				go b.consumePipeline(outCh, msg.MsgID, session.StreamID, update)
			}
		}
	}

	reply, err := b.buildReply(update, session.StreamID, initialChunk)
	if err != nil {
		return EncryptedResponse{}, err
	}
	return b.Crypto.EncryptResponse(reply, timestamp, nonce)
}

// Refresh 处理企业微信的流式刷新请求，返回最新完整快照。
//
//	[streamID为空?] --是--> [返回空终止包]
//	     |
//	[Consume 等待快照] --无--> [fallback?] --无--> [返回空包]
//	     |
//	[final? 标记完成] -> [加密返回]
func (b *Bot) Refresh(msg *Message, timestamp, nonce string) (EncryptedResponse, error) {
	streamID := ""
	if msg.Stream != nil {
		streamID = msg.Stream.ID
	}
	if streamID == "" {
		reply, err := b.buildReply(botcore.Update{}, "", botcore.StreamChunk{IsFinal: true})
		if err != nil {
			return EncryptedResponse{}, err
		}
		return b.Crypto.EncryptResponse(reply, timestamp, nonce)
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	chunk := b.Sessions.Consume(streamID, timeout)
	if chunk == nil && msg.MsgID != "" {
		if cached, ok := b.fallback.LoadAndDelete(msg.MsgID); ok {
			if stored, ok := cached.(botcore.StreamChunk); ok {
				chunk = &stored
			}
		}
	}
	update := b.Sessions.GetUpdate(streamID)
	if chunk == nil {
		reply, err := b.buildReply(update, streamID, botcore.StreamChunk{})
		if err != nil {
			return EncryptedResponse{}, err
		}
		return b.Crypto.EncryptResponse(reply, timestamp, nonce)
	}
	if chunk.IsFinal {
		b.Sessions.MarkFinished(streamID)
	}
	reply, err := b.buildReply(update, streamID, *chunk)
	if err != nil {
		return EncryptedResponse{}, err
	}
	return b.Crypto.EncryptResponse(reply, timestamp, nonce)
}

// pushStreamChunk 将快照推送到对应会话。
//
//	[查找streamID] --无--> [final? 缓存fallback]
//	     |
//	[Publish] --失败--> [final? 缓存fallback]
//	     |
//	[final? 标记完成]
func (b *Bot) pushStreamChunk(streamID, msgID string, chunk botcore.StreamChunk) bool {
	target := streamID
	if target == "" && msgID != "" {
		if located, ok := b.Sessions.GetStreamIDByMsg(msgID); ok {
			target = located
		}
	}
	if target == "" || !b.Sessions.Publish(target, chunk) {
		return b.cacheFallback(msgID, chunk)
	}
	if chunk.IsFinal {
		b.Sessions.MarkFinished(target)
	}
	return true
}

// cacheFallback 仅缓存终结快照，保证刷新请求找不到会话时仍能拿到结束信号。
func (b *Bot) cacheFallback(msgID string, chunk botcore.StreamChunk) bool {
	if chunk.IsFinal && msgID != "" {
		b.fallback.Store(msgID, chunk)
	}
	return false
}

// PushStreamChunk 在流水线外部直接推送快照。
func (b *Bot) PushStreamChunk(msgID, content string, isFinal bool) bool {
	return b.pushStreamChunk("", msgID, botcore.StreamChunk{Content: content, IsFinal: isFinal})
}

// SetFinalMessage 缓存最终结果以备刷新，找不到会话时写入 fallback。
func (b *Bot) SetFinalMessage(msgID, content string) {
	b.pushStreamChunk("", msgID, botcore.StreamChunk{Content: content, IsFinal: true})
}

// Cleanup 清理过期会话。
func (b *Bot) Cleanup() {
	if b == nil || b.Sessions == nil {
		return
	}
	b.Sessions.Cleanup()
}

func (b *Bot) consumePipeline(outCh <-chan botcore.StreamChunk, msgID, streamID string, update botcore.Update) {
	for chunk := range outCh {
		if chunk.Content == "" && !chunk.IsFinal {
			continue
		}
		delivered := b.pushStreamChunk(streamID, msgID, chunk)
		if !delivered && chunk.IsFinal {
			b.sendActive(update, chunk)
		}
	}
}

// sendActive 会话已过期时通过 response_url 主动补发最终结果。
func (b *Bot) sendActive(update botcore.Update, chunk botcore.StreamChunk) {
	url := update.Metadata["response_url"]
	if b.Responder == nil || url == "" || chunk.Content == "" {
		return
	}
	if err := b.Responder.SendMarkdown(url, chunk.Content); err != nil {
		b.logger().Warn("wecom active reply failed", zap.String("msgid", update.ID), zap.Error(err))
	}
}

func (b *Bot) buildReply(update botcore.Update, streamID string, chunk botcore.StreamChunk) (interface{}, error) {
	if b == nil || b.Emitter == nil {
		return BuildStreamReply(streamID, chunk.Content, chunk.IsFinal), nil
	}
	return b.Emitter.Encode(update, streamID, chunk)
}

func (b *Bot) logger() *zap.Logger {
	if b == nil || b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}
