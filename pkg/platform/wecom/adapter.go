package wecom

import (
	"errors"
	"strconv"
	"strings"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
)

// EnterChatCommand 是进入会话事件映射出的隐式命令。
const EnterChatCommand = "/help"

// MessageAdapter 将企业微信 Message 映射为通用 Update。
type MessageAdapter struct{}

// Normalize 实现 botcore.Adapter。
// 文本、语音转写与图文混排中的文字都作为 Update.Text；
// 进入会话事件映射为 /help，其余事件 Text 为空。
func (MessageAdapter) Normalize(raw interface{}) (botcore.Update, error) {
	msg, ok := raw.(*Message)
	if !ok || msg == nil {
		return botcore.Update{}, errors.New("invalid wecom message")
	}

	meta := map[string]string{
		"platform":     "wecom",
		"msgtype":      msg.MsgType,
		"response_url": msg.ResponseURL,
	}
	if msg.Stream != nil {
		meta["stream_id"] = msg.Stream.ID
	}

	text := messageText(msg)
	if msg.MsgType == "event" && msg.Event != nil {
		meta["event_type"] = msg.Event.EventType
		switch {
		case msg.Event.EnterChat != nil:
			text = EnterChatCommand
		case msg.Event.FeedbackEvent != nil:
			meta["feedback_id"] = msg.Event.FeedbackEvent.ID
			meta["feedback_type"] = strconv.Itoa(msg.Event.FeedbackEvent.Type)
		}
	}

	return botcore.Update{
		ID:       msg.MsgID,
		SenderID: msg.From.UserID,
		ChatID:   msg.ChatID,
		ChatType: msg.ChatType,
		Text:     text,
		Raw:      msg,
		Metadata: meta,
	}, nil
}

func messageText(msg *Message) string {
	switch {
	case msg.Text != nil:
		return msg.Text.Content
	case msg.Voice != nil:
		return msg.Voice.Content
	case msg.Mixed != nil:
		var parts []string
		for _, item := range msg.Mixed.Items {
			if item.Text != nil && item.Text.Content != "" {
				parts = append(parts, item.Text.Content)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// StreamEmitter 将 StreamChunk 转换为企业微信 StreamReply。
type StreamEmitter struct{}

// Encode 将快照降级为 StreamReply 结构体。
func (StreamEmitter) Encode(update botcore.Update, streamID string, chunk botcore.StreamChunk) (interface{}, error) {
	return BuildStreamReply(streamID, chunk.Content, chunk.IsFinal), nil
}
