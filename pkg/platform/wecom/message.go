// Package wecom 实现企业微信智能机器人回调：签名校验、加解密与流式刷新。
package wecom

import (
	"encoding/json"
)

// Message 表示企业微信回调的通用消息结构。
type Message struct {
	MsgID       string         `json:"msgid"`                 // 企业微信消息唯一标识
	CreateTime  int64          `json:"create_time,omitempty"` // 消息创建时间
	AIBotID     string         `json:"aibotid"`               // 机器人 ID
	ChatID      string         `json:"chatid"`                // 群或私聊会话 ID
	ChatType    string         `json:"chattype"`              // chat 类型（single/chatroom）
	From        MessageSender  `json:"from"`                  // 触发者信息
	ResponseURL string         `json:"response_url"`          // 异步回复 URL (部分事件有)
	MsgType     string         `json:"msgtype"`               // 消息类型: text, image, voice, file, mixed, stream, event
	Text        *TextPayload   `json:"text,omitempty"`
	Image       *ImagePayload  `json:"image,omitempty"`
	Voice       *VoicePayload  `json:"voice,omitempty"`
	File        *FilePayload   `json:"file,omitempty"`
	Mixed       *MixedPayload  `json:"mixed,omitempty"`
	Stream      *StreamPayload `json:"stream,omitempty"`
	Quote       *QuotePayload  `json:"quote,omitempty"`
	Event       *EventPayload  `json:"event,omitempty"`
}

// MessageSender 描述消息的触发者。
type MessageSender struct {
	UserID string `json:"userid"`           // 用户 ID
	CorpID string `json:"corpid,omitempty"` // 企业 ID (事件中可能返回)
}

// TextPayload 为文本消息内容。
type TextPayload struct {
	Content string `json:"content"` // 文本内容
}

// ImagePayload 为图片消息内容。
type ImagePayload struct {
	URL    string `json:"url,omitempty"`    // 图片访问地址
	Base64 string `json:"base64,omitempty"` // 流式回复时使用
	MD5    string `json:"md5,omitempty"`    // 流式回复时使用
}

// VoicePayload 为语音消息内容。
type VoicePayload struct {
	Content string `json:"content"` // 语音转文本内容
}

// FilePayload 为文件消息内容。
type FilePayload struct {
	URL string `json:"url"` // 文件下载地址
}

// MixedPayload 表示图文混排消息。
type MixedPayload struct {
	Items []MixedItem `json:"msg_item"`
}

// MixedItem 为图文混排中的单个子消息。
type MixedItem struct {
	MsgType string        `json:"msgtype"`
	Text    *TextPayload  `json:"text,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
}

// StreamPayload 表达流式消息的会话信息。
type StreamPayload struct {
	ID      string      `json:"id"`
	Finish  bool        `json:"finish,omitempty"`
	Content string      `json:"content,omitempty"`
	MsgItem []MixedItem `json:"msg_item,omitempty"` // 流式结束时支持图文
}

// QuotePayload 引用消息内容。
type QuotePayload struct {
	MsgType string        `json:"msgtype"`
	Text    *TextPayload  `json:"text,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
	Mixed   *MixedPayload `json:"mixed,omitempty"`
	Voice   *VoicePayload `json:"voice,omitempty"`
	File    *FilePayload  `json:"file,omitempty"`
}

// EventPayload 事件结构体
type EventPayload struct {
	EventType     string         `json:"eventtype"`
	EnterChat     *struct{}      `json:"enter_chat,omitempty"`
	FeedbackEvent *FeedbackEvent `json:"feedback_event,omitempty"`
}

// FeedbackEvent 用户对回复的点赞/点踩反馈
type FeedbackEvent struct {
	ID                   string `json:"id"`                               // 反馈ID，对应回复时下发的 feedback.id
	Type                 int    `json:"type"`                             // 1:准确, 2:不准确, 3:取消
	Content              string `json:"content,omitempty"`                // 反馈内容
	InaccurateReasonList []int  `json:"inaccurate_reason_list,omitempty"` // 负反馈原因
}

// EncryptedRequest 对应企业微信 POST 回调中的加密请求格式。
type EncryptedRequest struct {
	Encrypt string `json:"encrypt"`
}

// EncryptedResponse 表示向企业微信回复的加密数据包。
type EncryptedResponse struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// StreamReply 用于构造流式消息回复的明文结构。
type StreamReply struct {
	MsgType string          `json:"msgtype"`
	Stream  StreamReplyBody `json:"stream"`
}

// StreamReplyBody 为流式回复中的具体内容。
// Content 必须是最新的完整内容，客户端以其替换此前的展示。
type StreamReplyBody struct {
	ID       string        `json:"id"`
	Finish   bool          `json:"finish"`
	Content  string        `json:"content"`
	MsgItem  []MixedItem   `json:"msg_item,omitempty"`
	Feedback *FeedbackInfo `json:"feedback,omitempty"`
}

// FeedbackInfo 回复中携带的反馈标识，用户反馈时回传。
type FeedbackInfo struct {
	ID string `json:"id"`
}

// ParseMessage 将明文 JSON 数据解析为 Message。
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BuildStreamReply 根据 streamID 组装流式回复明文。
// 结束包携带以 streamID 为标识的反馈入口。
func BuildStreamReply(streamID, content string, finish bool) StreamReply {
	reply := StreamReply{
		MsgType: "stream",
		Stream: StreamReplyBody{
			ID:      streamID,
			Finish:  finish,
			Content: content,
		},
	}
	if finish && streamID != "" {
		reply.Stream.Feedback = &FeedbackInfo{ID: streamID}
	}
	return reply
}
