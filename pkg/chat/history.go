package chat

import "errors"

// ErrSystemMessage 表示试图在非首位追加 system 消息。
var ErrSystemMessage = errors.New("system message must be the first message")

// History 是一次会话的有序消息序列，只允许追加。
// 首条消息（若存在）为 system，且不会被移除或重复。
// History 不是并发安全的，由唯一的驱动方持有。
type History struct {
	messages []Message
}

// NewHistory 以已有消息构建历史，并校验 system 位置约束。
func NewHistory(messages ...Message) (*History, error) {
	h := &History{}
	for _, m := range messages {
		if err := h.Append(m); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Append 追加一条消息，角色别名（human、ai）统一为规范值后存储。
func (h *History) Append(m Message) error {
	role, err := ParseRole(string(m.Role))
	if err != nil {
		return err
	}
	if role == RoleSystem && len(h.messages) > 0 {
		return ErrSystemMessage
	}
	m.Role = role
	h.messages = append(h.messages, m)
	return nil
}

// Len 返回消息数量。
func (h *History) Len() int {
	return len(h.messages)
}

// HasSystem 判断首条消息是否为 system。
func (h *History) HasSystem() bool {
	return len(h.messages) > 0 && h.messages[0].Role == RoleSystem
}

// Messages 返回消息副本。
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Visible 返回去除 system 后的消息，用于展示。
func (h *History) Visible() []Message {
	out := make([]Message, 0, len(h.messages))
	for _, m := range h.messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Compose 生成发往补全源的请求消息：历史 + 新的用户消息。
// window > 0 时只保留最近 window 条非 system 消息，system 始终位于首位。
func (h *History) Compose(prompt Message, window int) []Message {
	start := 0
	var out []Message
	if h.HasSystem() {
		out = append(out, h.messages[0])
		start = 1
	}
	rest := h.messages[start:]
	if window > 0 && len(rest) > window {
		rest = rest[len(rest)-window:]
	}
	out = append(out, rest...)
	return append(out, prompt)
}
