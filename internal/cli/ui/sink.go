package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// TerminalSink 将快照渲染到只能追加的终端。
//
// 快照是全量文本，终端无法回退，所以只写出相对上次的新增后缀；
// 快照与已输出内容不连续时（例如补全失败后的占位文本）另起一行整体输出。
type TerminalSink struct {
	mu      sync.Mutex
	out     io.Writer
	printed string
}

var _ chat.Sink = (*TerminalSink)(nil)

// NewTerminalSink 创建写入 out 的展示端。
func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out}
}

// Render 实现 chat.Sink。
func (s *TerminalSink) Render(ctx context.Context, snap stream.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Failed {
		if s.printed != "" {
			if _, err := fmt.Fprintln(s.out); err != nil {
				return err
			}
		}
		if _, err := errorColor.Fprint(s.out, snap.Content); err != nil {
			return err
		}
		s.printed = snap.Content
		return nil
	}

	if strings.HasPrefix(snap.Content, s.printed) {
		if _, err := io.WriteString(s.out, snap.Content[len(s.printed):]); err != nil {
			return err
		}
	} else {
		if s.printed != "" {
			if _, err := fmt.Fprintln(s.out); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(s.out, snap.Content); err != nil {
			return err
		}
	}
	s.printed = snap.Content
	return nil
}

// Finish 结束当前回复并为下一轮复位。
func (s *TerminalSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.printed != "" && !strings.HasSuffix(s.printed, "\n") {
		fmt.Fprintln(s.out)
	}
	s.printed = ""
}

// RenderHistory 以角色标签 + 缩进正文的形式输出历史消息。
func RenderHistory(w io.Writer, messages []chat.Message) {
	if len(messages) == 0 {
		dimColor.Fprintln(w, "No messages yet.")
		return
	}
	for _, m := range messages {
		fmt.Fprintln(w, roleStyle(m.Role).Render(roleTitle(m.Role)))
		fmt.Fprintln(w, Styles.Body.Render(m.Content))
	}
}

func roleStyle(r chat.Role) lipgloss.Style {
	switch r {
	case chat.RoleUser:
		return Styles.User
	case chat.RoleAssistant:
		return Styles.Assistant
	default:
		return Styles.System
	}
}

func roleTitle(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}
