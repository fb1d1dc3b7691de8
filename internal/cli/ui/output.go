// Package ui 负责终端输出：流式快照渲染、历史展示与提示信息。
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	// 终端输出配色
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

// Styles 汇总 CLI 使用的 lipgloss 样式。
var Styles = struct {
	Bold      lipgloss.Style
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Body      lipgloss.Style
}{
	Bold: lipgloss.NewStyle().Bold(true),

	Banner: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("86")).
		Padding(0, 2),

	User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
	Body:      lipgloss.NewStyle().PaddingLeft(2),
}

// PrintSuccess 输出成功提示。
func PrintSuccess(w io.Writer, format string, args ...any) {
	successColor.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

// PrintError 输出错误提示。
func PrintError(w io.Writer, format string, args ...any) {
	errorColor.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, args...))
}

// PrintWarning 输出警告。
func PrintWarning(w io.Writer, format string, args ...any) {
	warningColor.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo 输出普通提示。
func PrintInfo(w io.Writer, format string, args ...any) {
	infoColor.Fprintf(w, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// PrintWelcome 打印会话开场信息。
func PrintWelcome(w io.Writer, conversationID, model string) {
	body := fmt.Sprintf("%s\nconversation: %s\nmodel: %s\n%s",
		Styles.Bold.Render("StreamChat"),
		conversationID,
		model,
		dimColor.Sprint("/help for commands, Ctrl-C cancels a reply, exit to quit"))
	fmt.Fprintln(w, Styles.Banner.Render(body))
}
