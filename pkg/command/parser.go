package command

import (
	"strings"
)

// ParseResult 承载文本命令解析后的结构化结果。
type ParseResult struct {
	IsCommand   bool     // 是否检测到命令前缀
	Name        string   // 小写命令名
	Tokens      []string // 命令及参数 token（包含命令本身）
	Raw         string   // 原始输入文本
	ArgumentRaw string   // 去除命令后的原始参数串
}

// Parser 判定文本是否为命令并拆分 token。
type Parser struct {
	Prefix string // 命令前缀，默认 "/"
}

// NewParser 创建带默认前缀的解析器。
func NewParser() Parser {
	return Parser{Prefix: "/"}
}

// Parse 将文本拆解为命令 token。规则参考 Telegram Message.IsCommand：
// "/cmd@botname arg" 中的 @botname 会被去掉。
func (p Parser) Parse(text string) ParseResult {
	result := ParseResult{Raw: text}
	prefix := p.Prefix
	if prefix == "" {
		prefix = "/"
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return result
	}
	first := fields[0]
	name, found := strings.CutPrefix(first, prefix)
	if !found {
		return result
	}
	if at := strings.IndexRune(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return result
	}

	result.IsCommand = true
	result.Name = strings.ToLower(name)
	result.Tokens = append([]string{result.Name}, fields[1:]...)
	if len(fields) > 1 {
		trimmed := strings.TrimSpace(text)
		result.ArgumentRaw = strings.TrimSpace(strings.TrimPrefix(trimmed, first))
	}
	return result
}
