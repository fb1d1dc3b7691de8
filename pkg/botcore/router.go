package botcore

import "strings"

// Matcher 定义路由匹配逻辑。
// 返回 true 表示该路由应该处理此 Update。
type Matcher func(update Update) bool

// Handler 定义路由处理逻辑，语义上等同 PipelineInvoker。
type Handler PipelineInvoker

// Route 定义单条路由规则。
type Route struct {
	Name    string
	Matcher Matcher
	Handler Handler
}

// Chain 按注册顺序匹配路由，命中即移交并停止后续匹配；
// 全部未命中时交给 defaultHandler。
//
//	Update -> [route 1?] -> [route 2?] -> ... -> defaultHandler
type Chain struct {
	routes         []Route
	defaultHandler Handler
}

// NewChain 创建路由链。
func NewChain(defaultHandler Handler) *Chain {
	return &Chain{defaultHandler: defaultHandler}
}

// AddRoute 添加一条路由规则。
func (c *Chain) AddRoute(name string, matcher Matcher, handler Handler) {
	c.routes = append(c.routes, Route{Name: name, Matcher: matcher, Handler: handler})
}

// Match 返回命中的路由名，未命中返回 "default"，无默认处理器时返回空串。
func (c *Chain) Match(update Update) string {
	for _, route := range c.routes {
		if route.Matcher(update) {
			return route.Name
		}
	}
	if c.defaultHandler != nil {
		return "default"
	}
	return ""
}

// Trigger 实现 PipelineInvoker 接口。既无匹配也无默认处理器时返回 nil（静默）。
func (c *Chain) Trigger(update Update, streamID string) <-chan StreamChunk {
	for _, route := range c.routes {
		if route.Matcher(update) {
			return route.Handler.Trigger(update, streamID)
		}
	}
	if c.defaultHandler != nil {
		return c.defaultHandler.Trigger(update, streamID)
	}
	return nil
}

// MatchPrefix 匹配去除前导空白后的文本前缀。
func MatchPrefix(prefix string) Matcher {
	return func(u Update) bool {
		return strings.HasPrefix(strings.TrimLeft(u.Text, " \t\r\n"), prefix)
	}
}

// MatchAny 总是匹配。
func MatchAny() Matcher {
	return func(Update) bool { return true }
}
