package botcore

// StreamChunk 描述流式输出片段。
// Content 始终是本轮到目前为止的完整快照，下游直接替换渲染即可。
type StreamChunk struct {
	Content string
	Failed  bool // 补全失败，Content 为占位文本
	IsFinal bool
}

// PipelineInvoker 抽象命令/业务执行器。
type PipelineInvoker interface {
	Trigger(update Update, streamID string) <-chan StreamChunk
}

// ActiveResponder 定义主动发送消息的能力。
type ActiveResponder interface {
	Send(responseURL string, msg interface{}) error
	SendMarkdown(responseURL, content string) error
}

// PipelineFunc 便于直接以函数充当 PipelineInvoker。
type PipelineFunc func(update Update, streamID string) <-chan StreamChunk

// Trigger 实现 PipelineInvoker 接口。
func (f PipelineFunc) Trigger(update Update, streamID string) <-chan StreamChunk {
	if f == nil {
		return nil
	}
	return f(update, streamID)
}
