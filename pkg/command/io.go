package command

import (
	"strings"
	"sync"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
)

// StreamWriter 实现 io.Writer，把 Cobra 输出累积为快照并推送到 StreamChunk 通道。
// 每次 Write 推送的 Content 都是目前为止的完整输出。
type StreamWriter struct {
	Ch chan<- botcore.StreamChunk

	mu  sync.Mutex
	buf strings.Builder
}

// NewStreamWriter 创建一个新的 StreamWriter。
func NewStreamWriter(ch chan<- botcore.StreamChunk) *StreamWriter {
	return &StreamWriter{Ch: ch}
}

// Write 追加输出并推送最新快照。
func (w *StreamWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	w.buf.Write(p)
	snapshot := w.buf.String()
	w.mu.Unlock()

	w.Ch <- botcore.StreamChunk{Content: snapshot}
	return len(p), nil
}

// String 返回目前累积的完整输出。
func (w *StreamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
