package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// SSE 事件名。
const (
	EventAck      = "ack"
	EventSnapshot = "snapshot"
	EventError    = "error"
	EventDone     = "done"
)

type sendRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// sseWriter 在首次写入时才发送响应头，
// 使得 Send 在产出快照前返回的错误仍能以普通 JSON 状态码回复。
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func (w *sseWriter) begin() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
}

func (w *sseWriter) send(event string, payload any) error {
	w.begin()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// postMessage 执行一轮对话并以 SSE 推送快照。
//
// 事件顺序：
//
//	ack -> snapshot* -> done
//	           |
//	           +-> error（补全源失败时 snapshot 携带占位文本，随后 error）
//
// 输入为空返回 400，会话忙返回 409，均不进入 SSE。
func (s *Server) postMessage(c *gin.Context) {
	id := c.Param("id")
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if s.chat.Busy(id) {
		c.JSON(http.StatusConflict, gin.H{"error": chat.ErrTurnInProgress.Error()})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	w := &sseWriter{c: c, flusher: flusher}

	sink := chat.SinkFunc(func(ctx context.Context, snap stream.Snapshot) error {
		if !w.started {
			if err := w.send(EventAck, gin.H{"id": id, "content": req.Content}); err != nil {
				return err
			}
		}
		return w.send(EventSnapshot, gin.H{
			"seq":     snap.Seq,
			"content": snap.Content,
			"failed":  snap.Failed,
		})
	})

	var opts []chat.TurnOption
	if req.Model != "" {
		opts = append(opts, chat.WithModel(req.Model))
	}
	res, err := s.chat.Send(c.Request.Context(), id, req.Content, sink, opts...)
	if err != nil {
		if !w.started {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		s.logger.Warn("sse turn aborted", zap.String("conversation", id), zap.Error(err))
		_ = w.send(EventError, gin.H{"message": err.Error()})
		return
	}
	if !w.started {
		_ = w.send(EventAck, gin.H{"id": id, "content": req.Content})
	}
	if res.SourceErr != nil {
		_ = w.send(EventError, gin.H{"message": res.SourceErr.Error()})
	}
	_ = w.send(EventDone, gin.H{
		"outcome":   res.Outcome.String(),
		"content":   res.Reply.Content,
		"snapshots": res.Snapshots,
		"committed": res.Committed,
	})
}
