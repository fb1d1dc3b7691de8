package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 64 * 1024
)

func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin 放行无 Origin 的非浏览器客户端、同源请求以及 allowed_origins 中的来源。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", zap.String("origin", origin))
	return false
}

// wsInbound 是客户端发来的 JSON 帧；非 JSON 文本整体视为 content。
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Model   string `json:"model"`
}

// wsOutbound 是下发给客户端的帧：{event, data:{content}}。
type wsOutbound struct {
	Event string      `json:"event"`
	Data  wsFrameData `json:"data"`
}

type wsFrameData struct {
	Content string `json:"content"`
	Seq     int    `json:"seq,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

func parseInbound(raw []byte) wsInbound {
	var in wsInbound
	if err := json.Unmarshal(raw, &in); err != nil || (in.Type != "" && in.Type != "message") {
		return wsInbound{Content: string(raw)}
	}
	return in
}

// serveWS 将连接升级为 WebSocket，每个文本帧触发一轮对话。
//
//	Client (WebSocket)
//	    /          \
//	readPump     writePump
//	    |            ^
//	    v            |
//	turnLoop ---> out chan
//	(chat.Send)
//
// 同一连接上的轮次按序执行；任一协程退出即关闭整个连接。
func (s *Server) serveWS(c *gin.Context) {
	id := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	logger := s.logger.With(zap.String("conversation", id))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	prompts := make(chan wsInbound, 8)
	out := make(chan wsOutbound, 32)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.wsReadPump(gctx, conn, prompts, logger)
	})
	g.Go(func() error {
		defer cancel()
		return s.wsTurnLoop(gctx, id, prompts, out)
	})
	g.Go(func() error {
		defer cancel()
		return wsWritePump(gctx, conn, out)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Info("websocket closed", zap.Error(err))
	}
}

func (s *Server) wsReadPump(ctx context.Context, conn *websocket.Conn, prompts chan<- wsInbound, logger *zap.Logger) error {
	defer close(prompts)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			logger.Debug("ignore non-text frame", zap.Int("type", msgType))
			continue
		}
		select {
		case prompts <- parseInbound(raw):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) wsTurnLoop(ctx context.Context, id string, prompts <-chan wsInbound, out chan<- wsOutbound) error {
	defer close(out)
	emit := func(frame wsOutbound) error {
		select {
		case out <- frame:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for in := range prompts {
		if strings.TrimSpace(in.Content) == "" {
			if err := emit(wsOutbound{Event: EventError, Data: wsFrameData{Content: chat.ErrEmptyInput.Error()}}); err != nil {
				return nil
			}
			continue
		}
		if err := emit(wsOutbound{Event: EventAck, Data: wsFrameData{Content: in.Content}}); err != nil {
			return nil
		}

		sink := chat.SinkFunc(func(ctx context.Context, snap stream.Snapshot) error {
			return emit(wsOutbound{Event: EventSnapshot, Data: wsFrameData{
				Content: snap.Content,
				Seq:     snap.Seq,
				Failed:  snap.Failed,
			}})
		})
		var opts []chat.TurnOption
		if in.Model != "" {
			opts = append(opts, chat.WithModel(in.Model))
		}
		res, err := s.chat.Send(ctx, id, in.Content, sink, opts...)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if emitErr := emit(wsOutbound{Event: EventError, Data: wsFrameData{Content: err.Error()}}); emitErr != nil {
				return nil
			}
			continue
		}
		if res.SourceErr != nil {
			if err := emit(wsOutbound{Event: EventError, Data: wsFrameData{Content: res.SourceErr.Error()}}); err != nil {
				return nil
			}
		}
		if err := emit(wsOutbound{Event: EventDone, Data: wsFrameData{Content: res.Reply.Content}}); err != nil {
			return nil
		}
	}
	return nil
}

func wsWritePump(ctx context.Context, conn *websocket.Conn, out <-chan wsOutbound) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
