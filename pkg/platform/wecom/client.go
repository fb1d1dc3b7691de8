package wecom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client 封装企业微信主动回复功能，实现 botcore.ActiveResponder。
type Client struct {
	httpClient *http.Client
}

// NewClient 创建一个新的 Client。
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// apiResult 为主动回复接口的通用返回。
type apiResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send 向 response_url 发送主动回复消息。
// response_url 有效期为 1 小时，且每个 url 仅可调用一次。
func (c *Client) Send(responseURL string, msg interface{}) error {
	if responseURL == "" {
		return fmt.Errorf("response_url is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	var result apiResult
	if err := json.Unmarshal(respBody, &result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("wecom api error: errcode=%d errmsg=%s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// MarkdownMessage 主动回复 Markdown 消息结构
type MarkdownMessage struct {
	MsgType  string          `json:"msgtype"` // markdown
	Markdown MarkdownPayload `json:"markdown"`
}

// MarkdownPayload Markdown 正文
type MarkdownPayload struct {
	Content  string        `json:"content"`
	Feedback *FeedbackInfo `json:"feedback,omitempty"`
}

// SendMarkdown 发送 Markdown 消息
func (c *Client) SendMarkdown(responseURL, content string) error {
	return c.Send(responseURL, MarkdownMessage{
		MsgType:  "markdown",
		Markdown: MarkdownPayload{Content: content},
	})
}
