package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/IMBotPlatform/StreamChat/pkg/ai"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// scriptedSource replays fixed fragments; a non-nil block keeps the stream open
// until it is closed or ctx ends.
type scriptedSource struct {
	fragments []string
	err       error
	block     chan struct{}
	started   chan struct{}

	mu     sync.Mutex
	models []string
}

func (s *scriptedSource) Stream(ctx context.Context, req chat.Request) (<-chan stream.Fragment, error) {
	s.mu.Lock()
	s.models = append(s.models, req.Model)
	s.mu.Unlock()
	ch := make(chan stream.Fragment)
	go func() {
		defer close(ch)
		if s.started != nil {
			close(s.started)
		}
		for _, f := range s.fragments {
			select {
			case ch <- stream.Fragment{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
				return
			}
		}
		if s.err != nil {
			select {
			case ch <- stream.Fragment{Err: s.err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Models() []ai.ModelConfig {
	return []ai.ModelConfig{
		{Name: "default", Provider: "ollama", ModelName: "llama3.1:8b"},
		{Name: "fast", Provider: "openai", ModelName: "gpt-4o-mini"},
	}
}
func (fakeCatalog) DefaultModel() string      { return "default" }
func (fakeCatalog) HasModel(name string) bool { return name == "default" || name == "fast" }

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	var events []sseEvent
	for _, chunk := range strings.Split(payload, "\n\n") {
		var evt sseEvent
		for _, line := range strings.Split(strings.TrimSpace(chunk), "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				evt.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T, src chat.CompletionSource) (*Server, *chat.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(chat.NewMemoryStore(), src)
	return New(svc, WithModels(fakeCatalog{})), svc
}

func doJSONRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json %q: %v", data, err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, want, rec.Body.String())
	}
}

func TestHealthzAndModels(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedSource{})

	rec := doJSONRequest(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, srv.Handler(), http.MethodGet, "/api/models", nil)
	assertStatus(t, rec, http.StatusOK)
	var resp struct {
		Models []modelView `json:"models"`
	}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if len(resp.Models) != 2 || !resp.Models[0].Default || resp.Models[1].Default {
		t.Fatalf("unexpected models: %+v", resp.Models)
	}
}

func TestCreateConversationReturnsID(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedSource{})
	rec := doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations", nil)
	assertStatus(t, rec, http.StatusCreated)
	var resp struct {
		ID string `json:"id"`
	}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if len(resp.ID) != 36 {
		t.Fatalf("expected uuid, got %q", resp.ID)
	}
}

func TestPostMessageStreamsSnapshots(t *testing.T) {
	src := &scriptedSource{fragments: []string{"Hel", "lo", "!"}}
	srv, _ := newTestServer(t, src)

	rec := doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations/c1/messages",
		map[string]string{"content": "hi", "model": "fast"})
	assertStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	var names []string
	var contents []string
	for _, e := range events {
		names = append(names, e.Name)
		if e.Name == EventSnapshot {
			var d struct {
				Content string `json:"content"`
			}
			decodeJSON(t, []byte(e.Data), &d)
			contents = append(contents, d.Content)
		}
	}
	wantNames := []string{"ack", "snapshot", "snapshot", "snapshot", "done"}
	if strings.Join(names, ",") != strings.Join(wantNames, ",") {
		t.Fatalf("events = %v, want %v", names, wantNames)
	}
	if strings.Join(contents, "|") != "Hel|Hello|Hello!" {
		t.Fatalf("snapshots = %v", contents)
	}
	if len(src.models) != 1 || src.models[0] != "fast" {
		t.Fatalf("model not forwarded: %v", src.models)
	}

	rec = doJSONRequest(t, srv.Handler(), http.MethodGet, "/api/conversations/c1/messages", nil)
	assertStatus(t, rec, http.StatusOK)
	var hist struct {
		Messages []messageView `json:"messages"`
	}
	decodeJSON(t, rec.Body.Bytes(), &hist)
	if len(hist.Messages) != 2 || hist.Messages[1].Content != "Hello!" {
		t.Fatalf("unexpected visible history: %+v", hist.Messages)
	}

	rec = doJSONRequest(t, srv.Handler(), http.MethodGet, "/api/conversations/c1/messages?all=1", nil)
	decodeJSON(t, rec.Body.Bytes(), &hist)
	if len(hist.Messages) != 3 || hist.Messages[0].Role != chat.RoleSystem {
		t.Fatalf("system message should be listed with all=1: %+v", hist.Messages)
	}
}

func TestPostMessageSourceFailureSendsSentinel(t *testing.T) {
	src := &scriptedSource{fragments: []string{"par"}, err: errors.New("upstream down")}
	srv, svc := newTestServer(t, src)

	rec := doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations/c2/messages",
		map[string]string{"content": "hi"})
	assertStatus(t, rec, http.StatusOK)

	events := parseSSE(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("too few events: %+v", events)
	}
	last := events[len(events)-1]
	if last.Name != EventDone {
		t.Fatalf("last event = %q", last.Name)
	}
	var sentinel struct {
		Content string `json:"content"`
		Failed  bool   `json:"failed"`
	}
	for _, e := range events {
		if e.Name == EventSnapshot {
			decodeJSON(t, []byte(e.Data), &sentinel)
		}
	}
	if !sentinel.Failed || sentinel.Content != stream.DefaultSentinel {
		t.Fatalf("last snapshot should be the sentinel: %+v", sentinel)
	}
	if events[len(events)-2].Name != EventError {
		t.Fatalf("expected error event before done: %+v", events)
	}

	h, err := svc.History(context.Background(), "c2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("failed turn must not be persisted by default, got %d messages", h.Len())
	}
}

func TestPostMessageRejectsEmptyInput(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedSource{})
	rec := doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations/c3/messages",
		map[string]string{"content": "   "})
	assertStatus(t, rec, http.StatusBadRequest)
	if strings.Contains(rec.Header().Get("Content-Type"), "event-stream") {
		t.Fatal("empty input must not open an event stream")
	}
}

func TestPostMessageConflictWhileBusy(t *testing.T) {
	src := &scriptedSource{fragments: []string{"slow"}, block: make(chan struct{}), started: make(chan struct{})}
	srv, _ := newTestServer(t, src)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations/c4/messages",
			map[string]string{"content": "first"})
	}()
	select {
	case <-src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn did not start")
	}

	rec := doJSONRequest(t, srv.Handler(), http.MethodPost, "/api/conversations/c4/messages",
		map[string]string{"content": "second"})
	assertStatus(t, rec, http.StatusConflict)

	rec = doJSONRequest(t, srv.Handler(), http.MethodDelete, "/api/conversations/c4", nil)
	assertStatus(t, rec, http.StatusConflict)

	close(src.block)
	first := <-done
	assertStatus(t, first, http.StatusOK)
}

func TestDeleteConversationClearsHistory(t *testing.T) {
	srv, svc := newTestServer(t, &scriptedSource{fragments: []string{"ok"}})
	if _, err := svc.Send(context.Background(), "c5", "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	rec := doJSONRequest(t, srv.Handler(), http.MethodDelete, "/api/conversations/c5", nil)
	assertStatus(t, rec, http.StatusNoContent)

	h, _ := svc.History(context.Background(), "c5")
	if h.Len() != 0 {
		t.Fatalf("history not cleared: %d", h.Len())
	}
}

func TestWebSocketTurn(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedSource{fragments: []string{"a", "b"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/conversations/w1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"hi"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frames []wsOutbound
	for {
		var f wsOutbound
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v (frames so far %+v)", err, frames)
		}
		frames = append(frames, f)
		if f.Event == EventDone {
			break
		}
	}
	if len(frames) != 4 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Event != EventAck || frames[2].Data.Content != "ab" || frames[3].Data.Content != "ab" {
		t.Fatalf("unexpected frames: %+v", frames)
	}

	// plain text frames are accepted as prompts too
	if err := conn.WriteMessage(websocket.TextMessage, []byte("   ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f wsOutbound
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Event != EventError {
		t.Fatalf("blank frame should yield error event, got %+v", f)
	}
}

func TestParseInbound(t *testing.T) {
	cases := []struct {
		raw  string
		want wsInbound
	}{
		{`{"content":"x","model":"fast"}`, wsInbound{Content: "x", Model: "fast"}},
		{`{"type":"message","content":"y"}`, wsInbound{Type: "message", Content: "y"}},
		{`plain`, wsInbound{Content: "plain"}},
		{`{"type":"config"}`, wsInbound{Content: `{"type":"config"}`}},
	}
	for _, tc := range cases {
		if got := parseInbound([]byte(tc.raw)); got != tc.want {
			t.Errorf("parseInbound(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestWeComMount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(chat.NewMemoryStore(), &scriptedSource{})
	hit := false
	srv := New(svc, WithWeCom("/callback/wecom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	})))
	rec := doJSONRequest(t, srv.Handler(), http.MethodGet, "/callback/wecom?echostr=x", nil)
	assertStatus(t, rec, http.StatusOK)
	if !hit {
		t.Fatal("wecom handler not mounted")
	}
	rec = doJSONRequest(t, srv.Handler(), http.MethodGet, "/api/models", nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestWebSocketOriginCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := chat.NewService(chat.NewMemoryStore(), &scriptedSource{fragments: []string{"ok"}})
	srv := New(svc, WithAllowedOrigins("https://chat.example.com/"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/conversations/o1/ws"

	cases := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"same origin", ts.URL, true},
		{"allowed origin", "https://chat.example.com", true},
		{"foreign origin", "https://evil.example.net", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.origin != "" {
				header.Set("Origin", tc.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if tc.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("foreign origin must be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", resp)
			}
		})
	}
}
