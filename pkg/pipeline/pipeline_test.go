package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/IMBotPlatform/StreamChat/pkg/botcore"
	"github.com/IMBotPlatform/StreamChat/pkg/chat"
	"github.com/IMBotPlatform/StreamChat/pkg/command"
	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

// scriptedSource replays fixed fragments and records requests.
type scriptedSource struct {
	fragments []string
	err       error
	requests  []chat.Request
}

func (s *scriptedSource) Stream(ctx context.Context, req chat.Request) (<-chan stream.Fragment, error) {
	s.requests = append(s.requests, req)
	ch := make(chan stream.Fragment, len(s.fragments)+1)
	for _, f := range s.fragments {
		ch <- stream.Fragment{Text: f}
	}
	if s.err != nil {
		ch <- stream.Fragment{Err: s.err}
	}
	close(ch)
	return ch, nil
}

func drain(ch <-chan botcore.StreamChunk) []botcore.StreamChunk {
	var out []botcore.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestChatHandlerStreamsSnapshots(t *testing.T) {
	src := &scriptedSource{fragments: []string{"He", "llo"}}
	svc := chat.NewService(chat.NewMemoryStore(), src)
	h := NewChatHandler(svc, nil)

	chunks := drain(h.Trigger(botcore.Update{ChatID: "room", SenderID: "bob", Text: "hi"}, "sid"))
	want := []string{"He", "Hello", "Hello"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %+v", len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].Content != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Content)
		}
	}
	if !chunks[2].IsFinal || chunks[0].IsFinal {
		t.Fatalf("only the last chunk must be final: %+v", chunks)
	}

	history, err := svc.History(context.Background(), "room:bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.Len() != 3 {
		t.Fatalf("expected system+user+assistant, got %d", history.Len())
	}
}

func TestChatHandlerReportsFailureSentinel(t *testing.T) {
	src := &scriptedSource{fragments: []string{"par"}, err: errors.New("boom")}
	h := NewChatHandler(chat.NewService(chat.NewMemoryStore(), src), nil)

	chunks := drain(h.Trigger(botcore.Update{SenderID: "bob", Text: "hi"}, "sid"))
	last := chunks[len(chunks)-1]
	if !last.IsFinal || !last.Failed || last.Content != stream.DefaultSentinel {
		t.Fatalf("unexpected final chunk %+v", last)
	}
	if chunks[0].Content != "par" {
		t.Fatalf("buffered text must be flushed before the sentinel, got %+v", chunks)
	}
}

func TestChatHandlerEmptyInputWarns(t *testing.T) {
	src := &scriptedSource{}
	h := NewChatHandler(chat.NewService(chat.NewMemoryStore(), src), nil)

	chunks := drain(h.Trigger(botcore.Update{SenderID: "bob", Text: "   "}, "sid"))
	if len(chunks) != 1 || chunks[0].Content != EmptyInputWarning || !chunks[0].IsFinal {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if len(src.requests) != 0 {
		t.Fatalf("source must not be called for empty input")
	}
}

func TestPipelineRoutesCommandsAndUsesSelectedModel(t *testing.T) {
	src := &scriptedSource{fragments: []string{"ok"}}
	values := command.NewMemoryStore()
	svc := chat.NewService(chat.NewMemoryStore(), src)
	if err := values.Save("room:bob", command.ContextValues{command.ValueModel: "fast"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	mgr := command.NewManager(command.BuiltinFactory(), values, command.WithChat(svc))
	chain := New(mgr, NewChatHandler(svc, values))

	update := botcore.Update{ChatID: "room", SenderID: "bob", Text: "hello"}
	drain(chain.Trigger(update, "sid"))
	if len(src.requests) != 1 || src.requests[0].Model != "fast" {
		t.Fatalf("expected model override, got %+v", src.requests)
	}

	update.Text = "/history"
	chunks := drain(chain.Trigger(update, "sid"))
	out := chunks[len(chunks)-1].Content
	if !strings.Contains(out, "You: hello") || !strings.Contains(out, "Assistant: ok") {
		t.Fatalf("unexpected history output:\n%s", out)
	}
	if len(src.requests) != 1 {
		t.Fatalf("commands must not reach the completion source")
	}
	if !IsCommand(" /reset") || IsCommand("reset") {
		t.Fatalf("IsCommand mismatch")
	}
}
