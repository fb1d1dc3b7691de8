package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IMBotPlatform/StreamChat/pkg/stream"
)

func TestSendCommitsTurnAndStreamsSnapshots(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{Fragments: []string{"a", "b", "c"}}
	svc := NewService(store, source, WithThreshold(1))
	sink := &recordSink{}

	res, err := svc.Send(context.Background(), "c1", "hello", sink)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := strings.Join(sink.Contents(), "|"); got != "a|ab|abc" {
		t.Fatalf("unexpected snapshots: %s", got)
	}
	if res.Outcome != stream.Completed || !res.Committed || res.Reply.Content != "abc" || res.Snapshots != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	msgs, _ := store.Load(context.Background(), "c1")
	if len(msgs) != 3 {
		t.Fatalf("expected system, user, assistant; got %+v", msgs)
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Fatalf("expected default system prompt first, got %+v", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[2].Role != RoleAssistant || msgs[2].Content != "abc" {
		t.Fatalf("unexpected turn messages: %+v", msgs[1:])
	}

	calls := source.Calls()
	if len(calls) != 1 || len(calls[0].Messages) != 2 || calls[0].Messages[1].Content != "hello" {
		t.Fatalf("unexpected request: %+v", calls)
	}
}

func TestSendReplaysHistoryInOrder(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{Fragments: []string{"ok"}}
	svc := NewService(store, source)

	for _, prompt := range []string{"first", "second"} {
		if _, err := svc.Send(context.Background(), "c1", prompt, nil); err != nil {
			t.Fatalf("send %q: %v", prompt, err)
		}
	}
	calls := source.Calls()
	second := calls[1].Messages
	want := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(second) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(second))
	}
	for i, m := range second {
		if m.Role != want[i] {
			t.Fatalf("message %d: want role %s got %s", i, want[i], m.Role)
		}
	}
	msgs, _ := store.Load(context.Background(), "c1")
	systems := 0
	for _, m := range msgs {
		if m.Role == RoleSystem {
			systems++
		}
	}
	if systems != 1 {
		t.Fatalf("system message duplicated: %+v", msgs)
	}
}

func TestSendRejectsEmptyInput(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{Fragments: []string{"x"}}
	svc := NewService(store, source)

	for _, prompt := range []string{"", "   \n\t"} {
		_, err := svc.Send(context.Background(), "c1", prompt, nil)
		if !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("expected ErrEmptyInput for %q, got %v", prompt, err)
		}
	}
	if len(source.Calls()) != 0 {
		t.Fatalf("completion source must not be called")
	}
	if msgs, _ := store.Load(context.Background(), "c1"); len(msgs) != 0 {
		t.Fatalf("history changed: %+v", msgs)
	}
}

func TestSendFailureDropsTurnByDefault(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("upstream 500")
	source := &fakeSource{Fragments: []string{"par", "tial"}, StreamErr: boom}
	svc := NewService(store, source, WithThreshold(5))
	sink := &recordSink{}

	res, err := svc.Send(context.Background(), "c1", "hi", sink)
	if err != nil {
		t.Fatalf("source failures are reported through the result, got %v", err)
	}
	if got := sink.Contents(); len(got) != 2 || got[0] != "partial" || got[1] != stream.DefaultSentinel {
		t.Fatalf("unexpected snapshots: %q", got)
	}
	if res.Outcome != stream.Failed || res.Committed || !errors.Is(res.SourceErr, boom) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if msgs, _ := store.Load(context.Background(), "c1"); len(msgs) != 0 {
		t.Fatalf("failed turn must not be stored: %+v", msgs)
	}

	// the conversation stays usable
	source.StreamErr = nil
	source.Fragments = []string{"fine"}
	if _, err := svc.Send(context.Background(), "c1", "again", nil); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if msgs, _ := store.Load(context.Background(), "c1"); len(msgs) != 3 {
		t.Fatalf("expected system, user, assistant after recovery: %+v", msgs)
	}
}

func TestSendFailurePersistsSentinelWhenEnabled(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{OpenErr: errors.New("auth")}
	svc := NewService(store, source, WithPersistSentinel(true), WithSentinel("sorry"), WithSystemPrompt(""))
	sink := &recordSink{}

	res, err := svc.Send(context.Background(), "c1", "hi", sink)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sink.Contents(); len(got) != 1 || got[0] != "sorry" {
		t.Fatalf("expected single sentinel snapshot, got %q", got)
	}
	msgs, _ := store.Load(context.Background(), "c1")
	if !res.Committed || len(msgs) != 2 || msgs[1].Content != "sorry" {
		t.Fatalf("expected user + sentinel stored, got %+v", msgs)
	}
}

func TestSendRejectsConcurrentTurnAndCancelLeavesHistory(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{Fragments: []string{"partial"}, Block: true, Started: make(chan struct{})}
	svc := NewService(store, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sink := &recordSink{}
	go func() {
		_, err := svc.Send(ctx, "c1", "long question", sink)
		done <- err
	}()

	select {
	case <-source.Started:
	case <-time.After(time.Second):
		t.Fatalf("first turn never reached the source")
	}
	if !svc.Busy("c1") {
		t.Fatalf("expected conversation to be busy")
	}
	if _, err := svc.Send(context.Background(), "c1", "interrupt", nil); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if err := svc.Reset(context.Background(), "c1"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected reset to be rejected, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("canceled turn did not return")
	}
	if msgs, _ := store.Load(context.Background(), "c1"); len(msgs) != 0 {
		t.Fatalf("canceled turn must not be stored: %+v", msgs)
	}
	if svc.Busy("c1") {
		t.Fatalf("conversation still busy after cancel")
	}
}

func TestSendSinkFailureAbortsTurn(t *testing.T) {
	store := NewMemoryStore()
	source := &fakeSource{Fragments: []string{"a", "b", "c"}}
	svc := NewService(store, source)
	sink := &recordSink{err: errors.New("socket closed")}

	_, err := svc.Send(context.Background(), "c1", "hi", sink)
	if !errors.Is(err, ErrSink) {
		t.Fatalf("expected ErrSink, got %v", err)
	}
	if len(sink.Contents()) != 1 {
		t.Fatalf("sink should not be called after failing, got %q", sink.Contents())
	}
	if msgs, _ := store.Load(context.Background(), "c1"); len(msgs) != 0 {
		t.Fatalf("aborted turn must not be stored: %+v", msgs)
	}
}

func TestSendForwardsModelAndWindow(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Append(context.Background(), "c1",
		NewMessage(RoleSystem, "sys"),
		NewMessage(RoleUser, "u1"), NewMessage(RoleAssistant, "a1"),
		NewMessage(RoleUser, "u2"), NewMessage(RoleAssistant, "a2"),
	)
	source := &fakeSource{Fragments: []string{"ok"}}
	svc := NewService(store, source, WithHistoryWindow(2))

	if _, err := svc.Send(context.Background(), "c1", "u3", nil, WithModel("fast")); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := source.Calls()[0]
	if req.Model != "fast" {
		t.Fatalf("expected model forwarded, got %q", req.Model)
	}
	if len(req.Messages) != 4 || req.Messages[0].Content != "sys" || req.Messages[1].Content != "u2" {
		t.Fatalf("unexpected windowed request: %+v", req.Messages)
	}
	msgs, _ := store.Load(context.Background(), "c1")
	if len(msgs) != 7 {
		t.Fatalf("storage must keep the full history, got %d", len(msgs))
	}
}

func TestSendReplaysStoredRoleAliasesCanonically(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Append(ctx, "c1",
		Message{Role: "system", Content: "sys"},
		Message{Role: "human", Content: "hi"},
		Message{Role: "ai", Content: "hello"},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	source := &fakeSource{Fragments: []string{"ok"}}
	svc := NewService(store, source)

	if _, err := svc.Send(ctx, "c1", "again", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := source.Calls()[0].Messages
	want := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), got)
	}
	for i, m := range got {
		if m.Role != want[i] {
			t.Fatalf("message %d: want role %s got %s", i, want[i], m.Role)
		}
	}
}
