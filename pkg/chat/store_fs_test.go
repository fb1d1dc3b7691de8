package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	msgs, err := store.Load(ctx, "missing")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty history, got %v, %v", msgs, err)
	}

	if err := store.Append(ctx, "c1", NewMessage(RoleSystem, "sys"), NewMessage(RoleUser, "<hi & bye>")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "c1", NewMessage(RoleAssistant, "hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	msgs, err = store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 3 || msgs[1].Content != "<hi & bye>" || msgs[2].Role != RoleAssistant {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	if err := store.Clear(ctx, "c1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "c1"); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	content := "{\"role\":\"user\",\"content\":\"ok\"}\nnot-json\n{\"role\":\"tool\",\"content\":\"x\"}\n{\"role\":\"ai\",\"content\":\"fine\"}\n"
	if err := os.WriteFile(filepath.Join(dir, "c2.jsonl"), []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs, err := store.Load(context.Background(), "c2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != RoleAssistant {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestFileStorePathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Append(context.Background(), "../../escape", NewMessage(RoleUser, "x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.jsonl")); err != nil {
		t.Fatalf("expected file inside base dir: %v", err)
	}
}
