package chat

import (
	"context"
	"sync"
)

// MemoryStore 是基于内存的 Store，进程重启即丢失。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Message
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Message)}
}

// Load 返回会话历史的副本。
func (s *MemoryStore) Load(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.data[conversationID]
	out := make([]Message, len(src))
	copy(out, src)
	return out, nil
}

// Append 追加消息。
func (s *MemoryStore) Append(ctx context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conversationID] = append(s.data[conversationID], messages...)
	return nil
}

// Clear 删除会话。
func (s *MemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}
