package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore 实现了基于文件系统的 Store (JSONL 格式)。
// 每个会话的历史记录存储在单独的文件中，每行一个 JSON 对象。
type FileStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.RWMutex // 全局锁，保护文件系统操作并发安全
}

// NewFileStore 创建一个新的 FileStore。
// baseDir: 存储历史记录的目录路径。
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{baseDir: baseDir, logger: logger}, nil
}

// filePath 返回会话文件路径，对 ID 做 Base 处理以防路径遍历。
func (s *FileStore) filePath(conversationID string) string {
	safeID := filepath.Base(conversationID)
	return filepath.Join(s.baseDir, safeID+".jsonl")
}

// Load 逐行读取文件获取历史记录，坏行跳过。
func (s *FileStore) Load(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.filePath(conversationID)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	messages := []Message{}
	scanner := bufio.NewScanner(f)
	// 默认 64KB 单行上限对长回复不够
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 5*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			s.logger.Warn("skipping malformed history line",
				zap.String("path", path), zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		role, err := ParseRole(string(m.Role))
		if err != nil {
			s.logger.Warn("skipping history line with unknown role",
				zap.String("path", path), zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		m.Role = role
		messages = append(messages, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning history file: %w", err)
	}
	return messages, nil
}

// Append 以追加模式写入消息。
func (s *FileStore) Append(ctx context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.filePath(conversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	// json.Encoder 默认会在末尾加 \n，符合 JSONL 规范
	encoder := json.NewEncoder(f)
	encoder.SetEscapeHTML(false)
	for _, m := range messages {
		if err := encoder.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

// Clear 删除会话文件。
func (s *FileStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.filePath(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
