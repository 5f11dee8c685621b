package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"doc-smart-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 会话历史在 Redis 中的保留参数。
const (
	historyTTL        = 7 * 24 * time.Hour
	historyMaxEntries = 20
)

// ConversationRepository 定义了对话历史记录的操作接口，以线程 ID 为键。
type ConversationRepository interface {
	GetHistory(ctx context.Context, threadID string) ([]model.ChatMessage, error)
	UpdateHistory(ctx context.Context, threadID string, messages []model.ChatMessage) error
	ClearHistory(ctx context.Context, threadID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func historyKey(threadID string) string {
	return fmt.Sprintf("conversation:%s", threadID)
}

// GetHistory 从 Redis 获取对话历史记录，无历史时返回空切片。
func (r *redisConversationRepository) GetHistory(ctx context.Context, threadID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(threadID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("获取对话历史失败: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("解析对话历史失败: %w", err)
	}
	return messages, nil
}

// UpdateHistory 在 Redis 中更新对话历史记录，仅保留最近若干条。
func (r *redisConversationRepository) UpdateHistory(ctx context.Context, threadID string, messages []model.ChatMessage) error {
	if len(messages) > historyMaxEntries {
		messages = messages[len(messages)-historyMaxEntries:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("序列化对话历史失败: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(threadID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("写入对话历史失败: %w", err)
	}
	return nil
}

// ClearHistory 删除指定线程的对话历史。
func (r *redisConversationRepository) ClearHistory(ctx context.Context, threadID string) error {
	if err := r.redisClient.Del(ctx, historyKey(threadID)).Err(); err != nil {
		return fmt.Errorf("删除对话历史失败: %w", err)
	}
	return nil
}
