package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"sitechat-go/internal/model"
)

// SessionRepository 定义了对话会话的存取接口。
type SessionRepository interface {
	GetSession(ctx context.Context, threadID string) (*model.ChatSession, error)
	SaveSession(ctx context.Context, session *model.ChatSession) error
	DeleteSession(ctx context.Context, threadID string) error
}

type redisSessionRepository struct {
	redisClient  *redis.Client
	historyLimit int
	ttl          time.Duration
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
// historyLimit 为保留的最近消息条数，ttl 为会话在 Redis 中的保存时间。
func NewSessionRepository(redisClient *redis.Client, historyLimit int, ttl time.Duration) SessionRepository {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisSessionRepository{redisClient: redisClient, historyLimit: historyLimit, ttl: ttl}
}

func sessionKey(threadID string) string {
	return fmt.Sprintf("chat:session:%s", threadID)
}

// GetSession 从 Redis 获取会话，不存在时返回 nil, nil。
func (r *redisSessionRepository) GetSession(ctx context.Context, threadID string) (*model.ChatSession, error) {
	jsonData, err := r.redisClient.Get(ctx, sessionKey(threadID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	var session model.ChatSession
	if err := json.Unmarshal([]byte(jsonData), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat session: %w", err)
	}
	return &session, nil
}

// SaveSession 在 Redis 中写入会话，只保留最近 historyLimit 条消息。
func (r *redisSessionRepository) SaveSession(ctx context.Context, session *model.ChatSession) error {
	if session.ThreadID == "" {
		return fmt.Errorf("chat session without thread id")
	}
	if len(session.Messages) > r.historyLimit {
		session.Messages = session.Messages[len(session.Messages)-r.historyLimit:]
	}
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal chat session: %w", err)
	}
	if err := r.redisClient.Set(ctx, sessionKey(session.ThreadID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set chat session: %w", err)
	}
	return nil
}

// DeleteSession 删除会话记录。
func (r *redisSessionRepository) DeleteSession(ctx context.Context, threadID string) error {
	return r.redisClient.Del(ctx, sessionKey(threadID)).Err()
}
