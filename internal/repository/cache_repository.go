package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"sitechat-go/internal/model"
)

// CacheRepository 管理审核结论与问题向量的短期缓存。
// 缓存只用于减少重复调用，未命中时调用方总是重新计算。
type CacheRepository interface {
	GetVerdict(ctx context.Context, contentID, digest string) (*model.Verdict, error)
	SetVerdict(ctx context.Context, contentID, digest string, v model.Verdict, ttl time.Duration) error
	InvalidateVerdicts(ctx context.Context, contentID string) error
	GetQueryVector(ctx context.Context, question string) ([]float32, error)
	SetQueryVector(ctx context.Context, question string, vec []float32, ttl time.Duration) error
}

type redisCacheRepository struct {
	redisClient *redis.Client
}

// NewCacheRepository 创建一个新的 CacheRepository 实例。
func NewCacheRepository(redisClient *redis.Client) CacheRepository {
	return &redisCacheRepository{redisClient: redisClient}
}

// Digest 返回文本的 md5 十六进制摘要。
func Digest(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func verdictKey(contentID, digest string) string {
	return fmt.Sprintf("moderation:doc:%s:%s", contentID, digest)
}

// verdictIndexKey 记录一篇文档已缓存的摘要，失效时按集合删除，不做模式匹配。
func verdictIndexKey(contentID string) string {
	return fmt.Sprintf("moderation:doc:%s:digests", contentID)
}

func queryVectorKey(question string) string {
	return "chat:query:" + Digest(strings.ToLower(question))
}

type cachedVerdict struct {
	Flagged bool               `json:"flagged"`
	Scores  map[string]float64 `json:"scores,omitempty"`
}

// GetVerdict 读取缓存的审核结论，未命中返回 nil, nil。
func (r *redisCacheRepository) GetVerdict(ctx context.Context, contentID, digest string) (*model.Verdict, error) {
	data, err := r.redisClient.Get(ctx, verdictKey(contentID, digest)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}
	var cv cachedVerdict
	if err := json.Unmarshal(data, &cv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	v := model.ClearVerdict()
	if cv.Flagged {
		v = model.FlaggedVerdict(cv.Scores)
	}
	return &v, nil
}

// SetVerdict 缓存审核结论。
func (r *redisCacheRepository) SetVerdict(ctx context.Context, contentID, digest string, v model.Verdict, ttl time.Duration) error {
	data, err := json.Marshal(cachedVerdict{Flagged: v.Flagged(), Scores: v.Scores})
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	indexKey := verdictIndexKey(contentID)
	pipe := r.redisClient.TxPipeline()
	pipe.Set(ctx, verdictKey(contentID, digest), data, ttl)
	pipe.SAdd(ctx, indexKey, digest)
	if ttl > 0 {
		pipe.Expire(ctx, indexKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set verdict: %w", err)
	}
	return nil
}

// InvalidateVerdicts 删除某篇文档所有版本的缓存结论。
func (r *redisCacheRepository) InvalidateVerdicts(ctx context.Context, contentID string) error {
	indexKey := verdictIndexKey(contentID)
	digests, err := r.redisClient.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list verdict digests: %w", err)
	}
	keys := make([]string, 0, len(digests)+1)
	for _, d := range digests {
		keys = append(keys, verdictKey(contentID, d))
	}
	keys = append(keys, indexKey)
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete verdicts: %w", err)
	}
	return nil
}

// GetQueryVector 读取问题向量缓存，键对大小写不敏感；未命中返回 nil, nil。
func (r *redisCacheRepository) GetQueryVector(ctx context.Context, question string) ([]float32, error) {
	data, err := r.redisClient.Get(ctx, queryVectorKey(question)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query vector: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query vector: %w", err)
	}
	return vec, nil
}

// SetQueryVector 缓存问题向量。
func (r *redisCacheRepository) SetQueryVector(ctx context.Context, question string, vec []float32, ttl time.Duration) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal query vector: %w", err)
	}
	if err := r.redisClient.Set(ctx, queryVectorKey(question), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set query vector: %w", err)
	}
	return nil
}
