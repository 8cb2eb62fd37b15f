// Package moderation 负责在入库与提问前对文本做内容审核。
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/log"
)

// Gate 调用服务方的审核接口，并按类别阈值汇总结论。
type Gate struct {
	provider   ai.Provider
	cache      repository.CacheRepository
	thresholds map[string]float64
	ttl        time.Duration
}

// NewGate 创建审核门。cache 可以为 nil，此时 CheckDocument 不做缓存。
func NewGate(provider ai.Provider, cache repository.CacheRepository, thresholds map[string]float64, ttl time.Duration) *Gate {
	return &Gate{provider: provider, cache: cache, thresholds: thresholds, ttl: ttl}
}

// Check 对一次提交的全部分段逐段审核。只有服务方标记且分数达到阈值的类别会被保留，
// 同一类别取各段的最高分。任何一次调用失败都会中止整个审核。
func (g *Gate) Check(ctx context.Context, chunks []string) (model.Verdict, error) {
	worst := make(map[string]float64)
	for i, text := range chunks {
		res, err := g.provider.Moderate(ctx, text)
		if err != nil {
			return model.Verdict{}, fmt.Errorf("审核第 %d 段失败: %w", i, err)
		}
		if res == nil || !res.Flagged {
			continue
		}
		for category, score := range res.CategoryScores {
			if !res.Categories[category] {
				continue
			}
			threshold, ok := g.thresholds[category]
			if !ok || score < threshold {
				continue
			}
			if score > worst[category] {
				worst[category] = score
			}
		}
	}
	return model.FlaggedVerdict(worst), nil
}

// CheckDocument 与 Check 相同，但按文档 id 与内容摘要缓存结论。
func (g *Gate) CheckDocument(ctx context.Context, contentID string, chunks []string) (model.Verdict, error) {
	if g.cache == nil {
		return g.Check(ctx, chunks)
	}
	digest := repository.Digest(strings.Join(chunks, ""))
	cached, err := g.cache.GetVerdict(ctx, contentID, digest)
	if err != nil {
		log.Warnf("[ModerationGate] 读取审核缓存失败, contentID: %s, error: %v", contentID, err)
	} else if cached != nil {
		log.Debugf("[ModerationGate] 命中审核缓存, contentID: %s", contentID)
		return *cached, nil
	}

	verdict, err := g.Check(ctx, chunks)
	if err != nil {
		return model.Verdict{}, err
	}
	if err := g.cache.SetVerdict(ctx, contentID, digest, verdict, g.ttl); err != nil {
		log.Warnf("[ModerationGate] 写入审核缓存失败, contentID: %s, error: %v", contentID, err)
	}
	return verdict, nil
}

// Invalidate 删除某篇文档的缓存结论。
func (g *Gate) Invalidate(ctx context.Context, contentID string) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.InvalidateVerdicts(ctx, contentID)
}
