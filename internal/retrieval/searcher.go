package retrieval

import (
	"context"
	"fmt"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/log"
)

// 默认检索参数
const (
	DefaultThreshold = 0.4
	DefaultBudget    = 2000
)

// Searcher 在已向量化的分块中检索与问题最相关的内容。
type Searcher struct {
	chunks    repository.ChunkRepository
	threshold float64
	budget    int
}

// NewSearcher 创建检索器。threshold 为 0 时保留所有正相似度的分块，
// 负数视为未配置；budget 非正时使用默认值。
func NewSearcher(chunks repository.ChunkRepository, threshold float64, budget int) *Searcher {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Searcher{chunks: chunks, threshold: threshold, budget: budget}
}

// Search 对全部 processed 分块做线性扫描，返回过滤并打包后的结果。
func (s *Searcher) Search(ctx context.Context, query []float32) ([]model.RetrievedChunk, error) {
	chunks, err := s.chunks.GetByStatus(ctx, model.ChunkProcessed)
	if err != nil {
		return nil, fmt.Errorf("加载候选分块失败: %w", err)
	}
	ranked := Rank(query, chunks)
	filtered := Filter(ranked, s.threshold)
	packed := Pack(filtered, s.budget)
	log.Debugf("[Searcher] 候选 %d, 过滤后 %d, 打包后 %d", len(ranked), len(filtered), len(packed))
	return packed, nil
}
