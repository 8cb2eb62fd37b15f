// Package retrieval 实现了基于余弦相似度的检索与上下文打包。
package retrieval

import (
	"math"
	"sort"
	"strings"

	"sitechat-go/internal/model"
)

// Cosine 计算两个向量的余弦相似度。长度不一致、为空或零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

// Rank 为每个分块打分并按分数降序排列，同分保持插入顺序。
// 向量缺失或格式错误的分块记为 0 分而不是剔除。
func Rank(query []float32, chunks []*model.ContentChunk) []model.RetrievedChunk {
	ranked := make([]model.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, model.RetrievedChunk{
			ContentID:  c.ContentID,
			Score:      Cosine(query, c.Vector()),
			TokenCount: c.TokenCount,
			Title:      c.Title,
			Body:       c.Body,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Filter 只保留分数严格大于 threshold 的候选。
func Filter(cands []model.RetrievedChunk, threshold float64) []model.RetrievedChunk {
	out := make([]model.RetrievedChunk, 0, len(cands))
	for _, c := range cands {
		if c.Score > threshold {
			out = append(out, c)
		}
	}
	return out
}

// Pack 按排名顺序累加 token 数，累计值仍小于 budget 时才放入候选。
// 累计值包含被跳过的候选，一旦达到 budget 之后的候选都不再放入。
func Pack(cands []model.RetrievedChunk, budget int) []model.RetrievedChunk {
	out := make([]model.RetrievedChunk, 0, len(cands))
	total := 0
	for _, c := range cands {
		total += c.TokenCount
		if total >= budget {
			break
		}
		out = append(out, c)
	}
	return out
}

// FormatContext 把打包后的候选序列化为带起止标记的上下文文本。
func FormatContext(cands []model.RetrievedChunk) string {
	var b strings.Builder
	for _, c := range cands {
		b.WriteString("\n ===START POST=== ")
		b.WriteString(c.Title)
		b.WriteString(" - ")
		b.WriteString(c.Body)
		b.WriteString(" ===END POST===")
	}
	return b.String()
}
