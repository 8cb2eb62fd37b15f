// Package pipeline 定义了分块向量化的核心流程。
package pipeline

import (
	"context"
	"fmt"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/tasks"
)

// DefaultBatchSize 是每次调用 Embedding 接口的分块数。
const DefaultBatchSize = 16

// Report 汇总一次向量化处理的结果。
type Report struct {
	Total     int
	Processed int
	Failed    int
}

// IncompleteError 表示本轮处理中仍有分块未能向量化，它们保持 pending 等待下一轮。
type IncompleteError struct {
	Report Report
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d of %d pending chunks failed to embed", e.Report.Failed, e.Report.Total)
}

// Processor 封装了向量化处理的所有依赖和逻辑。
type Processor struct {
	provider  ai.Provider
	chunkRepo repository.ChunkRepository
	batchSize int
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(provider ai.Provider, chunkRepo repository.ChunkRepository, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Processor{provider: provider, chunkRepo: chunkRepo, batchSize: batchSize}
}

// ProcessPending 为所有 pending 分块生成向量。每批调用一次接口，
// 失败的批次保持原状态，不会写入部分向量。
func (p *Processor) ProcessPending(ctx context.Context) (Report, error) {
	pending, err := p.chunkRepo.GetByStatus(ctx, model.ChunkPending)
	if err != nil {
		return Report{}, fmt.Errorf("读取待处理分块失败: %w", err)
	}
	report := Report{Total: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}
	log.Infof("[Processor] 开始向量化, 待处理分块: %d, 批大小: %d", len(pending), p.batchSize)

	for start := 0; start < len(pending); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			report.Failed += len(pending) - start
			break
		}
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Title + " " + c.Body
		}
		vectors, err := p.provider.Embed(ctx, texts)
		if err != nil || len(vectors) != len(batch) {
			log.Errorf("[Processor] 批次 %d-%d 向量化失败, error: %v", start, end, err)
			report.Failed += len(batch)
			continue
		}

		for i, c := range batch {
			if err := p.chunkRepo.MarkProcessed(ctx, c.ID, vectors[i]); err != nil {
				log.Errorf("[Processor] 保存分块 %d 的向量失败, error: %v", c.ID, err)
				report.Failed++
				continue
			}
			report.Processed++
		}
	}

	log.Infof("[Processor] 向量化完成, 成功: %d, 失败: %d", report.Processed, report.Failed)
	if report.Failed > 0 {
		return report, &IncompleteError{Report: report}
	}
	return report, nil
}

// Process 实现 kafka.TaskProcessor，重新执行一轮向量化。
func (p *Processor) Process(ctx context.Context, task tasks.EmbeddingTask) error {
	log.Infof("[Processor] 处理向量化任务, taskID: %s, contentID: %s, reason: %s", task.TaskID, task.ContentID, task.Reason)
	_, err := p.ProcessPending(ctx)
	return err
}
