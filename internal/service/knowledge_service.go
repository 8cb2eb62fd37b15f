// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitechat-go/internal/model"
	"sitechat-go/internal/moderation"
	"sitechat-go/internal/pipeline"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/tokenizer"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/tasks"
)

// 入库动作
const (
	ActionAdd      = ""
	ActionUpdate   = "update"
	ActionOverride = "override"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyContent     = errors.New("title and content are required")
	ErrNoChunks         = errors.New("content produced no chunks")
	ErrCorpusFull       = errors.New("knowledge base chunk limit reached")
	ErrInvalidAction    = errors.New("invalid action")
)

// TaskQueue 投递向量化重试任务。
type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.EmbeddingTask) error
}

// AddDataRequest 是入库请求。ContentID 为空时按知识条目自动生成。
type AddDataRequest struct {
	ContentID string
	Kind      string
	Title     string
	Content   string
	Action    string
}

// AddDataResult 是入库结果。Verdict 被标记时内容未入库，Review 中为各类别分数。
type AddDataResult struct {
	ContentID string                 `json:"id"`
	Chunks    int                    `json:"chunks"`
	Pending   int                    `json:"pending"`
	Verdict   model.Verdict          `json:"-"`
	Review    map[string]interface{} `json:"review,omitempty"`
}

// DataPage 是管理端的分页列表。
type DataPage struct {
	Items       []model.SourceDocument `json:"posts"`
	Total       int64                  `json:"total"`
	TotalChunks int64                  `json:"totalChunks"`
}

// KnowledgeService 接口定义了知识库管理相关的业务操作。
type KnowledgeService interface {
	AddData(ctx context.Context, req AddDataRequest) (*AddDataResult, error)
	DeleteData(ctx context.Context, contentID string) error
	MarkNeedsUpdate(ctx context.Context, contentID string) error
	ListData(ctx context.Context, filter repository.DocumentFilter) (*DataPage, error)
	GetData(ctx context.Context, contentID string) (*model.SourceDocument, error)
	AddKnowledge(ctx context.Context, title, content string) (*AddDataResult, error)
	UpdateKnowledge(ctx context.Context, contentID, title, content string) (*AddDataResult, error)
}

// KnowledgeOptions 控制切块与容量。
type KnowledgeOptions struct {
	ModerationSplit int
	MaxChunks       int64
}

type knowledgeService struct {
	docs      repository.DocumentRepository
	chunks    repository.ChunkRepository
	chunker   *tokenizer.Chunker
	gate      *moderation.Gate
	processor *pipeline.Processor
	queue     TaskQueue
	opts      KnowledgeOptions
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。queue 可以为 nil。
func NewKnowledgeService(docs repository.DocumentRepository, chunks repository.ChunkRepository, chunker *tokenizer.Chunker,
	gate *moderation.Gate, processor *pipeline.Processor, queue TaskQueue, opts KnowledgeOptions) KnowledgeService {
	if opts.ModerationSplit <= 0 {
		opts.ModerationSplit = 2000
	}
	return &knowledgeService{
		docs:      docs,
		chunks:    chunks,
		chunker:   chunker,
		gate:      gate,
		processor: processor,
		queue:     queue,
		opts:      opts,
	}
}

// AddData 审核、切块并写入一篇文档，随后立即执行一轮向量化。
// 已存在的分块总是先删除再写入，同一文档重复入库不会产生重复分块。
func (s *knowledgeService) AddData(ctx context.Context, req AddDataRequest) (*AddDataResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	switch req.Action {
	case ActionAdd, ActionUpdate, ActionOverride:
	default:
		return nil, ErrInvalidAction
	}
	if req.Kind == "" {
		req.Kind = model.DocumentKindPost
	}
	if req.ContentID == "" {
		req.ContentID = "k_" + uuid.NewString()
		req.Kind = model.DocumentKindKnowledge
	}
	log.Infof("[KnowledgeService] 入库文档, contentID: %s, kind: %s, action: %q", req.ContentID, req.Kind, req.Action)

	// 1. 审核，override 时跳过
	if req.Action == ActionUpdate {
		if err := s.gate.Invalidate(ctx, req.ContentID); err != nil {
			log.Warnf("[KnowledgeService] 清理审核缓存失败, contentID: %s, error: %v", req.ContentID, err)
		}
	}
	if req.Action != ActionOverride {
		text := req.Title + " " + tokenizer.StripMarkup(req.Content)
		verdict, err := s.gate.CheckDocument(ctx, req.ContentID, tokenizer.SplitRaw(text, s.opts.ModerationSplit))
		if err != nil {
			return nil, fmt.Errorf("审核失败: %w", err)
		}
		if verdict.Flagged() {
			log.Warnf("[KnowledgeService] 文档未通过审核, contentID: %s, scores: %v", req.ContentID, verdict.Scores)
			// 旧分块保持原样，只记录本次审核结果
			doc := &model.SourceDocument{
				ContentID:        req.ContentID,
				Kind:             req.Kind,
				Title:            req.Title,
				Content:          req.Content,
				ModerationFailed: true,
				ModerationReview: verdict.Review(),
			}
			if prev, err := s.docs.Get(ctx, req.ContentID); err == nil {
				doc.Added = prev.Added
			}
			if err := s.docs.Save(ctx, doc); err != nil {
				return nil, fmt.Errorf("保存审核结果失败: %w", err)
			}
			return &AddDataResult{ContentID: req.ContentID, Verdict: verdict, Review: verdict.Review()}, nil
		}
	}

	// 2. 切块并检查容量
	pieces := s.chunker.Chunk(req.Title, req.Content)
	if len(pieces) == 0 {
		return nil, ErrNoChunks
	}
	if err := s.checkCapacity(ctx, req.ContentID, len(pieces)); err != nil {
		return nil, err
	}

	// 3. 替换旧分块并记录文档
	if err := s.chunks.DeleteByDocument(ctx, req.ContentID); err != nil {
		return nil, fmt.Errorf("删除旧分块失败: %w", err)
	}
	rows := make([]*model.ContentChunk, 0, len(pieces))
	for _, p := range pieces {
		rows = append(rows, &model.ContentChunk{
			ContentID:  req.ContentID,
			Title:      p.Title,
			Body:       p.Body,
			TokenCount: p.TokenCount,
		})
	}
	if err := s.chunks.Insert(ctx, rows); err != nil {
		return nil, fmt.Errorf("保存分块失败: %w", err)
	}
	doc := &model.SourceDocument{
		ContentID: req.ContentID,
		Kind:      req.Kind,
		Title:     req.Title,
		Content:   req.Content,
		Added:     true,
	}
	if err := s.docs.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("保存文档失败: %w", err)
	}

	// 4. 向量化；失败的分块保持 pending，交给 Kafka 重试
	result := &AddDataResult{ContentID: req.ContentID, Chunks: len(rows), Verdict: model.ClearVerdict()}
	report, err := s.processor.ProcessPending(ctx)
	if err != nil {
		result.Pending = report.Failed
		log.Warnf("[KnowledgeService] 向量化未完成, contentID: %s, error: %v", req.ContentID, err)
		s.enqueueRetry(ctx, req.ContentID)
	}
	return result, nil
}

func (s *knowledgeService) checkCapacity(ctx context.Context, contentID string, incoming int) error {
	if s.opts.MaxChunks <= 0 {
		return nil
	}
	total, err := s.chunks.Count(ctx)
	if err != nil {
		return fmt.Errorf("统计分块失败: %w", err)
	}
	existing, err := s.chunks.CountByDocument(ctx, contentID)
	if err != nil {
		return fmt.Errorf("统计分块失败: %w", err)
	}
	if total-existing+int64(incoming) > s.opts.MaxChunks {
		return ErrCorpusFull
	}
	return nil
}

func (s *knowledgeService) enqueueRetry(ctx context.Context, contentID string) {
	if s.queue == nil {
		return
	}
	task := tasks.NewEmbeddingTask(contentID, "embedding pass incomplete")
	if err := s.queue.Enqueue(ctx, task); err != nil {
		log.Errorf("[KnowledgeService] 投递向量化任务失败, contentID: %s, error: %v", contentID, err)
	}
}

// DeleteData 删除文档及其全部分块。
func (s *knowledgeService) DeleteData(ctx context.Context, contentID string) error {
	if err := s.chunks.DeleteByDocument(ctx, contentID); err != nil {
		return fmt.Errorf("删除分块失败: %w", err)
	}
	if err := s.docs.Delete(ctx, contentID); err != nil {
		return fmt.Errorf("删除文档失败: %w", err)
	}
	if err := s.gate.Invalidate(ctx, contentID); err != nil {
		log.Warnf("[KnowledgeService] 清理审核缓存失败, contentID: %s, error: %v", contentID, err)
	}
	log.Infof("[KnowledgeService] 已删除文档, contentID: %s", contentID)
	return nil
}

// MarkNeedsUpdate 标记源内容已变化。该文档的分块退出检索，直到重新入库。
func (s *knowledgeService) MarkNeedsUpdate(ctx context.Context, contentID string) error {
	if _, err := s.GetData(ctx, contentID); err != nil {
		return err
	}
	if err := s.docs.SetNeedsUpdate(ctx, contentID, true); err != nil {
		return err
	}
	return s.chunks.UpdateStatusByDocument(ctx, contentID, model.ChunkNeedsUpdate)
}

// ListData 分页列出文档，并附带当前分块总数。
func (s *knowledgeService) ListData(ctx context.Context, filter repository.DocumentFilter) (*DataPage, error) {
	docs, total, err := s.docs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	totalChunks, err := s.chunks.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &DataPage{Items: docs, Total: total, TotalChunks: totalChunks}, nil
}

// GetData 获取单篇文档。
func (s *knowledgeService) GetData(ctx context.Context, contentID string) (*model.SourceDocument, error) {
	doc, err := s.docs.Get(ctx, contentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

// AddKnowledge 新增一条自定义知识条目。
func (s *knowledgeService) AddKnowledge(ctx context.Context, title, content string) (*AddDataResult, error) {
	return s.AddData(ctx, AddDataRequest{Kind: model.DocumentKindKnowledge, Title: title, Content: content})
}

// UpdateKnowledge 修改已有知识条目并重新入库。
func (s *knowledgeService) UpdateKnowledge(ctx context.Context, contentID, title, content string) (*AddDataResult, error) {
	doc, err := s.GetData(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return s.AddData(ctx, AddDataRequest{
		ContentID: doc.ContentID,
		Kind:      doc.Kind,
		Title:     title,
		Content:   content,
		Action:    ActionUpdate,
	})
}
