// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"sitechat-go/internal/model"
)

// ChunkRepository 定义了对 content_chunks 表的数据操作接口。
type ChunkRepository interface {
	Insert(ctx context.Context, chunks []*model.ContentChunk) error
	DeleteByDocument(ctx context.Context, contentID string) error
	GetByStatus(ctx context.Context, status model.ChunkStatus) ([]*model.ContentChunk, error)
	Count(ctx context.Context) (int64, error)
	CountByDocument(ctx context.Context, contentID string) (int64, error)
	MarkProcessed(ctx context.Context, id uint, embedding []float32) error
	UpdateStatusByDocument(ctx context.Context, contentID string, status model.ChunkStatus) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// Insert 批量写入新分块，统一置为 pending，等待向量化。
func (r *chunkRepository) Insert(ctx context.Context, chunks []*model.ContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		c.Status = model.ChunkPending
		c.Embedding = nil
	}
	return r.db.WithContext(ctx).CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// DeleteByDocument 删除某篇文档的全部分块。
func (r *chunkRepository) DeleteByDocument(ctx context.Context, contentID string) error {
	return r.db.WithContext(ctx).Where("content_id = ?", contentID).Delete(&model.ContentChunk{}).Error
}

// GetByStatus 按插入顺序返回指定状态的分块。
func (r *chunkRepository) GetByStatus(ctx context.Context, status model.ChunkStatus) ([]*model.ContentChunk, error) {
	var chunks []*model.ContentChunk
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("id asc").Find(&chunks).Error
	return chunks, err
}

// Count 返回分块总数。
func (r *chunkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ContentChunk{}).Count(&n).Error
	return n, err
}

// CountByDocument 返回某篇文档的分块数。
func (r *chunkRepository) CountByDocument(ctx context.Context, contentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ContentChunk{}).Where("content_id = ?", contentID).Count(&n).Error
	return n, err
}

// MarkProcessed 在同一条 UPDATE 中写入向量并切换到 processed。
func (r *chunkRepository) MarkProcessed(ctx context.Context, id uint, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("chunk %d: empty embedding", id)
	}
	data, err := model.EncodeVector(embedding)
	if err != nil {
		return fmt.Errorf("chunk %d: encode embedding: %w", id, err)
	}
	res := r.db.WithContext(ctx).Model(&model.ContentChunk{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding": data,
		"status":    model.ChunkProcessed,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateStatusByDocument 修改某篇文档全部分块的状态。
func (r *chunkRepository) UpdateStatusByDocument(ctx context.Context, contentID string, status model.ChunkStatus) error {
	return r.db.WithContext(ctx).Model(&model.ContentChunk{}).Where("content_id = ?", contentID).Update("status", status).Error
}
