package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitechat-go/internal/model"
)

// DocumentFilter 是管理端列表的查询条件。
type DocumentFilter struct {
	Kind   string
	Status string // included | pending | moderation | needs_update，空表示全部
	Search string
	Offset int
	Limit  int
}

// DocumentRepository 接口定义了源文档记录的持久化操作。
type DocumentRepository interface {
	Save(ctx context.Context, doc *model.SourceDocument) error
	Get(ctx context.Context, contentID string) (*model.SourceDocument, error)
	List(ctx context.Context, filter DocumentFilter) ([]model.SourceDocument, int64, error)
	Delete(ctx context.Context, contentID string) error
	SetNeedsUpdate(ctx context.Context, contentID string, needsUpdate bool) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// documentUpsertColumns 是重复保存时覆盖的列，created_at 保持首次写入的值。
var documentUpsertColumns = []string{
	"kind", "title", "content", "added", "needs_update",
	"moderation_failed", "moderation_review", "updated_at",
}

// Save 插入或覆盖一条源文档记录。
func (r *documentRepository) Save(ctx context.Context, doc *model.SourceDocument) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns(documentUpsertColumns),
	}).Create(doc).Error
}

// Get 获取源文档记录，不存在时返回 gorm.ErrRecordNotFound。
func (r *documentRepository) Get(ctx context.Context, contentID string) (*model.SourceDocument, error) {
	var doc model.SourceDocument
	if err := r.db.WithContext(ctx).Where("content_id = ?", contentID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// List 按条件分页查询，返回本页记录与总数。
func (r *documentRepository) List(ctx context.Context, filter DocumentFilter) ([]model.SourceDocument, int64, error) {
	where := func(db *gorm.DB) *gorm.DB {
		if filter.Kind != "" {
			db = db.Where("kind = ?", filter.Kind)
		}
		switch filter.Status {
		case "included":
			db = db.Where("added = ?", true)
		case "pending":
			db = db.Where("added = ? AND moderation_failed = ?", false, false)
		case "moderation":
			db = db.Where("moderation_failed = ?", true)
		case "needs_update":
			db = db.Where("needs_update = ?", true)
		}
		if filter.Search != "" {
			db = db.Where("title LIKE ?", "%"+filter.Search+"%")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.SourceDocument{}).Scopes(where).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	var docs []model.SourceDocument
	err := r.db.WithContext(ctx).Scopes(where).Order("updated_at desc").Offset(filter.Offset).Limit(limit).Find(&docs).Error
	return docs, total, err
}

// Delete 删除一条源文档记录，不存在时视为成功。
func (r *documentRepository) Delete(ctx context.Context, contentID string) error {
	return r.db.WithContext(ctx).Where("content_id = ?", contentID).Delete(&model.SourceDocument{}).Error
}

// SetNeedsUpdate 设置文档的待更新标记。
func (r *documentRepository) SetNeedsUpdate(ctx context.Context, contentID string, needsUpdate bool) error {
	return r.db.WithContext(ctx).Model(&model.SourceDocument{}).Where("content_id = ?", contentID).Update("needs_update", needsUpdate).Error
}
