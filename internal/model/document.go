package model

import (
	"time"

	"gorm.io/datatypes"
)

// 文档来源类型
const (
	DocumentKindPost      = "post"      // 站点内容
	DocumentKindKnowledge = "knowledge" // 管理员手动录入的知识条目
)

// SourceDocument 记录了一篇被纳入知识库的源文档及其处理标记。
// 分块本身由 content_chunks 表持有，这里只保存管理端需要的状态。
type SourceDocument struct {
	ContentID        string            `gorm:"type:varchar(64);primaryKey" json:"id"`
	Kind             string            `gorm:"type:varchar(16);not null;index" json:"kind"`
	Title            string            `gorm:"type:varchar(255);not null" json:"title"`
	Content          string            `gorm:"type:longtext" json:"content"`
	Added            bool              `gorm:"not null;default:false" json:"added"`
	NeedsUpdate      bool              `gorm:"not null;default:false" json:"needsUpdate"`
	ModerationFailed bool              `gorm:"not null;default:false" json:"moderationFailed"`
	ModerationReview datatypes.JSONMap `gorm:"type:json" json:"review,omitempty"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SourceDocument) TableName() string {
	return "source_documents"
}

// Status 按管理端的视角汇总文档状态。
func (d *SourceDocument) Status() ChunkStatus {
	switch {
	case d.ModerationFailed:
		return ChunkModerationFailed
	case d.NeedsUpdate:
		return ChunkNeedsUpdate
	case d.Added:
		return ChunkProcessed
	default:
		return ChunkPending
	}
}
