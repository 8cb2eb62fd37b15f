// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ChunkStatus 是内容分块的处理状态。
type ChunkStatus string

const (
	ChunkPending          ChunkStatus = "pending"
	ChunkProcessed        ChunkStatus = "processed"
	ChunkNeedsUpdate      ChunkStatus = "needs_update"
	ChunkModerationFailed ChunkStatus = "moderation_failed"
)

// ContentChunk 对应于数据库中的 content_chunks 表。
// 每个分块持有自己的向量，TokenCount 按 title + " " + body 计算。
type ContentChunk struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentID  string         `gorm:"type:varchar(64);not null;index" json:"contentId"`
	Title      string         `gorm:"type:varchar(255)" json:"title"`
	Body       string         `gorm:"type:text" json:"body"`
	TokenCount int            `gorm:"not null;default:0" json:"tokenCount"`
	Embedding  datatypes.JSON `gorm:"type:json" json:"-"`
	Status     ChunkStatus    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ContentChunk) TableName() string {
	return "content_chunks"
}

// Vector 解析存储的向量；缺失或格式错误时返回 nil。
func (c *ContentChunk) Vector() []float32 {
	if len(c.Embedding) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(c.Embedding, &v); err != nil {
		return nil
	}
	return v
}

// EncodeVector 将向量序列化为可写入 embedding 列的 JSON。
func EncodeVector(v []float32) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
