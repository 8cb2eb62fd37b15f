package repository

import "sitechat-go/internal/model"

// Models 返回需要自动迁移的全部表模型。
func Models() []interface{} {
	return []interface{}{
		&model.ContentChunk{},
		&model.SourceDocument{},
		&model.User{},
	}
}
