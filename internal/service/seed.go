package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/log"
)

// seedExtensions 是会被导入的知识文件类型。
var seedExtensions = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true}

// SeedContentID 根据文件相对路径生成稳定的知识条目 ID。
func SeedContentID(relPath string) string {
	return "seed_" + repository.Digest(filepath.ToSlash(relPath))
}

// SeedKnowledge 扫描目录，把每个文本文件作为一条知识条目入库。
// 文件名（去掉扩展名）作为标题；内容未变化的条目跳过，变化的按 update 重新入库。
// 返回成功入库的条目数。
func SeedKnowledge(ctx context.Context, svc KnowledgeService, dir string) int {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("SeedKnowledge: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0
	}

	imported := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || !seedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("SeedKnowledge: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		content := string(raw)
		if strings.TrimSpace(content) == "" {
			log.Infof("SeedKnowledge: 空文件跳过: %s", path)
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = info.Name()
		}
		id := SeedContentID(rel)
		title := strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))

		action := ActionAdd
		existing, err := svc.GetData(ctx, id)
		switch {
		case err == nil && existing.Content == content && existing.Added && !existing.NeedsUpdate:
			log.Infof("SeedKnowledge: 已存在，跳过: %s", rel)
			return nil
		case err == nil:
			action = ActionUpdate
		case !errors.Is(err, ErrDocumentNotFound):
			log.Warnf("SeedKnowledge: 查询失败: %s, err=%v", rel, err)
			return nil
		}

		res, err := svc.AddData(ctx, AddDataRequest{
			ContentID: id,
			Kind:      model.DocumentKindKnowledge,
			Title:     title,
			Content:   content,
			Action:    action,
		})
		if err != nil {
			log.Warnf("SeedKnowledge: 入库失败: %s, err=%v", rel, err)
			return nil
		}
		if res.Verdict.Flagged() {
			log.Warnf("SeedKnowledge: 未通过审核: %s", rel)
			return nil
		}
		imported++
		log.Infof("SeedKnowledge: 导入完成: %s (%d chunks)", rel, res.Chunks)
		return nil
	})
	if walkErr != nil {
		log.Warnf("SeedKnowledge: 遍历目录发生错误: %v", walkErr)
	}
	return imported
}
