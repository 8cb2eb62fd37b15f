package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/log"
)

// KnowledgeHandler 负责管理端的知识库维护接口。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// AddDataRequest 是站点内容入库的请求体。
type AddDataRequest struct {
	ID      string `json:"id" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
	Action  string `json:"action"`
}

// KnowledgeRequest 是知识条目新增或修改的请求体。
type KnowledgeRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func listFilter(c *gin.Context, kind string) repository.DocumentFilter {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return repository.DocumentFilter{
		Kind:   kind,
		Status: c.Query("status"),
		Search: c.Query("search"),
		Offset: (page - 1) * size,
		Limit:  size,
	}
}

// ListData 分页列出站点内容，可按 status 过滤。
func (h *KnowledgeHandler) ListData(c *gin.Context) {
	h.list(c, c.Query("kind"))
}

// ListKnowledge 分页列出自定义知识条目。
func (h *KnowledgeHandler) ListKnowledge(c *gin.Context) {
	h.list(c, model.DocumentKindKnowledge)
}

func (h *KnowledgeHandler) list(c *gin.Context, kind string) {
	page, err := h.knowledgeService.ListData(c.Request.Context(), listFilter(c, kind))
	if err != nil {
		log.Errorf("[KnowledgeHandler] 列表查询失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// GetData 获取单篇文档。
func (h *KnowledgeHandler) GetData(c *gin.Context) {
	doc, err := h.knowledgeService.GetData(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": doc})
}

// AddData 将一篇站点内容纳入知识库。action 为 update 时重新审核，为 override 时跳过审核。
func (h *KnowledgeHandler) AddData(c *gin.Context) {
	var req AddDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：id、title、content 不能为空"})
		return
	}
	res, err := h.knowledgeService.AddData(c.Request.Context(), service.AddDataRequest{
		ContentID: req.ID,
		Kind:      model.DocumentKindPost,
		Title:     req.Title,
		Content:   req.Content,
		Action:    req.Action,
	})
	h.respondIngest(c, res, err)
}

// AddKnowledge 新增一条知识条目。
func (h *KnowledgeHandler) AddKnowledge(c *gin.Context) {
	var req KnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：title、content 不能为空"})
		return
	}
	res, err := h.knowledgeService.AddKnowledge(c.Request.Context(), req.Title, req.Content)
	h.respondIngest(c, res, err)
}

// UpdateKnowledge 修改一条知识条目。
func (h *KnowledgeHandler) UpdateKnowledge(c *gin.Context) {
	var req KnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：title、content 不能为空"})
		return
	}
	res, err := h.knowledgeService.UpdateKnowledge(c.Request.Context(), c.Param("id"), req.Title, req.Content)
	h.respondIngest(c, res, err)
}

// DeleteData 删除文档及其分块。
func (h *KnowledgeHandler) DeleteData(c *gin.Context) {
	id := c.Param("id")
	if err := h.knowledgeService.DeleteData(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "删除成功"})
}

// MarkNeedsUpdate 标记文档需要重新入库。
func (h *KnowledgeHandler) MarkNeedsUpdate(c *gin.Context) {
	if err := h.knowledgeService.MarkNeedsUpdate(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

func (h *KnowledgeHandler) respondIngest(c *gin.Context, res *service.AddDataResult, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	if res.Verdict.Flagged() {
		respondFlagged(c, res.Review)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": res})
}

func (h *KnowledgeHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在"})
	case errors.Is(err, service.ErrEmptyContent), errors.Is(err, service.ErrInvalidAction), errors.Is(err, service.ErrNoChunks):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
	case errors.Is(err, service.ErrCorpusFull):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
	default:
		var providerErr *ai.Error
		if errors.As(err, &providerErr) {
			log.Errorf("[KnowledgeHandler] AI 服务调用失败, error: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": ai.UserMessage(err)})
			return
		}
		log.Errorf("[KnowledgeHandler] 请求处理失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误"})
	}
}
