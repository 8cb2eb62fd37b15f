package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sitechat-go/internal/chat"
	"sitechat-go/pkg/log"
)

const (
	codeContentFailedModeration = "content_failed_moderation"
	msgTryAgainLater            = "Something went wrong, please try again later."
	msgNoAnswer                 = "Sorry, I could not answer that question. Please try again."
)

// ChatMachine 是聊天接口依赖的对话状态机。
type ChatMachine interface {
	Ask(ctx context.Context, question, threadID string) (*chat.AskResult, error)
	Poll(ctx context.Context, threadID, runID string) (*chat.PollResult, error)
}

// ChatHandler 负责站点访客的提问与轮询。
type ChatHandler struct {
	machine ChatMachine
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(machine ChatMachine) *ChatHandler {
	return &ChatHandler{machine: machine}
}

// AskRequest 是提问的请求体。ThreadID 为空时开启新对话。
type AskRequest struct {
	Message  string `json:"message" binding:"required"`
	ThreadID string `json:"thread_id"`
}

// Ask 接收问题并返回可轮询的 run。
func (h *ChatHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "message 不能为空"})
		return
	}

	res, err := h.machine.Ask(c.Request.Context(), req.Message, req.ThreadID)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "message 不能为空"})
			return
		}
		log.Errorf("[ChatHandler] 提问失败, threadID: %s, error: %v", req.ThreadID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": msgTryAgainLater})
		return
	}
	if res.Verdict.Flagged() {
		respondFlagged(c, res.Verdict.Review())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"thread_id": res.ThreadID,
			"query_run": res.RunID,
		},
	})
}

// Poll 查询 run 状态；完成时返回回答。
func (h *ChatHandler) Poll(c *gin.Context) {
	runID := c.Query("run_id")
	threadID := c.Query("thread_id")
	if runID == "" || threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "run_id 和 thread_id 不能为空"})
		return
	}

	res, err := h.machine.Poll(c.Request.Context(), threadID, runID)
	if err != nil {
		var failed *chat.RunFailedError
		switch {
		case errors.As(err, &failed):
			log.Warnf("[ChatHandler] run 失败, threadID: %s, runID: %s, status: %s", threadID, runID, failed.Status)
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"status": failed.Status, "error": msgNoAnswer}})
		case errors.Is(err, chat.ErrAnswerNotFound):
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"error": msgNoAnswer}})
		default:
			log.Errorf("[ChatHandler] 轮询失败, threadID: %s, runID: %s, error: %v", threadID, runID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": msgTryAgainLater})
		}
		return
	}

	if !res.Done {
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"status": res.Status}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"status":  res.Status,
			"message": res.Answer,
		},
	})
}

func respondFlagged(c *gin.Context, review map[string]interface{}) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"code":    http.StatusUnprocessableEntity,
		"message": "内容未通过审核",
		"data": gin.H{
			"code":   codeContentFailedModeration,
			"review": review,
		},
	})
}
