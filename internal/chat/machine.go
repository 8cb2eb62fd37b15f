// Package chat 实现了基于检索上下文的异步对话状态机。
//
// 一次提问经历 no_thread → thread_created → run_queued → run_in_progress →
// run_completed | run_failed。状态机本身从不等待：调用方根据 Poll 返回的
// RetryAfter 自行决定下一次轮询的时间，放弃轮询即为取消。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitechat-go/internal/model"
	"sitechat-go/internal/moderation"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/retrieval"
	"sitechat-go/pkg/ai"
	"sitechat-go/pkg/log"
)

// DefaultPollInterval 是非终态时建议的轮询间隔。
const DefaultPollInterval = 2 * time.Second

var (
	// ErrEmptyQuestion 表示问题为空。
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrAnswerNotFound 表示 run 已完成，但线程中没有属于该 run 的助手回复。
	ErrAnswerNotFound = errors.New("no assistant message for run")
)

// RunCreateError 表示 run 创建后的即时状态不是 queued，或没有返回 run id。
type RunCreateError struct {
	ThreadID string
	Status   ai.RunStatus
}

func (e *RunCreateError) Error() string {
	return fmt.Sprintf("run on thread %s not queued (status %q)", e.ThreadID, e.Status)
}

// RunFailedError 是 run 以非 completed 的终态结束时返回的错误。
type RunFailedError struct {
	ThreadID string
	RunID    string
	Status   ai.RunStatus
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s on thread %s ended with status %q", e.RunID, e.ThreadID, e.Status)
}

// Retriever 根据问题向量返回打包好的上下文候选。
type Retriever interface {
	Search(ctx context.Context, query []float32) ([]model.RetrievedChunk, error)
}

// AskResult 是一次提问的结果。问题未通过审核时只有 Verdict 有意义。
type AskResult struct {
	ThreadID string
	RunID    string
	Verdict  model.Verdict
	Sources  []model.RetrievedChunk
}

// PollResult 是一次轮询的结果。Done 为 false 时调用方应在 RetryAfter 之后再次轮询。
type PollResult struct {
	Status     ai.RunStatus
	Done       bool
	Answer     string
	RetryAfter time.Duration
}

// Options 控制状态机的缓存与轮询参数。
type Options struct {
	PollInterval  time.Duration
	QueryCacheTTL time.Duration
}

// Machine 驱动提问与轮询。cache 与 sessions 可以为 nil。
type Machine struct {
	provider  ai.Provider
	gate      *moderation.Gate
	retriever Retriever
	cache     repository.CacheRepository
	sessions  repository.SessionRepository
	opts      Options
}

// NewMachine 创建一个新的对话状态机。
func NewMachine(provider ai.Provider, gate *moderation.Gate, retriever Retriever,
	cache repository.CacheRepository, sessions repository.SessionRepository, opts Options) *Machine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.QueryCacheTTL <= 0 {
		opts.QueryCacheTTL = time.Minute
	}
	return &Machine{
		provider:  provider,
		gate:      gate,
		retriever: retriever,
		cache:     cache,
		sessions:  sessions,
		opts:      opts,
	}
}

// Ask 审核问题、检索上下文，并在已有或新建的线程上创建 run。
// threadID 为空时会先创建线程；线程在服务方已不存在时会新建一次线程并重试一次。
func (m *Machine) Ask(ctx context.Context, question, threadID string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	// 1. 审核问题，不通过时不再调用其他接口
	verdict, err := m.gate.Check(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("moderate question: %w", err)
	}
	if verdict.Flagged() {
		log.Warnf("[ChatMachine] 问题未通过审核, categories: %v", verdict.Scores)
		return &AskResult{ThreadID: threadID, Verdict: verdict}, nil
	}

	// 2. 向量化问题并检索上下文
	vec, err := m.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}
	sources, err := m.retriever.Search(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("search context: %w", err)
	}
	messages := buildMessages(question, retrieval.FormatContext(sources))

	// 3. 按需创建线程并提交 run
	if threadID == "" {
		if threadID, err = m.newThread(ctx); err != nil {
			return nil, err
		}
	}
	run, err := m.createRun(ctx, threadID, messages)
	if errors.Is(err, ai.ErrThreadNotFound) {
		log.Warnf("[ChatMachine] 线程 %s 已失效，新建线程后重试", threadID)
		m.dropSession(ctx, threadID)
		if threadID, err = m.newThread(ctx); err != nil {
			return nil, err
		}
		run, err = m.createRun(ctx, threadID, messages)
	}
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatMachine] 已提交 run, threadID: %s, runID: %s, 上下文分块: %d", threadID, run.ID, len(sources))
	m.updateSession(ctx, threadID, func(s *model.ChatSession) {
		s.RunID = run.ID
		s.State = model.StateRunQueued
		s.Messages = append(s.Messages, model.ChatMessage{
			Role:      "user",
			Content:   question,
			RunID:     run.ID,
			Timestamp: time.Now(),
		})
	})

	return &AskResult{ThreadID: threadID, RunID: run.ID, Verdict: verdict, Sources: sources}, nil
}

// Poll 查询一次 run 状态。非终态时返回建议的重试间隔；completed 时取回
// 属于该 run 的助手回复；其余终态返回 *RunFailedError。
func (m *Machine) Poll(ctx context.Context, threadID, runID string) (*PollResult, error) {
	status, err := m.provider.GetRunStatus(ctx, threadID, runID)
	if err != nil {
		return nil, fmt.Errorf("get run status: %w", err)
	}

	switch {
	case status == ai.RunCompleted:
		answer, err := m.fetchAnswer(ctx, threadID, runID)
		if err != nil {
			return nil, err
		}
		m.updateSession(ctx, threadID, func(s *model.ChatSession) {
			s.State = model.StateRunCompleted
			s.Messages = append(s.Messages, model.ChatMessage{
				Role:      "assistant",
				Content:   answer,
				RunID:     runID,
				Timestamp: time.Now(),
			})
		})
		return &PollResult{Status: status, Done: true, Answer: answer}, nil

	case status.Terminal():
		log.Warnf("[ChatMachine] run 失败, threadID: %s, runID: %s, status: %s", threadID, runID, status)
		m.updateSession(ctx, threadID, func(s *model.ChatSession) {
			s.State = model.StateRunFailed
		})
		return nil, &RunFailedError{ThreadID: threadID, RunID: runID, Status: status}

	default:
		if status != ai.RunQueued {
			m.updateSession(ctx, threadID, func(s *model.ChatSession) {
				if s.RunID == runID {
					s.State = model.StateRunInProgress
				}
			})
		}
		return &PollResult{Status: status, RetryAfter: m.opts.PollInterval}, nil
	}
}

// Session 返回线程的会话记录，不存在时返回 nil。
func (m *Machine) Session(ctx context.Context, threadID string) (*model.ChatSession, error) {
	if m.sessions == nil {
		return nil, nil
	}
	return m.sessions.GetSession(ctx, threadID)
}

func buildMessages(question, contextText string) []ai.Message {
	return []ai.Message{
		{Role: "user", Content: "START QUESTION: " + question + " :END QUESTION"},
		{Role: "user", Content: "START CONTEXT: " + contextText + " :END CONTEXT"},
	}
}

func (m *Machine) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if m.cache != nil {
		vec, err := m.cache.GetQueryVector(ctx, question)
		if err != nil {
			log.Warnf("[ChatMachine] 读取问题向量缓存失败: %v", err)
		} else if len(vec) > 0 {
			return vec, nil
		}
	}

	vecs, err := m.provider.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed question: empty embedding")
	}

	if m.cache != nil {
		if err := m.cache.SetQueryVector(ctx, question, vecs[0], m.opts.QueryCacheTTL); err != nil {
			log.Warnf("[ChatMachine] 写入问题向量缓存失败: %v", err)
		}
	}
	return vecs[0], nil
}

func (m *Machine) newThread(ctx context.Context) (string, error) {
	threadID, err := m.provider.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	m.updateSession(ctx, threadID, func(s *model.ChatSession) {
		s.State = model.StateThreadCreated
	})
	return threadID, nil
}

func (m *Machine) createRun(ctx context.Context, threadID string, messages []ai.Message) (*ai.Run, error) {
	run, err := m.provider.CreateRun(ctx, threadID, messages)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if run == nil || run.ID == "" || run.Status != ai.RunQueued {
		e := &RunCreateError{ThreadID: threadID}
		if run != nil {
			e.Status = run.Status
		}
		return nil, e
	}
	return run, nil
}

func (m *Machine) fetchAnswer(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := m.provider.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, msg := range msgs {
		if msg.RunID == runID && msg.Role == "assistant" {
			return msg.Text, nil
		}
	}
	return "", ErrAnswerNotFound
}

func (m *Machine) updateSession(ctx context.Context, threadID string, mutate func(*model.ChatSession)) {
	if m.sessions == nil {
		return
	}
	session, err := m.sessions.GetSession(ctx, threadID)
	if err != nil {
		log.Warnf("[ChatMachine] 读取会话失败, threadID: %s, error: %v", threadID, err)
		return
	}
	if session == nil {
		session = &model.ChatSession{ThreadID: threadID, State: model.StateNoThread}
	}
	mutate(session)
	if err := m.sessions.SaveSession(ctx, session); err != nil {
		log.Warnf("[ChatMachine] 保存会话失败, threadID: %s, error: %v", threadID, err)
	}
}

func (m *Machine) dropSession(ctx context.Context, threadID string) {
	if m.sessions == nil {
		return
	}
	if err := m.sessions.DeleteSession(ctx, threadID); err != nil {
		log.Warnf("[ChatMachine] 删除会话失败, threadID: %s, error: %v", threadID, err)
	}
}
