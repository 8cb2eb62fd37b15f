package model

import "time"

// RunState 是对话状态机的状态。
type RunState string

const (
	StateNoThread      RunState = "no_thread"
	StateThreadCreated RunState = "thread_created"
	StateRunQueued     RunState = "run_queued"
	StateRunInProgress RunState = "run_in_progress"
	StateRunCompleted  RunState = "run_completed"
	StateRunFailed     RunState = "run_failed"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	RunID     string    `json:"runId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession 代表一次多轮对话。ThreadID 由服务端分配，可跨越多个 run；
// RunID 只属于当前 ThreadID，每个问题一个。
type ChatSession struct {
	ThreadID string        `json:"threadId"`
	RunID    string        `json:"runId"`
	State    RunState      `json:"state"`
	Messages []ChatMessage `json:"messages"`
}
