// Package ai provides the AI provider client used for embeddings, moderation
// and assistant thread/run operations.
package ai

import "context"

// RunStatus is the provider-side status of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether no further status change is expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Message is a message submitted with a run.
type Message struct {
	Role    string
	Content string
}

// ThreadMessage is a message listed from a thread.
type ThreadMessage struct {
	ID    string
	RunID string
	Role  string
	Text  string
}

// Run is the immediate result of creating a run.
type Run struct {
	ID     string
	Status RunStatus
}

// ModerationResult is the provider's classification of one text.
type ModerationResult struct {
	Flagged        bool
	Categories     map[string]bool
	CategoryScores map[string]float64
}

// Provider is the stateless request/response surface of the AI provider.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Moderate(ctx context.Context, text string) (*ModerationResult, error)
	CreateThread(ctx context.Context) (string, error)
	// CreateRun submits messages to the thread and starts a run. A missing
	// thread is reported as ErrThreadNotFound.
	CreateRun(ctx context.Context, threadID string, messages []Message) (*Run, error)
	GetRunStatus(ctx context.Context, threadID, runID string) (RunStatus, error)
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}
