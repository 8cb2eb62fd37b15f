// Package aitest provides a scripted in-memory ai.Provider for tests.
package aitest

import (
	"context"
	"fmt"
	"sync"

	"sitechat-go/pkg/ai"
)

// Provider is a fake ai.Provider. Fields may be set directly before use;
// queued values are consumed in order and the zero value behaves sensibly.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc computes a vector for a text. Defaults to a fixed vector.
	EmbedFunc func(text string) []float32
	// ModerationFunc classifies a text. Defaults to "not flagged".
	ModerationFunc func(text string) *ai.ModerationResult

	// Queued errors returned (and consumed) by the matching call before any
	// success path runs.
	EmbedErrs        []error
	ModerateErrs     []error
	CreateThreadErrs []error
	CreateRunErrs    []error
	StatusErrs       []error
	ListErrs         []error

	// RunStatuses is consumed by GetRunStatus; the last entry repeats.
	RunStatuses []ai.RunStatus
	// CreateRunStatus overrides the status returned by CreateRun.
	CreateRunStatus ai.RunStatus
	// Messages is returned by ListMessages.
	Messages []ai.ThreadMessage

	EmbedCalls        int
	EmbedInputs       [][]string
	ModerateCalls     int
	CreateThreadCalls int
	CreateRunCalls    int
	StatusCalls       int
	ListCalls         int
	// RunThreads records the thread id of every CreateRun call.
	RunThreads []string
	// RunMessages records the messages of every CreateRun call.
	RunMessages [][]ai.Message

	threadSeq int
	runSeq    int
}

var _ ai.Provider = (*Provider)(nil)

// New returns a fake provider with default behaviour.
func New() *Provider {
	return &Provider{}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (p *Provider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls++
	p.EmbedInputs = append(p.EmbedInputs, append([]string(nil), texts...))
	if err := pop(&p.EmbedErrs); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.EmbedFunc != nil {
			out[i] = p.EmbedFunc(t)
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func (p *Provider) Moderate(_ context.Context, text string) (*ai.ModerationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModerateCalls++
	if err := pop(&p.ModerateErrs); err != nil {
		return nil, err
	}
	if p.ModerationFunc != nil {
		if r := p.ModerationFunc(text); r != nil {
			return r, nil
		}
	}
	return &ai.ModerationResult{}, nil
}

func (p *Provider) CreateThread(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateThreadCalls++
	if err := pop(&p.CreateThreadErrs); err != nil {
		return "", err
	}
	p.threadSeq++
	return fmt.Sprintf("thread_%d", p.threadSeq), nil
}

func (p *Provider) CreateRun(_ context.Context, threadID string, messages []ai.Message) (*ai.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateRunCalls++
	p.RunThreads = append(p.RunThreads, threadID)
	p.RunMessages = append(p.RunMessages, append([]ai.Message(nil), messages...))
	if err := pop(&p.CreateRunErrs); err != nil {
		return nil, err
	}
	p.runSeq++
	status := p.CreateRunStatus
	if status == "" {
		status = ai.RunQueued
	}
	return &ai.Run{ID: fmt.Sprintf("run_%d", p.runSeq), Status: status}, nil
}

func (p *Provider) GetRunStatus(_ context.Context, _, _ string) (ai.RunStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StatusCalls++
	if err := pop(&p.StatusErrs); err != nil {
		return "", err
	}
	if len(p.RunStatuses) == 0 {
		return ai.RunCompleted, nil
	}
	s := p.RunStatuses[0]
	if len(p.RunStatuses) > 1 {
		p.RunStatuses = p.RunStatuses[1:]
	}
	return s, nil
}

func (p *Provider) ListMessages(_ context.Context, _ string) ([]ai.ThreadMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListCalls++
	if err := pop(&p.ListErrs); err != nil {
		return nil, err
	}
	return append([]ai.ThreadMessage(nil), p.Messages...), nil
}

// Flagged returns a moderation result flagging the given categories with the
// given scores.
func Flagged(scores map[string]float64) *ai.ModerationResult {
	cats := make(map[string]bool, len(scores))
	for k := range scores {
		cats[k] = true
	}
	return &ai.ModerationResult{Flagged: true, Categories: cats, CategoryScores: scores}
}
