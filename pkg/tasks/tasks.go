// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingTask asks the consumer to run an embedding pass over pending chunks.
// ContentID is informational; a pass always covers every pending chunk.
type EmbeddingTask struct {
	TaskID    string    `json:"task_id"`
	ContentID string    `json:"content_id,omitempty"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEmbeddingTask creates a task with a fresh id.
func NewEmbeddingTask(contentID, reason string) EmbeddingTask {
	return EmbeddingTask{
		TaskID:    uuid.NewString(),
		ContentID: contentID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}
