package taskstore

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// TaskInfo tracks one reply from admission to the final post.
type TaskInfo struct {
	ID           string     `json:"id"`
	Status       TaskStatus `json:"status"`
	EventID      string     `json:"event_id"`
	ChannelID    string     `json:"channel_id"`
	ThreadTS     string     `json:"thread_ts,omitempty"`
	AuthorID     string     `json:"author_id"`
	Edit         string     `json:"edit,omitempty"`
	Model        string     `json:"model,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	Fallback     string     `json:"fallback,omitempty"`
	HistoryTurns int        `json:"history_turns,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "":
		return "", true
	case string(TaskQueued):
		return TaskQueued, true
	case string(TaskRunning):
		return TaskRunning, true
	case string(TaskDone):
		return TaskDone, true
	case string(TaskFailed):
		return TaskFailed, true
	default:
		return "", false
	}
}

// NewTaskID returns a random identifier for a reply task.
func NewTaskID() string {
	return "reply_" + uuid.NewString()
}
