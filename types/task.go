package types

import "time"

// TaskStatus represents the execution state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a unit of work distributed across the swarm.
type Task struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Priority             int            `json:"priority"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	Status               TaskStatus     `json:"status"`
	AssignedTo           string         `json:"assigned_to,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Assignment records which agent a task was given to.
type Assignment struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}
