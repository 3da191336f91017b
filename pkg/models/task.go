package models

import (
	"fmt"
	"time"
)

// TaskType is the kind of distributed computation
type TaskType string

const (
	TaskTypeGridSearch TaskType = "grid_search"
)

// ParseTaskType validates a wire/DB task type string
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskTypeGridSearch:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// SubtaskKind returns the subtask kind produced by this task type
func (t TaskType) SubtaskKind() SubtaskType {
	return SubtaskType(t)
}

// TaskStatus is the creator-side task lifecycle
type TaskStatus string

const (
	TaskStatusCreating            TaskStatus = "creating"
	TaskStatusExecutorsSearching  TaskStatus = "executors_searching"
	TaskStatusResourcesPublishing TaskStatus = "resources_publishing"
	TaskStatusSubtasksSending     TaskStatus = "subtasks_sending"
	TaskStatusSubtasksPolling     TaskStatus = "subtasks_polling"
	TaskStatusResultProcessing    TaskStatus = "result_processing"
	TaskStatusSuccess             TaskStatus = "success"
	TaskStatusError               TaskStatus = "error"
)

// ParseTaskStatus validates a wire/DB status string
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskStatusCreating, TaskStatusExecutorsSearching,
		TaskStatusResourcesPublishing, TaskStatusSubtasksSending,
		TaskStatusSubtasksPolling, TaskStatusResultProcessing,
		TaskStatusSuccess, TaskStatusError:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Terminal reports whether the task has finished
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusError
}

// Task is a creator-side distributed computation. Params holds the full
// parameter grid as submitted; Result is nil until the task succeeds.
type Task struct {
	TaskUID    string         `json:"task_uid"`
	TaskType   TaskType       `json:"task_type"`
	CreatorUID string         `json:"creator_uid"`
	Status     TaskStatus     `json:"status"`
	DatasetUID *string        `json:"dataset_uid"`
	CreatedAt  *time.Time     `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Params     map[string]any `json:"params"`
	Result     map[string]any `json:"result"`
	Subtasks   []Subtask      `json:"subtasks,omitempty"`
}
