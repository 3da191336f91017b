package models

import (
	"fmt"
	"time"
)

// SubtaskType is the kind of unit of work sent to executors
type SubtaskType string

const (
	SubtaskTypeGridSearch SubtaskType = "grid_search"
)

// ParseSubtaskType validates a wire/DB subtask type string
func ParseSubtaskType(s string) (SubtaskType, error) {
	switch SubtaskType(s) {
	case SubtaskTypeGridSearch:
		return SubtaskType(s), nil
	}
	return "", fmt.Errorf("unknown subtask type %q", s)
}

// SubtaskStatus is the creator-side subtask lifecycle. It is the source of
// truth for scheduling decisions; executor-reported statuses are converted
// on ingest via SubtaskStatusFromExecutor.
type SubtaskStatus string

const (
	SubtaskStatusWaitingExecutorAssignment SubtaskStatus = "waiting_executor_assignment"
	SubtaskStatusCreating                  SubtaskStatus = "creating"
	SubtaskStatusResourcesDownloading      SubtaskStatus = "resources_downloading"
	SubtaskStatusRunning                   SubtaskStatus = "running"
	SubtaskStatusSuccess                   SubtaskStatus = "success"
	SubtaskStatusError                     SubtaskStatus = "error"
	SubtaskStatusTimeout                   SubtaskStatus = "timeout"
)

// ParseSubtaskStatus validates a wire/DB status string
func ParseSubtaskStatus(s string) (SubtaskStatus, error) {
	switch SubtaskStatus(s) {
	case SubtaskStatusWaitingExecutorAssignment, SubtaskStatusCreating,
		SubtaskStatusResourcesDownloading, SubtaskStatusRunning,
		SubtaskStatusSuccess, SubtaskStatusError, SubtaskStatusTimeout:
		return SubtaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown subtask status %q", s)
}

// Terminal reports whether the subtask has finished
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskStatusSuccess || s == SubtaskStatusError ||
		s == SubtaskStatusTimeout
}

// Subtask is a creator-side slice of a task assigned to one executor.
// Params holds the subtask's share of the grid plus the common params.
type Subtask struct {
	SubtaskUID  string         `json:"subtask_uid"`
	TaskUID     string         `json:"task_uid"`
	SubtaskType SubtaskType    `json:"subtask_type"`
	ExecutorUID *string        `json:"executor_uid"`
	Status      SubtaskStatus  `json:"status"`
	CreatedAt   *time.Time     `json:"created_at"`
	FinishedAt  *time.Time     `json:"finished_at"`
	Params      map[string]any `json:"params"`
	Result      map[string]any `json:"result"`
}

// ExecutorSubtaskStatus is the executor-side subtask lifecycle
type ExecutorSubtaskStatus string

const (
	ExecutorSubtaskStatusWaitingParams ExecutorSubtaskStatus = "waiting_params"
	ExecutorSubtaskStatusCreating      ExecutorSubtaskStatus = "creating"
	ExecutorSubtaskStatusRunning       ExecutorSubtaskStatus = "running"
	ExecutorSubtaskStatusSuccess       ExecutorSubtaskStatus = "success"
	ExecutorSubtaskStatusError         ExecutorSubtaskStatus = "error"
	ExecutorSubtaskStatusTimeout       ExecutorSubtaskStatus = "timeout"
	ExecutorSubtaskStatusCancelled     ExecutorSubtaskStatus = "cancelled"
)

// ParseExecutorSubtaskStatus validates a wire/DB status string
func ParseExecutorSubtaskStatus(s string) (ExecutorSubtaskStatus, error) {
	switch ExecutorSubtaskStatus(s) {
	case ExecutorSubtaskStatusWaitingParams, ExecutorSubtaskStatusCreating,
		ExecutorSubtaskStatusRunning, ExecutorSubtaskStatusSuccess,
		ExecutorSubtaskStatusError, ExecutorSubtaskStatusTimeout,
		ExecutorSubtaskStatusCancelled:
		return ExecutorSubtaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown executor subtask status %q", s)
}

// Terminal reports whether the executor-side run has ended
func (s ExecutorSubtaskStatus) Terminal() bool {
	switch s {
	case ExecutorSubtaskStatusSuccess, ExecutorSubtaskStatusError,
		ExecutorSubtaskStatusTimeout, ExecutorSubtaskStatusCancelled:
		return true
	}
	return false
}

// SubtaskStatusFromExecutor maps an executor-reported status onto the
// creator's enum. A cancelled executor run is an error from the creator's
// point of view.
func SubtaskStatusFromExecutor(s ExecutorSubtaskStatus) SubtaskStatus {
	switch s {
	case ExecutorSubtaskStatusWaitingParams:
		return SubtaskStatusCreating
	case ExecutorSubtaskStatusCreating:
		return SubtaskStatusResourcesDownloading
	case ExecutorSubtaskStatusRunning:
		return SubtaskStatusRunning
	case ExecutorSubtaskStatusSuccess:
		return SubtaskStatusSuccess
	case ExecutorSubtaskStatusTimeout:
		return SubtaskStatusTimeout
	default:
		return SubtaskStatusError
	}
}

// ExecutorSubtask is the executor-side record of an accepted unit of work
type ExecutorSubtask struct {
	SubtaskUID string                `json:"subtask_uid"`
	CreatorUID string                `json:"creator_uid"`
	DatasetUID *string               `json:"dataset_uid"`
	Status     ExecutorSubtaskStatus `json:"status"`
	CreatedAt  *time.Time            `json:"created_at"`
	FinishedAt *time.Time            `json:"finished_at"`
}
