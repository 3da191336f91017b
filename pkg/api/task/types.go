// Package task defines the wire types of the task controller API.
package task

import (
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// CreateRequest submits a new distributed task
type CreateRequest struct {
	TaskType    models.TaskType `json:"task_type"`
	Params      map[string]any  `json:"params"`
	DatasetPath string          `json:"dataset_path"`
}

// CreateResponse carries the minted task uid; scheduling continues in the
// background
type CreateResponse struct {
	common.Response
	TaskUID string `json:"task_uid"`
}

// GetRequest fetches one task record
type GetRequest struct {
	TaskUID string `json:"task_uid"`
}

// GetResponse carries the task with its subtasks
type GetResponse struct {
	common.Response
	Task *models.Task `json:"task"`
}

// ListResponse carries all tasks known to the controller
type ListResponse struct {
	common.Response
	Tasks []models.Task `json:"tasks"`
}

// ResultRequest fetches the reduced result of a finished task
type ResultRequest struct {
	TaskUID string `json:"task_uid"`
}

// ResultResponse carries the reduced result JSON
type ResultResponse struct {
	common.Response
	Result map[string]any `json:"result"`
}

// SubtaskRequest fetches one creator-side subtask record
type SubtaskRequest struct {
	SubtaskUID string `json:"subtask_uid"`
}

// SubtaskResponse carries the subtask record
type SubtaskResponse struct {
	common.Response
	Subtask *models.Subtask `json:"subtask"`
}
