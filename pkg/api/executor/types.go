// Package executor defines the wire types of the task executor API.
package executor

import (
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// OfferVerdict is the executor's answer to a subtask offer
type OfferVerdict string

const (
	VerdictAccepted OfferVerdict = "accepted"
	VerdictDeclined OfferVerdict = "declined"
)

// OfferRequest reserves a subtask slot on the executor
type OfferRequest struct {
	CreatorUID string `json:"creator_uid"`
	SubtaskUID string `json:"subtask_uid"`
}

// OfferResponse carries the executor's verdict
type OfferResponse struct {
	common.Response
	Verdict OfferVerdict `json:"verdict"`
}

// StartRequest supplies the resources and params for an offered subtask
type StartRequest struct {
	SubtaskUID string         `json:"subtask_uid"`
	ImageTag   string         `json:"image_tag"`
	DatasetUID string         `json:"dataset_uid"`
	MagnetLink string         `json:"magnet_link"`
	Params     map[string]any `json:"params"`
}

// StartResponse carries the subtask record after the start is accepted
type StartResponse struct {
	common.Response
	Subtask *models.ExecutorSubtask `json:"subtask"`
}

// GetRequest fetches one subtask record
type GetRequest struct {
	SubtaskUID string `json:"subtask_uid"`
}

// GetResponse carries the subtask record
type GetResponse struct {
	common.Response
	Subtask *models.ExecutorSubtask `json:"subtask"`
}

// ListResponse carries all subtasks known to the executor
type ListResponse struct {
	common.Response
	Subtasks []models.ExecutorSubtask `json:"subtasks"`
}

// ResultRequest fetches the parsed output of a finished subtask
type ResultRequest struct {
	SubtaskUID string `json:"subtask_uid"`
}

// ResultResponse carries the subtask output JSON
type ResultResponse struct {
	common.Response
	Result map[string]any `json:"result"`
}
