// Package environment defines the wire types of the environment controller
// API.
package environment

import (
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// ImagePushRequest asks for a build+push of the image for a subtask kind
type ImagePushRequest struct {
	TaskType    models.TaskType    `json:"task_type"`
	SubtaskType models.SubtaskType `json:"subtask_type"`
}

// ImagePushResponse carries the deterministic tag and current status
type ImagePushResponse struct {
	common.Response
	ImageTag      string             `json:"image_tag"`
	PushingStatus models.ImageStatus `json:"pushing_status"`
}

// ImagePushStatusRequest polls a push
type ImagePushStatusRequest struct {
	ImageTag string `json:"image_tag"`
}

// ImagePushStatusResponse reports push progress
type ImagePushStatusResponse struct {
	common.Response
	ImageTag      string             `json:"image_tag"`
	PushingStatus models.ImageStatus `json:"pushing_status"`
}

// ImagePullRequest asks for a pull of an already published image
type ImagePullRequest struct {
	ImageTag string `json:"image_tag"`
}

// ImagePullResponse acknowledges the pull with current status
type ImagePullResponse struct {
	common.Response
	ImageTag      string             `json:"image_tag"`
	PullingStatus models.ImageStatus `json:"pulling_status"`
}

// ImagePullStatusRequest polls a pull
type ImagePullStatusRequest struct {
	ImageTag string `json:"image_tag"`
}

// ImagePullStatusResponse reports pull progress
type ImagePullStatusResponse struct {
	common.Response
	ImageTag      string             `json:"image_tag"`
	PullingStatus models.ImageStatus `json:"pulling_status"`
}

// ContainerRunRequest starts a subtask container with the given input files
type ContainerRunRequest struct {
	ImageTag   string   `json:"image_tag"`
	SubtaskUID string   `json:"subtask_uid"`
	InputFiles []string `json:"input_files"`
}

// ContainerRunResponse acknowledges the run with current status
type ContainerRunResponse struct {
	common.Response
	SubtaskUID    string                 `json:"subtask_uid"`
	RunningStatus models.ContainerStatus `json:"running_status"`
}

// ContainerStatusRequest polls a container run
type ContainerStatusRequest struct {
	SubtaskUID string `json:"subtask_uid"`
}

// ContainerStatusResponse reports container progress
type ContainerStatusResponse struct {
	common.Response
	SubtaskUID    string                 `json:"subtask_uid"`
	RunningStatus models.ContainerStatus `json:"running_status"`
}

// ContainerResultRequest asks for the output file of a finished run
type ContainerResultRequest struct {
	SubtaskUID string `json:"subtask_uid"`
}

// ContainerResultResponse carries the path of the result file
type ContainerResultResponse struct {
	common.Response
	SubtaskUID string `json:"subtask_uid"`
	ResultFile string `json:"result_file"`
}
