package models

import "fmt"

// ImageStatus tracks a container image through build/push on the creator
// side and pull on the executor side
type ImageStatus string

const (
	ImageStatusCreating      ImageStatus = "creating"
	ImageStatusBuilding      ImageStatus = "building"
	ImageStatusBuildingError ImageStatus = "building_error"
	ImageStatusPushing       ImageStatus = "pushing"
	ImageStatusPushingError  ImageStatus = "pushing_error"
	ImageStatusPushed        ImageStatus = "pushed"
	ImageStatusPulling       ImageStatus = "pulling"
	ImageStatusPullingError  ImageStatus = "pulling_error"
	ImageStatusPulled        ImageStatus = "pulled"
	ImageStatusArchived      ImageStatus = "archived"
)

// ParseImageStatus validates a wire/DB status string
func ParseImageStatus(s string) (ImageStatus, error) {
	switch ImageStatus(s) {
	case ImageStatusCreating, ImageStatusBuilding, ImageStatusBuildingError,
		ImageStatusPushing, ImageStatusPushingError, ImageStatusPushed,
		ImageStatusPulling, ImageStatusPullingError, ImageStatusPulled,
		ImageStatusArchived:
		return ImageStatus(s), nil
	}
	return "", fmt.Errorf("unknown image status %q", s)
}

// Image is a tracked container image. ImageTag is the primary key, shaped
// <namespace>/<subtask_kind>:<md5 of the build context>; the same sources
// always produce the same tag. ImageID is the engine-local id once the image
// exists on this host.
type Image struct {
	ImageTag string      `json:"image_tag"`
	ImageID  *string     `json:"image_id"`
	Status   ImageStatus `json:"status"`
}

// ContainerStatus tracks a subtask container run inside the environment
// controller
type ContainerStatus string

const (
	ContainerStatusCreating    ContainerStatus = "creating"
	ContainerStatusFileCopying ContainerStatus = "file_copying"
	ContainerStatusRunning     ContainerStatus = "running"
	ContainerStatusSuccess     ContainerStatus = "success"
	ContainerStatusError       ContainerStatus = "error"
	ContainerStatusTimeout     ContainerStatus = "timeout"
	ContainerStatusCancelled   ContainerStatus = "cancelled"
)

// ParseContainerStatus validates a wire/DB status string
func ParseContainerStatus(s string) (ContainerStatus, error) {
	switch ContainerStatus(s) {
	case ContainerStatusCreating, ContainerStatusFileCopying,
		ContainerStatusRunning, ContainerStatusSuccess, ContainerStatusError,
		ContainerStatusTimeout, ContainerStatusCancelled:
		return ContainerStatus(s), nil
	}
	return "", fmt.Errorf("unknown container status %q", s)
}

// Terminal reports whether the container run has ended
func (s ContainerStatus) Terminal() bool {
	switch s {
	case ContainerStatusSuccess, ContainerStatusError,
		ContainerStatusTimeout, ContainerStatusCancelled:
		return true
	}
	return false
}

// ContainerRun is the environment controller's record of one subtask
// container
type ContainerRun struct {
	SubtaskUID  string          `json:"subtask_uid"`
	ImageTag    string          `json:"image_tag"`
	ContainerID *string         `json:"container_id"`
	Status      ContainerStatus `json:"status"`
}
