package models

import "fmt"

// DatasetStatus tracks a dataset through seeding (creator side) or leeching
// (executor side)
type DatasetStatus string

const (
	DatasetStatusCreating    DatasetStatus = "creating"
	DatasetStatusPublishing  DatasetStatus = "publishing"
	DatasetStatusDownloading DatasetStatus = "downloading"
	DatasetStatusAvailable   DatasetStatus = "available"
)

// ParseDatasetStatus validates a wire/DB status string
func ParseDatasetStatus(s string) (DatasetStatus, error) {
	switch DatasetStatus(s) {
	case DatasetStatusCreating, DatasetStatusPublishing,
		DatasetStatusDownloading, DatasetStatusAvailable:
		return DatasetStatus(s), nil
	}
	return "", fmt.Errorf("unknown dataset status %q", s)
}

// Dataset is a content-addressed file tree distributed over the swarm.
// MagnetLink is nil until the torrent exists (publish mints it, download
// receives it).
type Dataset struct {
	DatasetUID string        `json:"dataset_uid"`
	MagnetLink *string       `json:"magnet_link"`
	Path       string        `json:"path"`
	Status     DatasetStatus `json:"status"`
}
