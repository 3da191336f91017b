// Package data defines the wire types of the data controller API.
package data

import (
	"regexp"

	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// MagnetLinkPattern matches the btih urn carried in magnet links
var MagnetLinkPattern = regexp.MustCompile(`urn:btih:([A-Fa-f\d]+)`)

// ValidMagnetLink reports whether s carries a well-formed btih urn
func ValidMagnetLink(s string) bool {
	return MagnetLinkPattern.MatchString(s)
}

// PublishRequest asks the controller to seed a local file tree
type PublishRequest struct {
	Path string `json:"path"`
}

// PublishResponse carries the minted dataset uid
type PublishResponse struct {
	common.Response
	DatasetUID string `json:"dataset_uid"`
}

// DownloadRequest asks the controller to leech a published dataset
type DownloadRequest struct {
	DatasetUID string `json:"dataset_uid"`
	MagnetLink string `json:"magnet_link"`
}

// DownloadResponse acknowledges the download
type DownloadResponse struct {
	common.Response
	DatasetUID string `json:"dataset_uid"`
}

// GetRequest fetches one dataset record
type GetRequest struct {
	DatasetUID string `json:"dataset_uid"`
}

// GetResponse carries the dataset record
type GetResponse struct {
	common.Response
	Dataset *models.Dataset `json:"dataset"`
}
