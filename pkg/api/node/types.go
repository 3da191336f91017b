// Package node defines the wire types of the node controller API.
package node

import (
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// PingResponse is returned by GET /ping
type PingResponse struct {
	common.Response
}

// ActiveNodesResponse is returned by POST /nodes/active
type ActiveNodesResponse struct {
	Nodes []models.Node `json:"nodes"`
}

// HandshakeRequest introduces the caller to a registry
type HandshakeRequest struct {
	NodeUID string          `json:"node_uid"`
	IP      string          `json:"ip"`
	Port    int             `json:"port"`
	Role    models.NodeRole `json:"role"`
}

// HandshakeResponse echoes the registry's own identity back
type HandshakeResponse struct {
	common.Response
	NodeUID string          `json:"node_uid"`
	IP      string          `json:"ip"`
	Port    int             `json:"port"`
	Role    models.NodeRole `json:"role"`
}

// JoinRequest registers an endpoint whose uid is minted by the receiver
type JoinRequest struct {
	IP   string          `json:"ip"`
	Port int             `json:"port"`
	Role models.NodeRole `json:"role"`
}

// JoinResponse carries the minted uid
type JoinResponse struct {
	NodeUID string `json:"node_uid"`
}

// LeaveRequest removes a node from the receiver's registry
type LeaveRequest struct {
	NodeUID string `json:"node_uid"`
}

// LeaveResponse acknowledges a leave
type LeaveResponse struct {
	common.Response
}

// EnableRequest marks a known node active at the given endpoint
type EnableRequest struct {
	NodeUID string `json:"node_uid"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
}

// EnableResponse acknowledges an enable
type EnableResponse struct {
	common.Response
}

// DisableRequest marks a known node inactive
type DisableRequest struct {
	NodeUID string `json:"node_uid"`
}

// DisableResponse acknowledges a disable
type DisableResponse struct {
	common.Response
}

// ExchangeRequest carries the caller's view of the fabric
type ExchangeRequest struct {
	Nodes []models.Node `json:"nodes"`
}

// ExchangeResponse carries the receiver's full view after merging
type ExchangeResponse struct {
	Nodes []models.Node `json:"nodes"`
}
