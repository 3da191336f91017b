package models

import (
	"fmt"
	"time"
)

// NodeStatus is the liveness state of a peer as locally observed
type NodeStatus string

const (
	NodeStatusUnknown  NodeStatus = "unknown"
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
)

// ParseNodeStatus validates a wire/DB status string
func ParseNodeStatus(s string) (NodeStatus, error) {
	switch NodeStatus(s) {
	case NodeStatusUnknown, NodeStatusActive, NodeStatusInactive:
		return NodeStatus(s), nil
	}
	return "", fmt.Errorf("unknown node status %q", s)
}

// NodeRole describes what a node does in the fabric
type NodeRole string

const (
	NodeRoleExecutor NodeRole = "executor"
	NodeRoleCreator  NodeRole = "creator"
	NodeRoleRegistry NodeRole = "registry"
)

// ParseNodeRole validates a wire/DB role string
func ParseNodeRole(s string) (NodeRole, error) {
	switch NodeRole(s) {
	case NodeRoleExecutor, NodeRoleCreator, NodeRoleRegistry:
		return NodeRole(s), nil
	}
	return "", fmt.Errorf("unknown node role %q", s)
}

// Node is one peer's view of a fabric member. NodeUID is immutable for the
// lifetime of the peer; address, status and last_ping are observations.
type Node struct {
	NodeUID     string     `json:"node_uid"`
	IPv4Address string     `json:"ipv4_address"`
	Port        int        `json:"port"`
	Role        NodeRole   `json:"role"`
	Status      NodeStatus `json:"status"`
	LastPing    time.Time  `json:"last_ping"`
}

// BaseURL returns the node's HTTP endpoint
func (n Node) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.IPv4Address, n.Port)
}
