// Package node provides a typed client for the node controller API. The
// fabric talks to many peers, so every call takes the peer's base URL
// explicitly instead of pinning one per client.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/node"
	"github.com/gridmesh/gridmesh/pkg/clients"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// ProbeTimeout bounds every liveness-sensitive call. A peer that cannot
// answer within it is treated as inactive.
const ProbeTimeout = 3 * time.Second

// Client represents a node controller API client
type Client struct {
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the node client
type Config struct {
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new node controller API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = ProbeTimeout
	}

	retryConfig := clients.NoRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	return &Client{
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// Ping probes a peer. Any failure, including a timeout, reads as inactive.
func (c *Client) Ping(ctx context.Context, baseURL string) models.NodeStatus {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/ping", nil)
	if err != nil {
		return models.NodeStatusInactive
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return models.NodeStatusInactive
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.NodeStatusInactive
	}
	return models.NodeStatusActive
}

// Handshake introduces self to the registry at baseURL and returns the
// registry's own identity as an active node.
func (c *Client) Handshake(ctx context.Context, baseURL string, self models.Node) (*models.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req := node.HandshakeRequest{
		NodeUID: self.NodeUID,
		IP:      self.IPv4Address,
		Port:    self.Port,
		Role:    self.Role,
	}
	var resp node.HandshakeResponse
	if err := c.post(ctx, baseURL+"/nodes/handshake", req, &resp); err != nil {
		return nil, err
	}

	return &models.Node{
		NodeUID:     resp.NodeUID,
		IPv4Address: resp.IP,
		Port:        resp.Port,
		Role:        resp.Role,
		Status:      models.NodeStatusActive,
		LastPing:    time.Now().UTC(),
	}, nil
}

// Exchange sends the caller's fabric view and returns the peer's merged one
func (c *Client) Exchange(ctx context.Context, baseURL string, nodes []models.Node) ([]models.Node, error) {
	if nodes == nil {
		nodes = []models.Node{}
	}
	var resp node.ExchangeResponse
	if err := c.post(ctx, baseURL+"/nodes/exchange", node.ExchangeRequest{Nodes: nodes}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// ActiveNodes lists the nodes the peer currently sees as active
func (c *Client) ActiveNodes(ctx context.Context, baseURL string) ([]models.Node, error) {
	var resp node.ActiveNodesResponse
	if err := c.post(ctx, baseURL+"/nodes/active", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Join registers an endpoint at the peer and returns the uid it minted
func (c *Client) Join(ctx context.Context, baseURL, ip string, port int, role models.NodeRole) (string, error) {
	var resp node.JoinResponse
	if err := c.post(ctx, baseURL+"/nodes/join", node.JoinRequest{IP: ip, Port: port, Role: role}, &resp); err != nil {
		return "", err
	}
	return resp.NodeUID, nil
}

// Leave removes a node from the peer's registry
func (c *Client) Leave(ctx context.Context, baseURL, nodeUID string) error {
	var resp node.LeaveResponse
	if err := c.post(ctx, baseURL+"/nodes/leave", node.LeaveRequest{NodeUID: nodeUID}, &resp); err != nil {
		return err
	}
	if resp.Status != common.StatusSuccess {
		return fmt.Errorf("leave rejected: %s", resp.Message)
	}
	return nil
}

// Enable marks self active at the peer. Bounded like a probe so a dead
// registry does not stall bootstrap.
func (c *Client) Enable(ctx context.Context, baseURL, nodeUID, ip string, port int) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	var resp node.EnableResponse
	if err := c.post(ctx, baseURL+"/nodes/enable", node.EnableRequest{NodeUID: nodeUID, IP: ip, Port: port}, &resp); err != nil {
		return err
	}
	if resp.Status != common.StatusSuccess {
		return fmt.Errorf("enable rejected: %s", resp.Message)
	}
	return nil
}

// Disable marks a node inactive at the peer
func (c *Client) Disable(ctx context.Context, baseURL, nodeUID string) error {
	var resp node.DisableResponse
	if err := c.post(ctx, baseURL+"/nodes/disable", node.DisableRequest{NodeUID: nodeUID}, &resp); err != nil {
		return err
	}
	if resp.Status != common.StatusSuccess {
		return fmt.Errorf("disable rejected: %s", resp.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to call node controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("node controller returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
