// Package environment provides a typed client for the environment
// controller API, which always runs on the same host as its caller.
package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/pkg/api/environment"
	"github.com/gridmesh/gridmesh/pkg/clients"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// Client represents an environment controller API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the environment client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new environment controller API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	return &Client{
		baseURL:     config.BaseURL,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// PushImage asks for a build+push and returns the deterministic tag
func (c *Client) PushImage(ctx context.Context, taskType models.TaskType, subtaskType models.SubtaskType) (string, models.ImageStatus, error) {
	req := environment.ImagePushRequest{TaskType: taskType, SubtaskType: subtaskType}
	var resp environment.ImagePushResponse
	if err := c.post(ctx, "/image/push", req, &resp); err != nil {
		return "", "", err
	}
	return resp.ImageTag, resp.PushingStatus, nil
}

// PushImageStatus polls a push
func (c *Client) PushImageStatus(ctx context.Context, imageTag string) (models.ImageStatus, error) {
	var resp environment.ImagePushStatusResponse
	if err := c.post(ctx, "/image/push/status", environment.ImagePushStatusRequest{ImageTag: imageTag}, &resp); err != nil {
		return "", err
	}
	return resp.PushingStatus, nil
}

// PullImage asks for a pull of a published image
func (c *Client) PullImage(ctx context.Context, imageTag string) (models.ImageStatus, error) {
	var resp environment.ImagePullResponse
	if err := c.post(ctx, "/image/pull", environment.ImagePullRequest{ImageTag: imageTag}, &resp); err != nil {
		return "", err
	}
	return resp.PullingStatus, nil
}

// PullImageStatus polls a pull
func (c *Client) PullImageStatus(ctx context.Context, imageTag string) (models.ImageStatus, error) {
	var resp environment.ImagePullStatusResponse
	if err := c.post(ctx, "/image/pull/status", environment.ImagePullStatusRequest{ImageTag: imageTag}, &resp); err != nil {
		return "", err
	}
	return resp.PullingStatus, nil
}

// RunContainer starts a subtask container over the given input files
func (c *Client) RunContainer(ctx context.Context, subtaskUID, imageTag string, inputFiles []string) (models.ContainerStatus, error) {
	req := environment.ContainerRunRequest{
		ImageTag:   imageTag,
		SubtaskUID: subtaskUID,
		InputFiles: inputFiles,
	}
	var resp environment.ContainerRunResponse
	if err := c.post(ctx, "/container/run", req, &resp); err != nil {
		return "", err
	}
	return resp.RunningStatus, nil
}

// ContainerStatus polls a container run
func (c *Client) ContainerStatus(ctx context.Context, subtaskUID string) (models.ContainerStatus, error) {
	var resp environment.ContainerStatusResponse
	if err := c.post(ctx, "/container/status", environment.ContainerStatusRequest{SubtaskUID: subtaskUID}, &resp); err != nil {
		return "", err
	}
	return resp.RunningStatus, nil
}

// ContainerResult returns the path of the result file of a finished run
func (c *Client) ContainerResult(ctx context.Context, subtaskUID string) (string, error) {
	var resp environment.ContainerResultResponse
	if err := c.post(ctx, "/container/result", environment.ContainerResultRequest{SubtaskUID: subtaskUID}, &resp); err != nil {
		return "", err
	}
	return resp.ResultFile, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to call environment controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("environment controller returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
