// Package executor provides a typed client for the task executor API. Like
// the node client, every call names the executor's base URL because the
// creator fans out to many executors.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/clients"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// Client represents a task executor API client
type Client struct {
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the executor client
type Config struct {
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new task executor API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	return &Client{
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// Offer reserves a subtask slot on the executor and returns whether it
// accepted
func (c *Client) Offer(ctx context.Context, baseURL, subtaskUID, creatorUID string) (bool, error) {
	req := executor.OfferRequest{CreatorUID: creatorUID, SubtaskUID: subtaskUID}
	var resp executor.OfferResponse
	if err := c.post(ctx, baseURL+"/subtask/offer", req, &resp); err != nil {
		return false, err
	}
	return resp.Verdict == executor.VerdictAccepted, nil
}

// Start supplies the resources and params for an offered subtask
func (c *Client) Start(ctx context.Context, baseURL string, req executor.StartRequest) (*models.ExecutorSubtask, error) {
	var resp executor.StartResponse
	if err := c.post(ctx, baseURL+"/subtask/start", req, &resp); err != nil {
		return nil, err
	}
	return resp.Subtask, nil
}

// Get fetches one subtask record from the executor
func (c *Client) Get(ctx context.Context, baseURL, subtaskUID string) (*models.ExecutorSubtask, error) {
	var resp executor.GetResponse
	if err := c.post(ctx, baseURL+"/subtask", executor.GetRequest{SubtaskUID: subtaskUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Subtask, nil
}

// List fetches all subtasks known to the executor
func (c *Client) List(ctx context.Context, baseURL string) ([]models.ExecutorSubtask, error) {
	var resp executor.ListResponse
	if err := c.post(ctx, baseURL+"/subtasks", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Subtasks, nil
}

// Result fetches the parsed output of a finished subtask
func (c *Client) Result(ctx context.Context, baseURL, subtaskUID string) (map[string]any, error) {
	var resp executor.ResultResponse
	if err := c.post(ctx, baseURL+"/subtask/result", executor.ResultRequest{SubtaskUID: subtaskUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
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
		return fmt.Errorf("failed to call task executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("task executor returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
