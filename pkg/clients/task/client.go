// Package task provides a typed client for the task controller API.
package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/pkg/api/task"
	"github.com/gridmesh/gridmesh/pkg/clients"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// Client represents a task controller API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the task client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new task controller API client
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

// Create submits a new task and returns the minted uid
func (c *Client) Create(ctx context.Context, req task.CreateRequest) (string, error) {
	var resp task.CreateResponse
	if err := c.post(ctx, "/task/create", req, &resp); err != nil {
		return "", err
	}
	return resp.TaskUID, nil
}

// Get fetches one task with its subtasks
func (c *Client) Get(ctx context.Context, taskUID string) (*models.Task, error) {
	var resp task.GetResponse
	if err := c.post(ctx, "/task", task.GetRequest{TaskUID: taskUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// List fetches all tasks
func (c *Client) List(ctx context.Context) ([]models.Task, error) {
	var resp task.ListResponse
	if err := c.post(ctx, "/tasks", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Result fetches the reduced result of a finished task
func (c *Client) Result(ctx context.Context, taskUID string) (map[string]any, error) {
	var resp task.ResultResponse
	if err := c.post(ctx, "/task/result", task.ResultRequest{TaskUID: taskUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Subtask fetches one creator-side subtask record
func (c *Client) Subtask(ctx context.Context, subtaskUID string) (*models.Subtask, error) {
	var resp task.SubtaskResponse
	if err := c.post(ctx, "/task/subtask", task.SubtaskRequest{SubtaskUID: subtaskUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Subtask, nil
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
		return fmt.Errorf("failed to call task controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("task controller returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
