// Package data provides a typed client for the data controller API, which
// always runs on the same host as its caller.
package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridmesh/gridmesh/pkg/api/data"
	"github.com/gridmesh/gridmesh/pkg/clients"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// Client represents a data controller API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the data client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new data controller API client
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

// Publish asks the controller to seed the file tree at path and returns the
// minted dataset uid
func (c *Client) Publish(ctx context.Context, path string) (string, error) {
	var resp data.PublishResponse
	if err := c.post(ctx, "/data/publish", data.PublishRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.DatasetUID, nil
}

// Download asks the controller to leech the dataset behind magnetLink
func (c *Client) Download(ctx context.Context, datasetUID, magnetLink string) error {
	req := data.DownloadRequest{DatasetUID: datasetUID, MagnetLink: magnetLink}
	var resp data.DownloadResponse
	return c.post(ctx, "/data/download", req, &resp)
}

// Get fetches one dataset record
func (c *Client) Get(ctx context.Context, datasetUID string) (*models.Dataset, error) {
	var resp data.GetResponse
	if err := c.post(ctx, "/data", data.GetRequest{DatasetUID: datasetUID}, &resp); err != nil {
		return nil, err
	}
	return resp.Dataset, nil
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
		return fmt.Errorf("failed to call data controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("data controller returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
