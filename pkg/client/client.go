package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/types"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the trainyard HTTP API for CLI usage
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the server at addr (host:port or URL)
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{},
		timeout: 30 * time.Second,
	}
}

// ListTasks returns tasks, optionally filtered by status
func (c *Client) ListTasks(statuses ...types.TaskStatus) ([]*types.Task, error) {
	path := "/api/tasks"
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		path += "?status=" + strings.Join(parts, ",")
	}
	var tasks []*types.Task
	return tasks, c.do(http.MethodGet, path, nil, &tasks)
}

// CreateTask creates a task
func (c *Client) CreateTask(spec manager.TaskSpec) (*types.Task, error) {
	var task types.Task
	return &task, c.do(http.MethodPost, "/api/tasks", spec, &task)
}

// GetTask returns a task
func (c *Client) GetTask(id int64) (*types.Task, error) {
	var task types.Task
	return &task, c.do(http.MethodGet, taskPath(id, ""), nil, &task)
}

// DeleteTask removes a task
func (c *Client) DeleteTask(id int64) error {
	return c.do(http.MethodDelete, taskPath(id, ""), nil, nil)
}

// SubmitTask queues a task for marking
func (c *Client) SubmitTask(id int64) (*types.Task, error) {
	var task types.Task
	return &task, c.do(http.MethodPost, taskPath(id, "/submit"), nil, &task)
}

// StopTask stops a queued or running task
func (c *Client) StopTask(id int64) (*types.Task, error) {
	var task types.Task
	return &task, c.do(http.MethodPost, taskPath(id, "/stop"), nil, &task)
}

// RestartTask runs a stage again
func (c *Client) RestartTask(id int64, stage types.Capability) (*types.Task, error) {
	var task types.Task
	body := map[string]string{"stage": string(stage)}
	return &task, c.do(http.MethodPost, taskPath(id, "/restart"), body, &task)
}

// RollbackTask moves a task back to target
func (c *Client) RollbackTask(id int64, target types.TaskStatus) (*types.Task, error) {
	var task types.Task
	body := map[string]string{"target": string(target)}
	return &task, c.do(http.MethodPost, taskPath(id, "/rollback"), body, &task)
}

// ListExecutions returns the training attempts of a task
func (c *Client) ListExecutions(id int64) ([]*types.ExecutionHistory, error) {
	var execs []*types.ExecutionHistory
	return execs, c.do(http.MethodGet, taskPath(id, "/executions"), nil, &execs)
}

// UploadImages sends local files as task input images
func (c *Client) UploadImages(id int64, paths ...string) (*types.Task, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFile(mw, p); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+taskPath(id, "/images"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var task types.Task
	return &task, c.send(req, &task)
}

// ListAssets returns all assets
func (c *Client) ListAssets() ([]*types.Asset, error) {
	var assets []*types.Asset
	return assets, c.do(http.MethodGet, "/api/assets", nil, &assets)
}

// CreateAsset registers an asset
func (c *Client) CreateAsset(spec manager.AssetSpec) (*types.Asset, error) {
	var asset types.Asset
	return &asset, c.do(http.MethodPost, "/api/assets", spec, &asset)
}

// UpdateAsset replaces an asset's configuration
func (c *Client) UpdateAsset(id int64, spec manager.AssetSpec) (*types.Asset, error) {
	var asset types.Asset
	return &asset, c.do(http.MethodPut, fmt.Sprintf("/api/assets/%d", id), spec, &asset)
}

// DeleteAsset removes an asset
func (c *Client) DeleteAsset(id int64) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/api/assets/%d", id), nil, nil)
}

// VerifyAsset checks an asset's services
func (c *Client) VerifyAsset(id int64) (*types.Asset, error) {
	var asset types.Asset
	return &asset, c.do(http.MethodPost, fmt.Sprintf("/api/assets/%d/verify", id), nil, &asset)
}

// ApplyAsset creates the asset or updates the one with the same name
func (c *Client) ApplyAsset(spec manager.AssetSpec) (*types.Asset, bool, error) {
	assets, err := c.ListAssets()
	if err != nil {
		return nil, false, err
	}
	for _, a := range assets {
		if strings.EqualFold(a.Name, spec.Name) {
			updated, err := c.UpdateAsset(a.ID, spec)
			return updated, false, err
		}
	}
	created, err := c.CreateAsset(spec)
	return created, true, err
}

func taskPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/tasks/%d%s", id, suffix)
}

func addFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, f)
	return err
}

func (c *Client) do(method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
