package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// LabelingClient drives a ComfyUI-style captioning service:
//
//	POST /prompt        {"prompt": ..., "client_id": ...} -> {"prompt_id": ...}
//	GET  /history/{id}  {} while queued or running, then {id: {status, outputs}}
//	POST /interrupt     stops the running prompt
type LabelingClient struct {
	*httpClient
	clientID string
}

// NewLabelingClient creates a labeling client
func NewLabelingClient(opts Options) *LabelingClient {
	return &LabelingClient{
		httpClient: newHTTPClient(opts),
		clientID:   uuid.New().String(),
	}
}

type promptRequest struct {
	Prompt   any    `json:"prompt"`
	ClientID string `json:"client_id"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

func (c *LabelingClient) Submit(ctx context.Context, endpoint string, payload any) (string, error) {
	var resp promptResponse
	err := c.do(ctx, c.opts.SubmitTimeout, http.MethodPost, joinURL(endpoint, "/prompt"),
		promptRequest{Prompt: payload, ClientID: c.clientID}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("labeling service rejected prompt: %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", ErrNoJobID
	}
	return resp.PromptID, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]any `json:"outputs"`
}

func (c *LabelingClient) Poll(ctx context.Context, endpoint, jobID string) (*PollResult, error) {
	var history map[string]historyEntry
	err := c.do(ctx, c.opts.PollTimeout, http.MethodGet,
		joinURL(endpoint, "/history/"+url.PathEscape(jobID)), nil, &history)
	if err != nil {
		return nil, err
	}

	entry, ok := history[jobID]
	if !ok {
		return &PollResult{Progress: -1}, nil
	}

	switch strings.ToLower(entry.Status.StatusStr) {
	case "success":
		return &PollResult{Terminal: true, Success: true, Progress: 100, Outputs: entry.Outputs}, nil
	case "error":
		return &PollResult{
			Terminal: true,
			Progress: -1,
			Detail:   errorDetail(entry.Status.Messages),
			Outputs:  entry.Outputs,
		}, nil
	}
	if entry.Status.Completed {
		return &PollResult{Terminal: true, Success: true, Progress: 100, Outputs: entry.Outputs}, nil
	}
	return &PollResult{Progress: -1}, nil
}

func (c *LabelingClient) Cancel(ctx context.Context, endpoint, jobID string) (bool, error) {
	err := c.do(ctx, c.opts.CancelTimeout, http.MethodPost, joinURL(endpoint, "/interrupt"),
		map[string]string{"prompt_id": jobID}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// errorDetail extracts the execution_error message from a history entry
func errorDetail(messages []any) string {
	for _, m := range messages {
		pair, ok := m.([]any)
		if !ok || len(pair) != 2 || pair[0] != "execution_error" {
			continue
		}
		if body, ok := pair[1].(map[string]any); ok {
			if msg, ok := body["exception_message"].(string); ok && msg != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	return "labeling job failed"
}
