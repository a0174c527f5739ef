package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/trainyard/pkg/types"
)

// TrainingClient drives the training service REST API:
//
//	POST /api/v1/jobs              -> {"job_id": ...}
//	GET  /api/v1/jobs/{id}         -> {"status", "progress", "error", "outputs"}
//	POST /api/v1/jobs/{id}/cancel  -> {"cancelled": bool}
//	GET  /api/v1/jobs/{id}/loss    -> {"points": [{step, epoch, loss}]}
type TrainingClient struct {
	*httpClient
}

// NewTrainingClient creates a training client
func NewTrainingClient(opts Options) *TrainingClient {
	return &TrainingClient{httpClient: newHTTPClient(opts)}
}

func jobURL(endpoint, jobID, suffix string) string {
	return joinURL(endpoint, "/api/v1/jobs/"+url.PathEscape(jobID)+suffix)
}

func (c *TrainingClient) Submit(ctx context.Context, endpoint string, payload any) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, c.opts.SubmitTimeout, http.MethodPost, joinURL(endpoint, "/api/v1/jobs"), payload, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", ErrNoJobID
	}
	return resp.JobID, nil
}

type jobStatus struct {
	Status   string         `json:"status"`
	Progress *float64       `json:"progress"`
	Error    string         `json:"error"`
	Outputs  map[string]any `json:"outputs"`
}

func (c *TrainingClient) Poll(ctx context.Context, endpoint, jobID string) (*PollResult, error) {
	var st jobStatus
	if err := c.do(ctx, c.opts.PollTimeout, http.MethodGet, jobURL(endpoint, jobID, ""), nil, &st); err != nil {
		return nil, err
	}

	res := &PollResult{Progress: -1, Outputs: st.Outputs}
	if st.Progress != nil {
		res.Progress = clampProgress(*st.Progress)
	}

	switch strings.ToLower(st.Status) {
	case "completed", "succeeded", "success":
		res.Terminal, res.Success, res.Progress = true, true, 100
	case "failed", "error":
		res.Terminal = true
		res.Detail = st.Error
		if res.Detail == "" {
			res.Detail = "training job failed"
		}
	case "cancelled", "canceled":
		res.Terminal = true
		res.Detail = "training job was cancelled"
	}
	return res, nil
}

func (c *TrainingClient) Cancel(ctx context.Context, endpoint, jobID string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(ctx, c.opts.CancelTimeout, http.MethodPost, jobURL(endpoint, jobID, "/cancel"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

func (c *TrainingClient) Loss(ctx context.Context, endpoint, jobID string) ([]types.LossPoint, error) {
	var resp struct {
		Points []types.LossPoint `json:"points"`
	}
	if err := c.do(ctx, c.opts.PollTimeout, http.MethodGet, jobURL(endpoint, jobID, "/loss"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}

func clampProgress(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}
