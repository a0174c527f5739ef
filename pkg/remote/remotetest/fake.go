// Package remotetest provides a scripted in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/types"
)

// Step is one scripted Poll outcome
type Step struct {
	Result *remote.PollResult
	Err    error
	Panic  any
}

// Running reports a non-terminal poll with the given progress
func Running(progress int) Step {
	return Step{Result: &remote.PollResult{Progress: progress}}
}

// Succeeded reports a terminal success
func Succeeded() Step {
	return Step{Result: &remote.PollResult{Terminal: true, Success: true, Progress: 100}}
}

// Failed reports a terminal failure with detail
func Failed(detail string) Step {
	return Step{Result: &remote.PollResult{Terminal: true, Progress: -1, Detail: detail}}
}

// PollError makes Poll return an error
func PollError(msg string) Step {
	return Step{Err: errors.New(msg)}
}

// PollPanic makes Poll panic with v
func PollPanic(v any) Step {
	return Step{Panic: v}
}

// Submission records one Submit call
type Submission struct {
	Endpoint string
	Payload  any
	JobID    string
}

// Client is a scripted remote.Client and remote.LossReporter
type Client struct {
	mu sync.Mutex

	// SubmitErr, when set, fails every Submit
	SubmitErr error
	// EmptyJobID makes Submit return ErrNoJobID
	EmptyJobID bool
	// SubmitPanic, when set, makes Submit panic with it
	SubmitPanic any
	// Default is used for jobs without a script; nil means Running(50)
	Default    *Step
	LossPoints []types.LossPoint

	prefix      string
	seq         int
	scripts     map[string][]Step
	submissions []Submission
	polls       map[string]int
	cancelled   []string
}

// New creates a fake whose job ids are prefix-1, prefix-2, ...
func New(prefix string) *Client {
	return &Client{
		prefix:  prefix,
		scripts: make(map[string][]Step),
		polls:   make(map[string]int),
	}
}

// Script sets the Poll outcomes for a job; the last step repeats
func (c *Client) Script(jobID string, steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[jobID] = steps
}

// NextJobID returns the id the next successful Submit will hand out
func (c *Client) NextJobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s-%d", c.prefix, c.seq+1)
}

func (c *Client) Submit(_ context.Context, endpoint string, payload any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitPanic != nil {
		panic(c.SubmitPanic)
	}
	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}
	if c.EmptyJobID {
		return "", remote.ErrNoJobID
	}
	c.seq++
	id := fmt.Sprintf("%s-%d", c.prefix, c.seq)
	c.submissions = append(c.submissions, Submission{Endpoint: endpoint, Payload: payload, JobID: id})
	return id, nil
}

func (c *Client) Poll(ctx context.Context, _ string, jobID string) (*remote.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.polls[jobID]
	c.polls[jobID] = n + 1

	steps, ok := c.scripts[jobID]
	var step Step
	switch {
	case ok && len(steps) > 0:
		if n >= len(steps) {
			n = len(steps) - 1
		}
		step = steps[n]
	case c.Default != nil:
		step = *c.Default
	default:
		step = Running(50)
	}

	if step.Panic != nil {
		panic(step.Panic)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	res := *step.Result
	return &res, nil
}

func (c *Client) Cancel(_ context.Context, _ string, jobID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, jobID)
	return true, nil
}

func (c *Client) Loss(context.Context, string, string) ([]types.LossPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LossPoints, nil
}

// Submissions returns the recorded Submit calls
func (c *Client) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

// Polls returns how many times jobID was polled
func (c *Client) Polls(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls[jobID]
}

// Cancelled returns the job ids passed to Cancel
func (c *Client) Cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cancelled...)
}
