package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType represents the type of check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of one check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func newResult() Result {
	return Result{CheckedAt: time.Now()}
}

func (r Result) finish(healthy bool, format string, args ...any) Result {
	r.Healthy = healthy
	r.Message = fmt.Sprintf(format, args...)
	r.Duration = time.Since(r.CheckedAt)
	return r
}

func (r Result) ok(format string, args ...any) Result {
	return r.finish(true, format, args...)
}

func (r Result) fail(format string, args ...any) Result {
	return r.finish(false, format, args...)
}

// Checker checks one service
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls asset verification
type Config struct {
	// Timeout bounds each check
	Timeout time.Duration

	// Retries is the number of consecutive failed checks before a verified
	// capability is marked unverified
	Retries int

	// LabelingPath and TrainingPath are checked on the capability's endpoint
	LabelingPath string
	TrainingPath string
}

// DefaultConfig returns the default verification settings
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		Retries:      3,
		LabelingPath: "/system_stats",
		TrainingPath: "/api/v1/health",
	}
}

// Status tracks the check history of one asset capability
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result

	// Verified is the current verdict
	Verified bool
}

// NewStatus starts tracking from the stored verdict
func NewStatus(verified bool) *Status {
	return &Status{Verified: verified}
}

// Update folds a check result into the verdict. One success verifies; a
// verified capability needs Retries consecutive failures to lose it.
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Verified = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Verified = false
	}
}
