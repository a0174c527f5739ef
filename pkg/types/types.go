package types

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle stage of a task
type TaskStatus string

const (
	TaskStatusNew       TaskStatus = "new"
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusMarking   TaskStatus = "marking"
	TaskStatusMarked    TaskStatus = "marked"
	TaskStatusTraining  TaskStatus = "training"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusError     TaskStatus = "error"
)

// taskStatusOrder is the forward lifecycle ordering. Error sorts last so that
// rolling back to any earlier stage discards it.
var taskStatusOrder = map[TaskStatus]int{
	TaskStatusNew:       0,
	TaskStatusSubmitted: 1,
	TaskStatusMarking:   2,
	TaskStatusMarked:    3,
	TaskStatusTraining:  4,
	TaskStatusCompleted: 5,
	TaskStatusError:     6,
}

// AllTaskStatuses lists every status in forward order
var AllTaskStatuses = []TaskStatus{
	TaskStatusNew,
	TaskStatusSubmitted,
	TaskStatusMarking,
	TaskStatusMarked,
	TaskStatusTraining,
	TaskStatusCompleted,
	TaskStatusError,
}

// Order returns the position of the status in the forward lifecycle, or -1
func (s TaskStatus) Order() int {
	if o, ok := taskStatusOrder[s]; ok {
		return o
	}
	return -1
}

// Valid reports whether s is a known status
func (s TaskStatus) Valid() bool {
	return s.Order() >= 0
}

// Before reports whether s comes strictly before other in the lifecycle
func (s TaskStatus) Before(other TaskStatus) bool {
	return s.Order() < other.Order()
}

// InFlight reports whether a remote job is expected to be running in this status
func (s TaskStatus) InFlight() bool {
	return s == TaskStatusMarking || s == TaskStatusTraining
}

// ParseTaskStatus converts a string to a TaskStatus
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown task status: %q", s)
	}
	return st, nil
}

// Capability is a service an asset can offer
type Capability string

const (
	CapabilityLabeling Capability = "labeling"
	CapabilityTraining Capability = "training"
)

// Capabilities lists both capabilities in pipeline order
var Capabilities = []Capability{CapabilityLabeling, CapabilityTraining}

// PendingStatus is the status a task waits in before this stage is dispatched
func (c Capability) PendingStatus() TaskStatus {
	if c == CapabilityTraining {
		return TaskStatusMarked
	}
	return TaskStatusSubmitted
}

// InFlightStatus is the status a task holds while this stage runs remotely
func (c Capability) InFlightStatus() TaskStatus {
	if c == CapabilityTraining {
		return TaskStatusTraining
	}
	return TaskStatusMarking
}

// DoneStatus is the status a task advances to when this stage succeeds
func (c Capability) DoneStatus() TaskStatus {
	if c == CapabilityTraining {
		return TaskStatusCompleted
	}
	return TaskStatusMarked
}

// CapabilityForStatus returns the capability whose in-flight status is s
func CapabilityForStatus(s TaskStatus) (Capability, bool) {
	switch s {
	case TaskStatusMarking:
		return CapabilityLabeling, true
	case TaskStatusTraining:
		return CapabilityTraining, true
	}
	return "", false
}

// ParseCapability converts a string to a Capability
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapabilityLabeling, CapabilityTraining:
		return Capability(s), nil
	}
	return "", fmt.Errorf("unknown capability: %q", s)
}

// Task is one image set moving through the marking and training pipeline
type Task struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`

	// Images are file names inside the task's input directory
	Images []string `json:"images"`

	MarkingAssetID  *int64 `json:"marking_asset_id,omitempty"`
	TrainingAssetID *int64 `json:"training_asset_id,omitempty"`

	ExternalJobID string     `json:"prompt_id,omitempty"`
	JobCapability Capability `json:"job_capability,omitempty"`

	MarkConfig     MarkConfig     `json:"mark_config"`
	TrainingConfig TrainingConfig `json:"training_config"`

	History StatusHistory `json:"status_history"`

	MarkedImagesPath   string `json:"marked_images_path,omitempty"`
	TrainingOutputPath string `json:"training_output_path,omitempty"`
	ExecutionHistoryID *int64 `json:"execution_history_id,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AssetID returns the reserved asset for the given stage, if any
func (t *Task) AssetID(c Capability) *int64 {
	if c == CapabilityTraining {
		return t.TrainingAssetID
	}
	return t.MarkingAssetID
}

// SetAssetID sets or clears the reserved asset for the given stage
func (t *Task) SetAssetID(c Capability, id *int64) {
	if c == CapabilityTraining {
		t.TrainingAssetID = id
		return
	}
	t.MarkingAssetID = id
}

// OutputPath returns the current output location of the given stage
func (t *Task) OutputPath(c Capability) string {
	if c == CapabilityTraining {
		return t.TrainingOutputPath
	}
	return t.MarkedImagesPath
}

// Transition moves the task to status, recording the stage change in its history
func (t *Task) Transition(status TaskStatus, at time.Time) {
	t.Status = status
	t.History.Enter(status, at)
	t.UpdatedAt = at
}

// CapabilityBlock describes one service offered by an asset
type CapabilityBlock struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Port       int        `json:"port" yaml:"port"`
	Scheme     string     `json:"scheme,omitempty" yaml:"scheme"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// SSHConfig holds connection parameters used for file transfer to the asset
type SSHConfig struct {
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	// Password holds the sealed (encrypted) password; see Asset.Redacted
	Password []byte `json:"password,omitempty" yaml:"-"`
}

// Asset is a remote compute node offering labeling and/or training
type Asset struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Address            string          `json:"address"`
	SSH                SSHConfig       `json:"ssh"`
	Labeling           CapabilityBlock `json:"labeling"`
	Training           CapabilityBlock `json:"training"`
	MaxConcurrentTasks int             `json:"max_concurrent_tasks"`
	MarkingTasksCount  int             `json:"marking_tasks_count"`
	TrainingTasksCount int             `json:"training_tasks_count"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Redacted returns a copy without the sealed SSH password, for output
func (a *Asset) Redacted() *Asset {
	out := *a
	out.SSH.Password = nil
	return &out
}

// Block returns the capability block for c
func (a *Asset) Block(c Capability) *CapabilityBlock {
	if c == CapabilityTraining {
		return &a.Training
	}
	return &a.Labeling
}

// Count returns the current reservation count for c
func (a *Asset) Count(c Capability) int {
	if c == CapabilityTraining {
		return a.TrainingTasksCount
	}
	return a.MarkingTasksCount
}

// SetCount sets the reservation count for c
func (a *Asset) SetCount(c Capability, n int) {
	if c == CapabilityTraining {
		a.TrainingTasksCount = n
		return
	}
	a.MarkingTasksCount = n
}

// HasCapacity reports whether c is enabled and below the concurrency cap
func (a *Asset) HasCapacity(c Capability) bool {
	return a.Block(c).Enabled && a.Count(c) < a.MaxConcurrentTasks
}

// Endpoint returns the base URL of the capability's service
func (a *Asset) Endpoint(c Capability) string {
	b := a.Block(c)
	scheme := b.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if b.Port == 0 {
		return fmt.Sprintf("%s://%s", scheme, a.Address)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, a.Address, b.Port)
}

// ExecutionStatus is the outcome of a training attempt
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// LossPoint is one sample of a training loss curve
type LossPoint struct {
	Step  int     `json:"step"`
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// ExecutionHistory records one training attempt. It is append-only; rollback
// only moves the task's pointer.
type ExecutionHistory struct {
	ID             int64           `json:"id"`
	TaskID         int64           `json:"task_id"`
	Attempt        int             `json:"attempt"`
	AssetID        int64           `json:"asset_id"`
	ExternalJobID  string          `json:"job_id,omitempty"`
	ConfigSnapshot TrainingConfig  `json:"config_snapshot"`
	OutputPath     string          `json:"output_path"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Loss           []LossPoint     `json:"loss,omitempty"`
	Results        map[string]any  `json:"results,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}
