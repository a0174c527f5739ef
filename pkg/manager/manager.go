package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/health"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/rollback"
	"github.com/cuemby/trainyard/pkg/security"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
	"github.com/rs/zerolog"
)

var (
	// ErrValidation is returned for malformed input; nothing is modified
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when the operation is not allowed in the
	// record's current state; nothing is modified
	ErrConflict = errors.New("conflict")
)

// Deps are the components a Manager works with
type Deps struct {
	Store     storage.Store
	Tasks     *taskstore.Store
	Workspace *workspace.Workspace
	Rollback  *rollback.Rollbacker
	// Verifier and Sealer may be nil
	Verifier *health.Verifier
	Sealer   *security.Sealer
	Events   events.Publisher
}

// Manager implements the user-facing task and asset operations
type Manager struct {
	store     storage.Store
	tasks     *taskstore.Store
	workspace *workspace.Workspace
	rollback  *rollback.Rollbacker
	verifier  *health.Verifier
	sealer    *security.Sealer
	events    events.Publisher
	kick      func(types.Capability)
	logger    zerolog.Logger
}

// NewManager creates a manager
func NewManager(d Deps) *Manager {
	pub := d.Events
	if pub == nil {
		pub = events.Discard
	}
	return &Manager{
		store:     d.Store,
		tasks:     d.Tasks,
		workspace: d.Workspace,
		rollback:  d.Rollback,
		verifier:  d.Verifier,
		sealer:    d.Sealer,
		events:    pub,
		kick:      func(types.Capability) {},
		logger:    log.WithComponent("manager"),
	}
}

// SetKicker registers the function used to wake a scheduler loop early
func (m *Manager) SetKicker(fn func(types.Capability)) {
	if fn != nil {
		m.kick = fn
	}
}

// TaskSpec holds the user-settable fields of a new task
type TaskSpec struct {
	Name           string               `json:"name" yaml:"name"`
	Description    string               `json:"description" yaml:"description"`
	MarkConfig     types.MarkConfig     `json:"mark_config" yaml:"mark_config"`
	TrainingConfig types.TrainingConfig `json:"training_config" yaml:"training_config"`
}

// CreateTask creates a task in status new
func (m *Manager) CreateTask(spec TaskSpec) (*types.Task, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: task name is required", ErrValidation)
	}

	now := m.tasks.Now()
	task := &types.Task{
		Name:           name,
		Description:    spec.Description,
		Status:         types.TaskStatusNew,
		Images:         []string{},
		MarkConfig:     spec.MarkConfig.WithDefaults(),
		TrainingConfig: spec.TrainingConfig.WithDefaults(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	task.History.Enter(types.TaskStatusNew, now)
	task.History.Append(types.LogInfo, "Task created", now)

	if err := m.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if _, err := m.workspace.InputDir(task.ID); err != nil {
		return nil, err
	}

	m.logger.Info().Int64("task_id", task.ID).Str("name", task.Name).Msg("Task created")
	m.events.Publish(&events.Event{Type: events.EventTaskCreated, TaskID: task.ID, Message: task.Name})
	return task, nil
}

// GetTask returns a task
func (m *Manager) GetTask(id int64) (*types.Task, error) {
	return m.tasks.Get(id)
}

// ListTasks returns all tasks, oldest first
func (m *Manager) ListTasks() ([]*types.Task, error) {
	return m.tasks.List()
}

// ListTasksByStatus returns the tasks in any of the statuses, oldest first
func (m *Manager) ListTasksByStatus(statuses ...types.TaskStatus) ([]*types.Task, error) {
	return m.store.ListTasksByStatus(statuses...)
}

// ListExecutions returns the training attempts of a task
func (m *Manager) ListExecutions(taskID int64) ([]*types.ExecutionHistory, error) {
	if _, err := m.tasks.Get(taskID); err != nil {
		return nil, err
	}
	return m.store.ListExecutionsByTask(taskID)
}

// UploadImage stores an input image for a task that has not been submitted
func (m *Manager) UploadImage(taskID int64, name string, r io.Reader) (*types.Task, error) {
	task, err := m.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskStatusNew {
		return nil, fmt.Errorf("%w: images can only be added to new tasks, task is %s", ErrConflict, task.Status)
	}

	saved, err := m.workspace.SaveImage(taskID, name, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var updated *types.Task
	err = m.tasks.WithLock(taskID, func(_ storage.Tx, task *types.Task) error {
		if task.Status != types.TaskStatusNew {
			return fmt.Errorf("%w: task is %s", ErrConflict, task.Status)
		}
		if !slices.Contains(task.Images, saved) {
			task.Images = append(task.Images, saved)
		}
		updated = task
		return nil
	})
	return updated, err
}

// SubmitTask queues a new task for marking
func (m *Manager) SubmitTask(taskID int64) (*types.Task, error) {
	var updated *types.Task
	err := m.tasks.WithLock(taskID, func(_ storage.Tx, task *types.Task) error {
		if task.Status != types.TaskStatusNew {
			return fmt.Errorf("%w: only new tasks can be submitted, task is %s", ErrConflict, task.Status)
		}
		if len(task.Images) == 0 {
			return fmt.Errorf("%w: task has no images", ErrValidation)
		}
		now := m.tasks.Now()
		task.Transition(types.TaskStatusSubmitted, now)
		task.History.Append(types.LogInfo, fmt.Sprintf("Submitted with %d images", len(task.Images)), now)
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.kick(types.CapabilityLabeling)
	return updated, nil
}

// stopTargets maps the statuses a task can be stopped from to where it goes
var stopTargets = map[types.TaskStatus]types.TaskStatus{
	types.TaskStatusSubmitted: types.TaskStatusNew,
	types.TaskStatusMarking:   types.TaskStatusNew,
	types.TaskStatusTraining:  types.TaskStatusMarked,
}

// StopTask cancels the task's current stage and moves it back: a queued or
// marking task returns to new, a training task returns to marked
func (m *Manager) StopTask(ctx context.Context, taskID int64) (*types.Task, error) {
	task, err := m.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	target, ok := stopTargets[task.Status]
	if !ok {
		return nil, fmt.Errorf("%w: a %s task cannot be stopped", ErrConflict, task.Status)
	}

	opts := rollback.DefaultOptions()
	opts.Reason = "stopped by user"
	return m.rollback.Rollback(ctx, taskID, target, opts)
}

// RestartTask runs a stage again. Restarting labeling resets the task to new
// and submits it; restarting training returns it to marked, keeping the
// marked images.
func (m *Manager) RestartTask(ctx context.Context, taskID int64, stage types.Capability) (*types.Task, error) {
	task, err := m.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	opts := rollback.DefaultOptions()
	opts.Reason = fmt.Sprintf("%s restarted by user", stage)

	switch stage {
	case types.CapabilityLabeling:
		if task.Status != types.TaskStatusNew {
			if _, err := m.rollback.Rollback(ctx, taskID, types.TaskStatusNew, opts); err != nil {
				return nil, err
			}
		}
		return m.SubmitTask(taskID)

	case types.CapabilityTraining:
		if task.MarkedImagesPath == "" || task.History.Get(types.TaskStatusMarked) == nil {
			return nil, fmt.Errorf("%w: task has not finished marking", ErrConflict)
		}
		updated, err := m.rollback.Rollback(ctx, taskID, types.TaskStatusMarked, opts)
		if err != nil {
			return nil, err
		}
		m.kick(types.CapabilityTraining)
		return updated, nil
	}
	return nil, fmt.Errorf("%w: unknown stage %q", ErrValidation, stage)
}

// RollbackTask moves the task back to target
func (m *Manager) RollbackTask(ctx context.Context, taskID int64, target types.TaskStatus) (*types.Task, error) {
	opts := rollback.DefaultOptions()
	opts.Reason = "requested by user"
	task, err := m.rollback.Rollback(ctx, taskID, target, opts)
	if err != nil {
		return nil, err
	}
	if c, ok := capabilityPendingAt(target); ok {
		m.kick(c)
	}
	return task, nil
}

// DeleteTask stops the task if it is running and removes it with its files
func (m *Manager) DeleteTask(ctx context.Context, taskID int64) error {
	task, err := m.tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status.InFlight() {
		if _, err := m.StopTask(ctx, taskID); err != nil {
			return fmt.Errorf("failed to stop task before delete: %w", err)
		}
	}

	// A tick may have reserved the task since it was read; the status is
	// checked again in the deleting transaction so no slot is orphaned
	err = m.store.Update(func(tx storage.Tx) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.Status.InFlight() {
			return fmt.Errorf("%w: task entered %s while being deleted", ErrConflict, task.Status)
		}
		for _, c := range types.Capabilities {
			if err := registry.ReleaseTask(tx, task, c); err != nil {
				return err
			}
		}
		return tx.DeleteTask(taskID)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if err := m.workspace.RemoveTask(taskID); err != nil {
		m.logger.Warn().Err(err).Int64("task_id", taskID).Msg("Task deleted but files remain")
	}

	m.logger.Info().Int64("task_id", taskID).Msg("Task deleted")
	m.events.Publish(&events.Event{Type: events.EventTaskDeleted, TaskID: taskID})
	return nil
}

func capabilityPendingAt(status types.TaskStatus) (types.Capability, bool) {
	for _, c := range types.Capabilities {
		if c.PendingStatus() == status {
			return c, true
		}
	}
	return "", false
}

func (m *Manager) now() time.Time {
	return m.tasks.Now()
}
