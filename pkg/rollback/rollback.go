package rollback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
)

// ErrInvalidTarget is returned when the target is not a rollback status or
// is not before the task's current status
var ErrInvalidTarget = errors.New("invalid rollback target")

// errNoop ends the transaction of a rollback that has nothing to do
var errNoop = errors.New("already at target")

// Options controls the optional steps of a rollback
type Options struct {
	// CancelRemote asks the remote service to stop the discarded job
	CancelRemote bool
	// PurgeOutputs deletes the discarded attempt's output files when the
	// target is new
	PurgeOutputs bool
	// Reason is appended to the rollback log entry
	Reason string
}

// DefaultOptions cancels remote jobs and purges outputs
func DefaultOptions() Options {
	return Options{CancelRemote: true, PurgeOutputs: true}
}

// Targets lists the statuses a task may be rolled back to
var Targets = []types.TaskStatus{types.TaskStatusNew, types.TaskStatusSubmitted, types.TaskStatusMarked}

// ValidTarget reports whether status is a rollback target
func ValidTarget(status types.TaskStatus) bool {
	for _, t := range Targets {
		if t == status {
			return true
		}
	}
	return false
}

// Rollbacker performs rollbacks
type Rollbacker struct {
	tasks     *taskstore.Store
	workspace *workspace.Workspace
	clients   map[types.Capability]remote.Client
}

// New creates a Rollbacker. ws may be nil to disable purging.
func New(tasks *taskstore.Store, ws *workspace.Workspace, clients map[types.Capability]remote.Client) *Rollbacker {
	return &Rollbacker{tasks: tasks, workspace: ws, clients: clients}
}

// Rollback moves the task back to target and returns it
func (r *Rollbacker) Rollback(ctx context.Context, taskID int64, target types.TaskStatus, opts Options) (*types.Task, error) {
	logger := log.WithTaskID(taskID).With().Str("component", "rollback").Str("target", string(target)).Logger()

	if !ValidTarget(target) {
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidTarget, target, Targets)
	}

	task, err := r.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == target {
		return task, nil
	}
	if !target.Before(task.Status) {
		return nil, fmt.Errorf("%w: cannot roll back from %s to %s", ErrInvalidTarget, task.Status, target)
	}

	// Best effort and outside the transaction; the outcome is recorded in
	// the rollback log entry
	var notes []string
	if opts.CancelRemote {
		if note := r.cancelRemote(ctx, task, target); note != "" {
			notes = append(notes, note)
		}
	}

	var (
		from   types.TaskStatus
		purge  []string
		result *types.Task
	)
	err = r.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if task.Status == target {
			result = task
			return errNoop
		}
		if !target.Before(task.Status) {
			return fmt.Errorf("%w: cannot roll back from %s to %s", ErrInvalidTarget, task.Status, target)
		}
		from = task.Status

		task.History.DiscardAfter(target)

		for _, c := range types.Capabilities {
			if !target.Before(c.InFlightStatus()) {
				continue
			}
			if err := registry.ReleaseTask(tx, task, c); err != nil {
				return err
			}
		}

		if task.ExternalJobID != "" && (task.JobCapability == "" || target.Before(task.JobCapability.InFlightStatus())) {
			task.ExternalJobID = ""
			task.JobCapability = ""
		}

		if target == types.TaskStatusNew && opts.PurgeOutputs {
			for _, p := range []string{task.MarkedImagesPath, task.TrainingOutputPath} {
				if p != "" {
					purge = append(purge, p)
				}
			}
		}
		if target.Before(types.TaskStatusTraining) {
			task.ExecutionHistoryID = nil
			task.TrainingOutputPath = ""
		}
		if target.Before(types.TaskStatusMarking) {
			task.MarkedImagesPath = ""
		}

		now := r.tasks.Now()
		task.Progress = 0
		task.ErrorMessage = ""
		task.Transition(target, now)

		msg := fmt.Sprintf("Rolled back from %s to %s", from, target)
		if opts.Reason != "" {
			msg += ": " + opts.Reason
		}
		if len(notes) > 0 {
			msg += " (" + strings.Join(notes, "; ") + ")"
		}
		task.History.Append(types.LogInfo, msg, now)

		result = task
		return nil
	})
	if errors.Is(err, errNoop) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.RollbacksTotal.WithLabelValues(string(target)).Inc()
	logger.Info().Str("from", string(from)).Msg("Task rolled back")
	r.tasks.Publish(rolledBackEvent(result, from))

	if r.workspace != nil {
		for _, p := range purge {
			if err := r.workspace.Purge(p); err != nil {
				logger.Warn().Err(err).Str("path", p).Msg("Failed to purge outputs")
			}
		}
	}
	return result, nil
}

// cancelRemote asks the service to stop the task's job if rolling back to
// target discards the job's stage. It returns a note for the task log.
func (r *Rollbacker) cancelRemote(ctx context.Context, task *types.Task, target types.TaskStatus) string {
	c := task.JobCapability
	if task.ExternalJobID == "" || c == "" || !target.Before(c.InFlightStatus()) {
		return ""
	}
	assetID := task.AssetID(c)
	client, ok := r.clients[c]
	if assetID == nil || !ok {
		return ""
	}

	logger := log.WithJob("rollback", task.ID, *assetID, string(c), task.ExternalJobID)
	asset, err := r.tasks.Storage().GetAsset(*assetID)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot cancel remote job, asset not loaded")
		return "remote cancel skipped: asset not found"
	}

	ok, err = client.Cancel(ctx, asset.Endpoint(c), task.ExternalJobID)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Remote cancel failed")
		return fmt.Sprintf("remote cancel of %s failed: %v", task.ExternalJobID, err)
	case !ok:
		logger.Warn().Msg("Remote cancel not acknowledged")
		return fmt.Sprintf("remote cancel of %s not acknowledged", task.ExternalJobID)
	}
	logger.Info().Msg("Remote job cancelled")
	return fmt.Sprintf("cancelled remote job %s", task.ExternalJobID)
}
