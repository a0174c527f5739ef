package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/rollback"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Recovery actions
const (
	ActionAdvanced   = "advanced"
	ActionResumed    = "resumed"
	ActionRolledBack = "rolled_back"
)

// errMoved means the task left its in-flight status while being recovered
var errMoved = errors.New("task moved during recovery")

// Watcher resumes monitoring of a remote job
type Watcher interface {
	Watch(job monitor.Job) bool
	IsWatching(taskID int64) bool
}

// Verifier re-checks every asset's services
type Verifier interface {
	VerifyAll(ctx context.Context) error
}

// Report lists the tasks handled by one recovery pass, per action
type Report struct {
	Advanced   []int64
	Resumed    []int64
	RolledBack []int64
}

// Reconciler recovers in-flight tasks after a restart and periodically
// audits reservation counters and monitors
type Reconciler struct {
	tasks     *taskstore.Store
	registry  *registry.Registry
	rollback  *rollback.Rollbacker
	workspace *workspace.Workspace
	watcher   Watcher
	verifier  Verifier
	interval  time.Duration
	logger    zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a reconciler. verifier may be nil.
func NewReconciler(tasks *taskstore.Store, reg *registry.Registry, rb *rollback.Rollbacker,
	ws *workspace.Workspace, watcher Watcher, verifier Verifier, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		tasks:     tasks,
		registry:  reg,
		rollback:  rb,
		workspace: ws,
		watcher:   watcher,
		verifier:  verifier,
		interval:  interval,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
	}
}

// Recover resolves every task left in marking or training. Each task is
// handled independently; the returned error aggregates the failures.
// It treats every in-flight task as orphaned, so no other scheduler may be
// running against the same store.
func (r *Reconciler) Recover(ctx context.Context) (*Report, error) {
	tasks, err := r.tasks.Storage().ListTasksByStatus(types.TaskStatusMarking, types.TaskStatusTraining)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight tasks: %w", err)
	}

	report := &Report{}
	var result *multierror.Error
	for _, task := range tasks {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}

		action, err := r.recoverTask(ctx, task)
		if errors.Is(err, errMoved) {
			continue
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("task %d: %w", task.ID, err))
			continue
		}

		metrics.RecoveryActions.WithLabelValues(action).Inc()
		switch action {
		case ActionAdvanced:
			report.Advanced = append(report.Advanced, task.ID)
		case ActionResumed:
			report.Resumed = append(report.Resumed, task.ID)
		case ActionRolledBack:
			report.RolledBack = append(report.RolledBack, task.ID)
		}
	}

	r.logger.Info().
		Int("advanced", len(report.Advanced)).
		Int("resumed", len(report.Resumed)).
		Int("rolled_back", len(report.RolledBack)).
		Msg("Recovery finished")
	return report, result.ErrorOrNil()
}

func (r *Reconciler) recoverTask(ctx context.Context, task *types.Task) (string, error) {
	c, ok := types.CapabilityForStatus(task.Status)
	if !ok {
		return "", errMoved
	}
	logger := r.logger.With().Int64("task_id", task.ID).Str("capability", string(c)).Logger()

	// A finished stage left its output behind
	done, err := r.workspace.HasOutput(task.OutputPath(c))
	if err != nil {
		return "", err
	}
	if done {
		if err := r.advance(task.ID, c); err != nil {
			return "", err
		}
		logger.Info().Msg("Output found, advanced task")
		return ActionAdvanced, nil
	}

	// A submitted job can be watched again
	if assetID := task.AssetID(c); task.ExternalJobID != "" && assetID != nil {
		asset, err := r.tasks.Storage().GetAsset(*assetID)
		if err == nil {
			r.watcher.Watch(monitor.Job{
				TaskID:     task.ID,
				AssetID:    asset.ID,
				Capability: c,
				JobID:      task.ExternalJobID,
				Endpoint:   asset.Endpoint(c),
			})
			logger.Info().Str("job_id", task.ExternalJobID).Msg("Resumed monitoring")
			return ActionResumed, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		logger.Warn().Int64("asset_id", *assetID).Msg("Reserved asset is gone, re-queueing task")
	}

	// Nothing was submitted; put the task back in the queue
	_, err = r.rollback.Rollback(ctx, task.ID, c.PendingStatus(), rollback.Options{
		Reason: "interrupted before the job was submitted",
	})
	if err != nil {
		return "", err
	}
	logger.Info().Msg("Re-queued task")
	return ActionRolledBack, nil
}

// advance moves an in-flight task to its done status and releases its slot
func (r *Reconciler) advance(taskID int64, c types.Capability) error {
	return r.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if task.Status != c.InFlightStatus() {
			return errMoved
		}
		if err := registry.ReleaseTask(tx, task, c); err != nil {
			return err
		}

		now := r.tasks.Now()
		task.Progress = 100
		task.ExternalJobID = ""
		task.JobCapability = ""
		task.Transition(c.DoneStatus(), now)
		task.History.Append(types.LogInfo, "Recovered after restart: output found", now)

		if c == types.CapabilityTraining && task.ExecutionHistoryID != nil {
			exec, err := tx.GetExecution(*task.ExecutionHistoryID)
			if err != nil {
				return err
			}
			if exec.Status == types.ExecutionRunning {
				exec.Status = types.ExecutionCompleted
				exec.CompletedAt = &now
				return tx.PutExecution(exec)
			}
		}
		return nil
	})
}

// Audit corrects counter drift, re-attaches missing monitors and re-verifies
// assets
func (r *Reconciler) Audit(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		r.logger.Debug().Dur("duration", timer.Duration()).Msg("Audit finished")
	}()

	var result *multierror.Error

	corrected, err := r.registry.Recount()
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("recount: %w", err))
	}
	if len(corrected) > 0 {
		metrics.CounterCorrections.Add(float64(len(corrected)))
	}

	if err := r.reattach(); err != nil {
		result = multierror.Append(result, fmt.Errorf("reattach: %w", err))
	}

	if r.verifier != nil {
		if err := r.verifier.VerifyAll(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("verify: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// reattach starts watches for submitted in-flight jobs that have none
func (r *Reconciler) reattach() error {
	tasks, err := r.tasks.Storage().ListTasksByStatus(types.TaskStatusMarking, types.TaskStatusTraining)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		c, _ := types.CapabilityForStatus(task.Status)
		assetID := task.AssetID(c)
		if task.ExternalJobID == "" || assetID == nil || r.watcher.IsWatching(task.ID) {
			continue
		}
		asset, err := r.tasks.Storage().GetAsset(*assetID)
		if err != nil {
			r.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Cannot re-attach monitor")
			continue
		}
		if r.watcher.Watch(monitor.Job{
			TaskID:     task.ID,
			AssetID:    asset.ID,
			Capability: c,
			JobID:      task.ExternalJobID,
			Endpoint:   asset.Endpoint(c),
		}) {
			r.logger.Warn().Int64("task_id", task.ID).Str("job_id", task.ExternalJobID).Msg("Re-attached missing monitor")
		}
	}
	return nil
}

// Start begins the periodic audit
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop stops the audit loop
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if err := r.Audit(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Audit failed")
			}
		case <-r.stopCh:
			return
		}
	}
}
