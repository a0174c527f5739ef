package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
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

// ErrSuperseded is returned when the task left the in-flight status (for
// example a user stop) while the processor was working on it
var ErrSuperseded = errors.New("task no longer holds this reservation")

// Processor submits marking and training jobs
type Processor struct {
	tasks     *taskstore.Store
	workspace *workspace.Workspace
	clients   map[types.Capability]remote.Client
}

// New creates a processor
func New(tasks *taskstore.Store, ws *workspace.Workspace, clients map[types.Capability]remote.Client) *Processor {
	return &Processor{tasks: tasks, workspace: ws, clients: clients}
}

// PanicError is returned by Process when preparing or submitting the job
// panicked. The task has been moved to error with Stack in its log.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Process dispatches to the stage's processor. A panic is turned into a
// failed task and a *PanicError.
func (p *Processor) Process(ctx context.Context, c types.Capability, taskID, assetID int64) (jobID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			p.Fail(taskID, c, assetID, "Job processor crashed", err)
		}
	}()

	if c == types.CapabilityTraining {
		return p.ProcessTraining(ctx, taskID, assetID)
	}
	return p.ProcessMarking(ctx, taskID, assetID)
}

// ProcessMarking submits the captioning job for a task in marking
func (p *Processor) ProcessMarking(ctx context.Context, taskID, assetID int64) (string, error) {
	return p.run(ctx, types.CapabilityLabeling, taskID, assetID, p.prepareMarking)
}

// ProcessTraining submits the training job for a task in training
func (p *Processor) ProcessTraining(ctx context.Context, taskID, assetID int64) (string, error) {
	return p.run(ctx, types.CapabilityTraining, taskID, assetID, p.prepareTraining)
}

// prepareFunc resolves directories and builds the payload. It runs inside
// the task's transaction and may record state on the task.
type prepareFunc func(tx storage.Tx, task *types.Task, asset *types.Asset, outputDir string) (map[string]any, error)

func (p *Processor) run(ctx context.Context, c types.Capability, taskID, assetID int64, prepare prepareFunc) (string, error) {
	logger := log.WithJob("processor", taskID, assetID, string(c), "")

	var (
		payload  map[string]any
		endpoint string
	)
	err := p.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if err := holds(task, c, assetID); err != nil {
			return err
		}
		asset, err := tx.GetAsset(assetID)
		if err != nil {
			return fmt.Errorf("failed to load asset: %w", err)
		}
		endpoint = asset.Endpoint(c)

		now := p.tasks.Now()
		task.History.Append(types.LogInfo,
			fmt.Sprintf("Assigned to asset %q (%s)", asset.Name, endpoint), now)

		outputDir, err := p.workspace.NewOutputDir(taskID, c)
		if err != nil {
			return err
		}
		payload, err = prepare(tx, task, asset, outputDir)
		return err
	})
	if errors.Is(err, ErrSuperseded) {
		logger.Info().Msg("Task left in-flight status before submit, skipping")
		return "", err
	}
	if err != nil {
		p.Fail(taskID, c, assetID, "Failed to prepare job", err)
		return "", err
	}

	jobID, err := p.clients[c].Submit(ctx, endpoint, payload)
	if err != nil {
		p.Fail(taskID, c, assetID, "Failed to submit job", err)
		return "", err
	}
	metrics.JobsSubmitted.WithLabelValues(string(c)).Inc()
	logger = logger.With().Str("job_id", jobID).Logger()

	err = p.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if err := holds(task, c, assetID); err != nil {
			return err
		}
		task.ExternalJobID = jobID
		task.JobCapability = c
		task.History.Append(types.LogInfo, fmt.Sprintf("Submitted job %s", jobID), p.tasks.Now())

		if c == types.CapabilityTraining && task.ExecutionHistoryID != nil {
			exec, err := tx.GetExecution(*task.ExecutionHistoryID)
			if err != nil {
				return err
			}
			exec.ExternalJobID = jobID
			return tx.PutExecution(exec)
		}
		return nil
	})
	if errors.Is(err, ErrSuperseded) {
		// Stopped while submitting; the reservation is already released
		logger.Warn().Msg("Task stopped during submit, cancelling orphan job")
		if _, cerr := p.clients[c].Cancel(context.WithoutCancel(ctx), endpoint, jobID); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to cancel orphan job")
		}
		return "", err
	}
	if err != nil {
		p.Fail(taskID, c, assetID, "Failed to record job id", err)
		return "", err
	}

	logger.Info().Msg("Job submitted")
	return jobID, nil
}

// Fail moves the task to error and releases its reservation for c, if the
// task still holds assetID. Calling it again is a no-op.
func (p *Processor) Fail(taskID int64, c types.Capability, assetID int64, msg string, cause error) {
	logger := log.WithJob("processor", taskID, assetID, string(c), "")
	logger.Error().Err(cause).Msg(msg)

	err := p.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if err := holds(task, c, assetID); err != nil {
			return err
		}
		if err := registry.ReleaseTask(tx, task, c); err != nil {
			return err
		}

		stack := debug.Stack()
		var pe *PanicError
		if errors.As(cause, &pe) {
			stack = pe.Stack
		}

		now := p.tasks.Now()
		detail := fmt.Sprintf("%s: %v", msg, cause)
		task.ErrorMessage = detail
		task.Progress = 0
		task.ExternalJobID = ""
		task.JobCapability = ""
		task.Transition(types.TaskStatusError, now)
		entry := task.History.Append(types.LogError, detail, now)
		if entry != nil {
			entry.Fields = map[string]string{
				"error_type": fmt.Sprintf("%T", cause),
				"stage":      string(c),
				"stack":      trimStack(stack),
			}
		}

		if c == types.CapabilityTraining && task.ExecutionHistoryID != nil {
			return FailExecution(tx, *task.ExecutionHistoryID, detail, now)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSuperseded) {
		logger.Error().Err(err).Msg("Failed to record job failure")
		return
	}
	if err == nil {
		metrics.JobsFinished.WithLabelValues(string(c), "submit_failed").Inc()
	}
}

// holds reports ErrSuperseded unless task is in c's in-flight status with
// assetID reserved
func holds(task *types.Task, c types.Capability, assetID int64) error {
	if task.Status != c.InFlightStatus() {
		return ErrSuperseded
	}
	if id := task.AssetID(c); id == nil || *id != assetID {
		return ErrSuperseded
	}
	return nil
}

func trimStack(stack []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	if len(lines) > 24 {
		lines = lines[:24]
	}
	return strings.Join(lines, "\n")
}
