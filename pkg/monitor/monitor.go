package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/processor"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// errStale means the task no longer runs the watched job
var errStale = errors.New("job no longer current")

// Job identifies one remote job to watch
type Job struct {
	TaskID     int64
	AssetID    int64
	Capability types.Capability
	JobID      string
	Endpoint   string
}

// StageConfig holds the polling policy of one stage
type StageConfig struct {
	PollInterval time.Duration
	// MaxErrors consecutive poll failures move the task to error
	MaxErrors int
	// MaxBackoff caps the delay between failing polls
	MaxBackoff time.Duration
}

// Config holds the polling policy of both stages
type Config struct {
	Labeling StageConfig
	Training StageConfig
}

// DefaultConfig returns the default polling policy
func DefaultConfig() Config {
	return Config{
		Labeling: StageConfig{PollInterval: 5 * time.Second, MaxErrors: 3, MaxBackoff: time.Minute},
		Training: StageConfig{PollInterval: 30 * time.Second, MaxErrors: 10, MaxBackoff: 5 * time.Minute},
	}
}

func (c Config) stage(capability types.Capability) StageConfig {
	if capability == types.CapabilityTraining {
		return c.Training
	}
	return c.Labeling
}

// FinishFunc is called after a job's task has left the in-flight status
type FinishFunc func(job Job, success bool)

// Monitor runs one watch goroutine per in-flight job
type Monitor struct {
	tasks    *taskstore.Store
	clients  map[types.Capability]remote.Client
	config   Config
	onFinish FinishFunc

	mu      sync.Mutex
	watches map[int64]*watch
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type watch struct {
	job    Job
	cancel context.CancelFunc
}

// New creates a monitor
func New(tasks *taskstore.Store, clients map[types.Capability]remote.Client, config Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		tasks:   tasks,
		clients: clients,
		config:  config,
		watches: make(map[int64]*watch),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnFinish registers a callback run after every terminal transition
func (m *Monitor) OnFinish(fn FinishFunc) {
	m.onFinish = fn
}

// Watch starts watching job. It returns false if the same job is already
// watched; a watch on an older job of the same task is replaced.
func (m *Monitor) Watch(job Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}
	if w, ok := m.watches[job.TaskID]; ok {
		if w.job.JobID == job.JobID {
			return false
		}
		w.cancel()
	}

	ctx, cancel := context.WithCancel(m.ctx)
	w := &watch{job: job, cancel: cancel}
	m.watches[job.TaskID] = w
	metrics.MonitorsActive.WithLabelValues(string(job.Capability)).Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.remove(w)
		defer m.recoverWatch(job)
		m.run(ctx, job)
	}()
	return true
}

// IsWatching reports whether a watch is active for the task
func (m *Monitor) IsWatching(taskID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[taskID]
	return ok
}

// Active returns the number of running watches
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Stop cancels every watch and waits for them to exit. Tasks stay in flight
// and are picked up again by recovery on the next start.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) remove(w *watch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watches[w.job.TaskID] == w {
		delete(m.watches, w.job.TaskID)
	}
	w.cancel()
	metrics.MonitorsActive.WithLabelValues(string(w.job.Capability)).Dec()
}

func (m *Monitor) run(ctx context.Context, job Job) {
	logger := log.WithJob("monitor", job.TaskID, job.AssetID, string(job.Capability), job.JobID)
	cfg := m.config.stage(job.Capability)
	client, ok := m.clients[job.Capability]
	if !ok {
		logger.Error().Msg("No remote client for capability")
		return
	}

	b := &backoff.Backoff{
		Min:    cfg.PollInterval,
		Max:    cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	consecutive := 0
	lastProgress := -1

	logger.Debug().Msg("Watching job")
	for {
		if err := m.current(job); err != nil {
			if !errors.Is(err, errStale) {
				logger.Warn().Err(err).Msg("Stopped watching job")
			}
			return
		}

		res, err := client.Poll(ctx, job.Endpoint, job.JobID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			consecutive++
			metrics.PollErrors.WithLabelValues(string(job.Capability)).Inc()
			logger.Warn().Err(err).Int("consecutive", consecutive).Msg("Poll failed")

			if consecutive >= cfg.MaxErrors {
				m.fail(job, fmt.Sprintf("Lost contact with %s service after %d consecutive errors: %v",
					job.Capability, consecutive, err), "unreachable", logger)
				return
			}
			m.noteError(job, consecutive, cfg.MaxErrors, err, logger)
			if !sleep(ctx, b.Duration()) {
				return
			}
			continue
		}

		consecutive = 0
		b.Reset()

		switch {
		case res.Terminal && res.Success:
			m.complete(ctx, job, res, logger)
			return
		case res.Terminal:
			detail := res.Detail
			if detail == "" {
				detail = "remote job failed"
			}
			m.fail(job, fmt.Sprintf("%s job %s failed: %s", job.Capability, job.JobID, detail), "failed", logger)
			return
		}

		if res.Progress >= 0 && res.Progress != lastProgress {
			err := m.progress(job, res.Progress)
			if errors.Is(err, errStale) {
				return
			}
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to record progress")
			} else {
				lastProgress = res.Progress
			}
		}

		if !sleep(ctx, cfg.PollInterval) {
			return
		}
	}
}

// recoverWatch turns a panic in a watch into a failed task, releasing the
// reservation, instead of crashing the process
func (m *Monitor) recoverWatch(job Job) {
	r := recover()
	if r == nil {
		return
	}
	logger := log.WithJob("monitor", job.TaskID, job.AssetID, string(job.Capability), job.JobID)
	logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Watch panicked")
	m.fail(job, fmt.Sprintf("Status monitor crashed while watching %s: %v", job.JobID, r), "panicked", logger)
}

// current reports errStale unless the task still runs job
func (m *Monitor) current(job Job) error {
	task, err := m.tasks.Get(job.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		return errStale
	}
	if err != nil {
		return err
	}
	return check(task, job)
}

func check(task *types.Task, job Job) error {
	if task.Status != job.Capability.InFlightStatus() || task.ExternalJobID != job.JobID {
		return errStale
	}
	return nil
}

func (m *Monitor) progress(job Job, progress int) error {
	err := m.tasks.WithLock(job.TaskID, func(_ storage.Tx, task *types.Task) error {
		if err := check(task, job); err != nil {
			return err
		}
		task.Progress = progress
		return nil
	})
	if err == nil {
		m.tasks.Publish(progressEvent(job, progress))
	}
	return err
}

func (m *Monitor) noteError(job Job, n, max int, cause error, logger zerolog.Logger) {
	err := m.tasks.WithLock(job.TaskID, func(_ storage.Tx, task *types.Task) error {
		if err := check(task, job); err != nil {
			return err
		}
		task.History.Upsert("poll_error", types.LogWarning, func(int) string {
			return fmt.Sprintf("Status check failed (%d/%d): %v", n, max, cause)
		}, m.tasks.Now())
		return nil
	})
	if err != nil && !errors.Is(err, errStale) {
		logger.Warn().Err(err).Msg("Failed to record poll error")
	}
}

func (m *Monitor) complete(ctx context.Context, job Job, res *remote.PollResult, logger zerolog.Logger) {
	var loss []types.LossPoint
	if reporter, ok := m.clients[job.Capability].(remote.LossReporter); ok && job.Capability == types.CapabilityTraining {
		points, err := reporter.Loss(ctx, job.Endpoint, job.JobID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to fetch loss curve")
		}
		loss = points
	}

	err := m.tasks.WithLock(job.TaskID, func(tx storage.Tx, task *types.Task) error {
		if err := check(task, job); err != nil {
			return err
		}
		if err := registry.ReleaseTask(tx, task, job.Capability); err != nil {
			return err
		}

		now := m.tasks.Now()
		task.Progress = 100
		task.ExternalJobID = ""
		task.JobCapability = ""
		task.ErrorMessage = ""
		task.Transition(job.Capability.DoneStatus(), now)
		task.History.Append(types.LogInfo, fmt.Sprintf("%s job %s completed", stageName(job.Capability), job.JobID), now)

		if job.Capability == types.CapabilityTraining && task.ExecutionHistoryID != nil {
			exec, err := tx.GetExecution(*task.ExecutionHistoryID)
			if err != nil {
				return err
			}
			exec.Status = types.ExecutionCompleted
			exec.CompletedAt = &now
			exec.Loss = loss
			exec.Results = res.Outputs
			return tx.PutExecution(exec)
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record job completion")
		return
	}

	logger.Info().Msg("Job completed")
	metrics.JobsFinished.WithLabelValues(string(job.Capability), "completed").Inc()
	if m.onFinish != nil {
		m.onFinish(job, true)
	}
}

func (m *Monitor) fail(job Job, detail, outcome string, logger zerolog.Logger) {
	err := m.tasks.WithLock(job.TaskID, func(tx storage.Tx, task *types.Task) error {
		if err := check(task, job); err != nil {
			return err
		}
		if err := registry.ReleaseTask(tx, task, job.Capability); err != nil {
			return err
		}

		now := m.tasks.Now()
		task.ErrorMessage = detail
		task.ExternalJobID = ""
		task.JobCapability = ""
		task.Transition(types.TaskStatusError, now)
		entry := task.History.Append(types.LogError, detail, now)
		if entry != nil {
			entry.Fields = map[string]string{"stage": string(job.Capability), "job_id": job.JobID}
		}

		if job.Capability == types.CapabilityTraining && task.ExecutionHistoryID != nil {
			return processor.FailExecution(tx, *task.ExecutionHistoryID, detail, now)
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record job failure")
		return
	}

	logger.Warn().Str("detail", detail).Msg("Job failed")
	metrics.JobsFinished.WithLabelValues(string(job.Capability), outcome).Inc()
	if m.onFinish != nil {
		m.onFinish(job, false)
	}
}

func stageName(c types.Capability) string {
	if c == types.CapabilityTraining {
		return "Training"
	}
	return "Marking"
}

// sleep waits for d or until ctx is done, reporting whether to continue
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
