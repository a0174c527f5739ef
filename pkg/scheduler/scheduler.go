package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/trainyard/pkg/lock"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/metrics"
	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/processor"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Config holds the per-capability loop settings
type Config struct {
	LabelingInterval time.Duration
	TrainingInterval time.Duration
	LabelingWorkers  int
	TrainingWorkers  int
	// LockTimeout bounds how long a tick waits for the reservation lock
	LockTimeout time.Duration
}

// DefaultConfig returns the default loop settings
func DefaultConfig() Config {
	return Config{
		LabelingInterval: 10 * time.Second,
		TrainingInterval: 15 * time.Second,
		LabelingWorkers:  2,
		TrainingWorkers:  2,
		LockTimeout:      3 * time.Second,
	}
}

func (c Config) interval(capability types.Capability) time.Duration {
	if capability == types.CapabilityTraining {
		return c.TrainingInterval
	}
	return c.LabelingInterval
}

func (c Config) workers(capability types.Capability) int64 {
	n := c.LabelingWorkers
	if capability == types.CapabilityTraining {
		n = c.TrainingWorkers
	}
	if n < 1 {
		n = 1
	}
	return int64(n)
}

// Processor submits a reserved task's job and returns its remote job id
type Processor interface {
	Process(ctx context.Context, c types.Capability, taskID, assetID int64) (string, error)
}

// Failer is implemented by processors that can move a task to error and
// release its reservation
type Failer interface {
	Fail(taskID int64, c types.Capability, assetID int64, msg string, cause error)
}

// Watcher starts monitoring a submitted job
type Watcher interface {
	Watch(job monitor.Job) bool
}

// Scheduler assigns eligible tasks to assets with free capacity
type Scheduler struct {
	tasks    *taskstore.Store
	registry *registry.Registry
	proc     Processor
	watcher  Watcher
	locks    map[types.Capability]lock.Locker
	pools    map[types.Capability]*semaphore.Weighted
	kicks    map[types.Capability]chan struct{}
	config   Config
	logger   zerolog.Logger

	wg      sync.WaitGroup
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Capabilities without an entry in locks
// get an in-process lock.
func NewScheduler(tasks *taskstore.Store, reg *registry.Registry, proc Processor, watcher Watcher,
	locks map[types.Capability]lock.Locker, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tasks:    tasks,
		registry: reg,
		proc:     proc,
		watcher:  watcher,
		locks:    make(map[types.Capability]lock.Locker),
		pools:    make(map[types.Capability]*semaphore.Weighted),
		kicks:    make(map[types.Capability]chan struct{}),
		config:   config,
		logger:   log.WithComponent("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, c := range types.Capabilities {
		if l, ok := locks[c]; ok && l != nil {
			s.locks[c] = l
		} else {
			s.locks[c] = lock.NewLocal()
		}
		s.pools[c] = semaphore.NewWeighted(config.workers(c))
		s.kicks[c] = make(chan struct{}, 1)
	}
	return s
}

// Start begins one loop per capability
func (s *Scheduler) Start() {
	for _, c := range types.Capabilities {
		s.wg.Add(1)
		go s.run(c)
	}
	metrics.UpdateComponent("scheduler", true, "running")
}

// Stop ends the loops and waits for in-progress submissions
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.workers.Wait()
	metrics.UpdateComponent("scheduler", false, "stopped")
}

// Wait blocks until all dispatched submissions have returned
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

// Kick requests an early tick of the capability's loop
func (s *Scheduler) Kick(c types.Capability) {
	ch, ok := s.kicks[c]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// run is the loop of one capability
func (s *Scheduler) run(c types.Capability) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.interval(c))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.kicks[c]:
		case <-s.ctx.Done():
			return
		}
		if err := s.Tick(s.ctx, c); err != nil {
			s.logger.Error().Err(err).Str("capability", string(c)).Msg("Scheduling tick failed")
		}
	}
}

// Tick performs one scheduling cycle for capability c. Failures of single
// tasks are logged and never abort the tick.
func (s *Scheduler) Tick(ctx context.Context, c types.Capability) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerTickDuration, string(c))

	tasks, err := s.tasks.ListEligible(c)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	assets, err := s.registry.ListWithCapacity(c)
	if err != nil {
		return err
	}

	// Assets found full during this tick; retried next tick
	saturated := make(map[int64]bool)

	for i, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		alloc := s.place(ctx, c, task.ID, assets, saturated)
		metrics.AllocationsTotal.WithLabelValues(string(c), alloc.Outcome.String()).Inc()

		switch alloc.Outcome {
		case Reserved:
			replace(assets, alloc.Asset)
			s.dispatch(c, task.ID, alloc.Asset)
		case NoCapacity:
			// Every candidate is full; the rest of the queue waits
			for _, waiting := range tasks[i:] {
				s.noteWaiting(c, waiting.ID)
			}
			return nil
		case Claimed:
			s.logger.Debug().Int64("task_id", task.ID).Msg("Task claimed elsewhere, skipping")
		case Failed:
			s.logger.Warn().Err(alloc.Err).Int64("task_id", task.ID).
				Str("capability", string(c)).Msg("Allocation failed")
		}
	}
	return nil
}

// place tries candidates in strategy order until one reservation succeeds
func (s *Scheduler) place(ctx context.Context, c types.Capability, taskID int64, assets []*types.Asset, saturated map[int64]bool) Allocation {
	for {
		asset := s.registry.Select(c, assets, saturated)
		if asset == nil {
			return Allocation{Outcome: NoCapacity}
		}
		alloc := s.Allocate(ctx, c, taskID, asset.ID)
		if alloc.Outcome != NoCapacity {
			return alloc
		}
		saturated[asset.ID] = true
	}
}

// Allocate reserves a slot of assetID for the task and moves the task in
// flight. The task and the asset are re-read under the capability lock, so
// concurrent ticks never assign one task twice or overfill an asset.
func (s *Scheduler) Allocate(ctx context.Context, c types.Capability, taskID, assetID int64) Allocation {
	release, err := s.locks[c].Acquire(ctx, s.config.LockTimeout)
	if err != nil {
		return Allocation{Outcome: Failed, Err: fmt.Errorf("failed to acquire %s lock: %w", c, err)}
	}
	defer release()

	var alloc Allocation
	err = s.tasks.WithLock(taskID, func(tx storage.Tx, task *types.Task) error {
		if task.Status != c.PendingStatus() {
			alloc = Allocation{Outcome: Claimed}
			return errSkip
		}

		asset, err := registry.Reserve(tx, assetID, c)
		if errors.Is(err, registry.ErrAtCapacity) {
			alloc = Allocation{Outcome: NoCapacity, Asset: asset}
			return errSkip
		}
		if err != nil {
			return err
		}

		id := asset.ID
		now := s.tasks.Now()
		task.SetAssetID(c, &id)
		task.Progress = 0
		task.ErrorMessage = ""
		task.Transition(c.InFlightStatus(), now)
		task.History.Append(types.LogInfo,
			fmt.Sprintf("Reserved %s slot on asset %q (%d/%d)", c, asset.Name, asset.Count(c), asset.MaxConcurrentTasks), now)

		alloc = Allocation{Outcome: Reserved, Asset: asset}
		return nil
	})
	switch {
	case errors.Is(err, errSkip):
		return alloc
	case errors.Is(err, storage.ErrNotFound):
		return Allocation{Outcome: Claimed}
	case err != nil:
		return Allocation{Outcome: Failed, Err: err}
	}

	s.logger.Info().
		Int64("task_id", taskID).
		Int64("asset_id", assetID).
		Str("capability", string(c)).
		Msg("Task assigned")
	return alloc
}

// dispatch runs the processor on the capability's worker pool and starts
// monitoring the submitted job
func (s *Scheduler) dispatch(c types.Capability, taskID int64, asset *types.Asset) {
	// Blocks the tick while the pool is full; recovery re-queues the task if
	// we are stopped before a worker frees up
	if err := s.pools[c].Acquire(s.ctx, 1); err != nil {
		return
	}

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.pools[c].Release(1)
		defer s.recoverWorker(c, taskID, asset.ID)

		jobID, err := s.proc.Process(s.ctx, c, taskID, asset.ID)
		if err != nil {
			if !errors.Is(err, processor.ErrSuperseded) {
				s.logger.Warn().Err(err).Int64("task_id", taskID).Str("capability", string(c)).Msg("Job submission failed")
			}
			return
		}

		s.watcher.Watch(monitor.Job{
			TaskID:     taskID,
			AssetID:    asset.ID,
			Capability: c,
			JobID:      jobID,
			Endpoint:   asset.Endpoint(c),
		})
	}()
}

// recoverWorker keeps a panicking worker from taking the process down. The
// task is failed so its reservation is released.
func (s *Scheduler) recoverWorker(c types.Capability, taskID, assetID int64) {
	r := recover()
	if r == nil {
		return
	}
	stack := debug.Stack()
	s.logger.Error().
		Int64("task_id", taskID).
		Int64("asset_id", assetID).
		Str("capability", string(c)).
		Interface("panic", r).
		Bytes("stack", stack).
		Msg("Dispatch worker panicked")
	if f, ok := s.proc.(Failer); ok {
		f.Fail(taskID, c, assetID, "Dispatch worker crashed", &processor.PanicError{Value: r, Stack: stack})
	}
}

func (s *Scheduler) noteWaiting(c types.Capability, taskID int64) {
	_, err := s.tasks.UpsertLog(taskID, "waiting_asset", types.LogInfo, func(n int) string {
		return fmt.Sprintf("Waiting for available %s asset, attempt %d", c, n)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn().Err(err).Int64("task_id", taskID).Msg("Failed to record waiting log")
	}
}

// replace swaps the fresh copy of an asset into the candidate list
func replace(assets []*types.Asset, fresh *types.Asset) {
	for i, a := range assets {
		if a.ID == fresh.ID {
			assets[i] = fresh
			return
		}
	}
}
