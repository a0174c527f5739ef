package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/lock"
	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/processor"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu     sync.Mutex
	calls  map[int64]int
	err    error
	panics any
	failed []error
}

func (p *fakeProcessor) Process(_ context.Context, c types.Capability, taskID, _ int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[int64]int)
	}
	p.calls[taskID]++
	if p.panics != nil {
		panic(p.panics)
	}
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("%s-%d", c, taskID), nil
}

func (p *fakeProcessor) Fail(_ int64, _ types.Capability, _ int64, _ string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, cause)
}

func (p *fakeProcessor) failures() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.failed...)
}

func (p *fakeProcessor) count(taskID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[taskID]
}

type fakeWatcher struct {
	mu   sync.Mutex
	jobs []monitor.Job
}

func (w *fakeWatcher) Watch(job monitor.Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	return true
}

func (w *fakeWatcher) watched() []monitor.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]monitor.Job(nil), w.jobs...)
}

type fixture struct {
	store   storage.Store
	tasks   *taskstore.Store
	reg     *registry.Registry
	proc    *fakeProcessor
	watcher *fakeWatcher
	sched   *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bs, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	f := &fixture{
		store:   bs,
		tasks:   taskstore.New(bs, nil),
		reg:     registry.New(bs, nil, nil),
		proc:    &fakeProcessor{},
		watcher: &fakeWatcher{},
	}
	cfg := DefaultConfig()
	cfg.LabelingWorkers = 4
	f.sched = NewScheduler(f.tasks, f.reg, f.proc, f.watcher, nil, cfg)
	t.Cleanup(f.sched.Stop)
	return f
}

func (f *fixture) addAsset(t *testing.T, name string, max int) *types.Asset {
	t.Helper()
	a := &types.Asset{
		Name:               name,
		Address:            "10.0.0.1",
		Labeling:           types.CapabilityBlock{Enabled: true, Port: 8188},
		Training:           types.CapabilityBlock{Enabled: true, Port: 28000},
		MaxConcurrentTasks: max,
	}
	require.NoError(t, f.store.CreateAsset(a))
	return a
}

func (f *fixture) addTask(t *testing.T, name string, created time.Time) *types.Task {
	t.Helper()
	task := &types.Task{
		Name:      name,
		Status:    types.TaskStatusSubmitted,
		Images:    []string{"a.png"},
		CreatedAt: created,
	}
	task.History.Enter(task.Status, created)
	require.NoError(t, f.store.CreateTask(task))
	return task
}

func (f *fixture) task(t *testing.T, id int64) *types.Task {
	t.Helper()
	task, err := f.store.GetTask(id)
	require.NoError(t, err)
	return task
}

func (f *fixture) asset(t *testing.T, id int64) *types.Asset {
	t.Helper()
	a, err := f.store.GetAsset(id)
	require.NoError(t, err)
	return a
}

func TestTickAssignsOldestFirst(t *testing.T) {
	f := newFixture(t)
	a := f.addAsset(t, "gpu-1", 1)
	base := time.Now()
	newer := f.addTask(t, "newer", base.Add(time.Minute))
	older := f.addTask(t, "older", base)

	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	f.sched.Wait()

	got := f.task(t, older.ID)
	assert.Equal(t, types.TaskStatusMarking, got.Status)
	require.NotNil(t, got.MarkingAssetID)
	assert.Equal(t, a.ID, *got.MarkingAssetID)
	assert.Equal(t, 1, f.asset(t, a.ID).MarkingTasksCount)

	// The newer task waits with a coalesced log entry
	waiting := f.task(t, newer.ID)
	assert.Equal(t, types.TaskStatusSubmitted, waiting.Status)
	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	waiting = f.task(t, newer.ID)
	logs := waiting.History.Current().Logs
	require.Len(t, logs, 1)
	assert.Equal(t, "waiting_asset", logs[0].Key)
	assert.Equal(t, 2, logs[0].Count)

	jobs := f.watcher.watched()
	require.Len(t, jobs, 1)
	assert.Equal(t, older.ID, jobs[0].TaskID)
	assert.Equal(t, "http://10.0.0.1:8188", jobs[0].Endpoint)
}

func TestTickLeastLoadedSpreadsWork(t *testing.T) {
	f := newFixture(t)
	a1 := f.addAsset(t, "gpu-1", 2)
	a2 := f.addAsset(t, "gpu-2", 2)
	base := time.Now()
	for i := 0; i < 3; i++ {
		f.addTask(t, fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Second))
	}

	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	f.sched.Wait()

	assert.Equal(t, 2, f.asset(t, a1.ID).MarkingTasksCount)
	assert.Equal(t, 1, f.asset(t, a2.ID).MarkingTasksCount)
}

func TestTickNoAssetsLogsWaiting(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, "lonely", time.Now())

	for i := 0; i < 3; i++ {
		require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	}

	got := f.task(t, task.ID)
	assert.Equal(t, types.TaskStatusSubmitted, got.Status)
	logs := got.History.Current().Logs
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Count)
	assert.Contains(t, logs[0].Message, "attempt 3")
}

func TestTickSkipsTasksWithoutImages(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "gpu-1", 1)
	task := f.addTask(t, "empty", time.Now())
	require.NoError(t, f.tasks.WithLock(task.ID, func(_ storage.Tx, tk *types.Task) error {
		tk.Images = nil
		return nil
	}))

	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	assert.Equal(t, types.TaskStatusSubmitted, f.task(t, task.ID).Status)
}

func TestConcurrentTicksAssignOnce(t *testing.T) {
	f := newFixture(t)
	a1 := f.addAsset(t, "gpu-1", 2)
	a2 := f.addAsset(t, "gpu-2", 2)
	base := time.Now()
	var tasks []*types.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, f.addTask(t, fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
		}()
	}
	wg.Wait()
	f.sched.Wait()

	assigned := 0
	for _, task := range tasks {
		got := f.task(t, task.ID)
		assert.LessOrEqual(t, f.proc.count(task.ID), 1)
		if got.Status == types.TaskStatusMarking {
			assigned++
			assert.Equal(t, 1, f.proc.count(task.ID))
			assert.NotNil(t, got.MarkingAssetID)
		} else {
			assert.Nil(t, got.MarkingAssetID)
		}
	}
	assert.Equal(t, 4, assigned)
	assert.Equal(t, 2, f.asset(t, a1.ID).MarkingTasksCount)
	assert.Equal(t, 2, f.asset(t, a2.ID).MarkingTasksCount)
}

func TestAllocateOutcomes(t *testing.T) {
	f := newFixture(t)
	a := f.addAsset(t, "gpu-1", 1)
	ctx := context.Background()

	first := f.addTask(t, "first", time.Now())
	second := f.addTask(t, "second", time.Now())

	alloc := f.sched.Allocate(ctx, types.CapabilityLabeling, first.ID, a.ID)
	require.Equal(t, Reserved, alloc.Outcome)
	assert.Equal(t, 1, alloc.Asset.MarkingTasksCount)

	// Same task again: already in flight
	alloc = f.sched.Allocate(ctx, types.CapabilityLabeling, first.ID, a.ID)
	assert.Equal(t, Claimed, alloc.Outcome)

	// Asset is full
	alloc = f.sched.Allocate(ctx, types.CapabilityLabeling, second.ID, a.ID)
	assert.Equal(t, NoCapacity, alloc.Outcome)
	assert.Equal(t, types.TaskStatusSubmitted, f.task(t, second.ID).Status)

	// Deleted task
	alloc = f.sched.Allocate(ctx, types.CapabilityLabeling, 9999, a.ID)
	assert.Equal(t, Claimed, alloc.Outcome)

	assert.Equal(t, 1, f.asset(t, a.ID).MarkingTasksCount)
}

func TestAllocateLockTimeout(t *testing.T) {
	bs, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	held := lock.NewLocal()
	release, err := held.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer release()

	cfg := DefaultConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	tasks := taskstore.New(bs, nil)
	s := NewScheduler(tasks, registry.New(bs, nil, nil), &fakeProcessor{}, &fakeWatcher{},
		map[types.Capability]lock.Locker{types.CapabilityLabeling: held}, cfg)
	t.Cleanup(s.Stop)

	a := &types.Asset{Name: "gpu", Address: "h", Labeling: types.CapabilityBlock{Enabled: true}, MaxConcurrentTasks: 1}
	require.NoError(t, bs.CreateAsset(a))
	task := &types.Task{Name: "t", Status: types.TaskStatusSubmitted, Images: []string{"a.png"}, CreatedAt: time.Now()}
	require.NoError(t, bs.CreateTask(task))

	alloc := s.Allocate(context.Background(), types.CapabilityLabeling, task.ID, a.ID)
	assert.Equal(t, Failed, alloc.Outcome)
	assert.ErrorIs(t, alloc.Err, lock.ErrTimeout)

	got, err := bs.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusSubmitted, got.Status)
}

func TestSubmitFailureIsNotWatched(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "gpu-1", 1)
	f.addTask(t, "t", time.Now())
	f.proc.err = fmt.Errorf("remote down")

	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	f.sched.Wait()

	assert.Empty(t, f.watcher.watched())
}

func TestKickTriggersTick(t *testing.T) {
	f := newFixture(t)
	f.sched.config.LabelingInterval = time.Hour
	f.sched.config.TrainingInterval = time.Hour
	f.addAsset(t, "gpu-1", 1)
	task := f.addTask(t, "t", time.Now())

	f.sched.Start()
	f.sched.Kick(types.CapabilityLabeling)

	require.Eventually(t, func() bool {
		return f.task(t, task.ID).Status == types.TaskStatusMarking
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "reserved", Reserved.String())
	assert.Equal(t, "no_capacity", NoCapacity.String())
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestDispatchRecoversWorkerPanic(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "gpu-1", 2)
	f.proc.panics = "boom"
	task := f.addTask(t, "crashy", time.Now())

	require.NoError(t, f.sched.Tick(context.Background(), types.CapabilityLabeling))
	f.sched.Wait()

	failures := f.proc.failures()
	require.Len(t, failures, 1)
	var pe *processor.PanicError
	require.ErrorAs(t, failures[0], &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, 1, f.proc.count(task.ID))
	assert.Empty(t, f.watcher.watched())
}
