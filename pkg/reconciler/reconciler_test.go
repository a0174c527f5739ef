package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/registry"
	"github.com/cuemby/trainyard/pkg/rollback"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/taskstore"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/cuemby/trainyard/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	mu   sync.Mutex
	jobs map[int64]monitor.Job
}

func (w *fakeWatcher) Watch(job monitor.Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs == nil {
		w.jobs = make(map[int64]monitor.Job)
	}
	if existing, ok := w.jobs[job.TaskID]; ok && existing.JobID == job.JobID {
		return false
	}
	w.jobs[job.TaskID] = job
	return true
}

func (w *fakeWatcher) IsWatching(taskID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.jobs[taskID]
	return ok
}

type fakeVerifier struct {
	calls int
	err   error
}

func (v *fakeVerifier) VerifyAll(context.Context) error {
	v.calls++
	return v.err
}

type fixture struct {
	store    storage.Store
	tasks    *taskstore.Store
	ws       *workspace.Workspace
	watcher  *fakeWatcher
	verifier *fakeVerifier
	rec      *Reconciler
	asset    *types.Asset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bs, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:    bs,
		tasks:    taskstore.New(bs, nil),
		ws:       ws,
		watcher:  &fakeWatcher{},
		verifier: &fakeVerifier{},
	}
	reg := registry.New(bs, nil, nil)
	rb := rollback.New(f.tasks, ws, nil)
	f.rec = NewReconciler(f.tasks, reg, rb, ws, f.watcher, f.verifier, time.Hour)

	f.asset = &types.Asset{
		Name:               "gpu-1",
		Address:            "10.0.0.5",
		Labeling:           types.CapabilityBlock{Enabled: true, Port: 8188},
		Training:           types.CapabilityBlock{Enabled: true, Port: 28000},
		MaxConcurrentTasks: 4,
	}
	require.NoError(t, bs.CreateAsset(f.asset))
	return f
}

// inFlight creates a task in c's in-flight status holding a reservation
func (f *fixture) inFlight(t *testing.T, c types.Capability, jobID string, withOutput bool) *types.Task {
	t.Helper()
	now := time.Now()
	task := &types.Task{Name: "t", Status: types.TaskStatusNew, Images: []string{"a.png"}, CreatedAt: now}
	task.History.Enter(types.TaskStatusNew, now)
	require.NoError(t, f.store.CreateTask(task))

	out, err := f.ws.NewOutputDir(task.ID, c)
	require.NoError(t, err)
	if withOutput {
		require.NoError(t, os.WriteFile(filepath.Join(out, "result.txt"), []byte("done"), 0644))
	}

	require.NoError(t, f.tasks.WithLock(task.ID, func(tx storage.Tx, tk *types.Task) error {
		tk.Transition(types.TaskStatusSubmitted, now)
		if c == types.CapabilityTraining {
			tk.MarkedImagesPath = filepath.Join(filepath.Dir(out), "marked")
			tk.Transition(types.TaskStatusMarked, now)
			exec := &types.ExecutionHistory{TaskID: tk.ID, Attempt: 1, Status: types.ExecutionRunning, StartedAt: now}
			if err := tx.PutExecution(exec); err != nil {
				return err
			}
			tk.ExecutionHistoryID = &exec.ID
			tk.TrainingOutputPath = out
		} else {
			tk.MarkedImagesPath = out
		}
		if _, err := registry.Reserve(tx, f.asset.ID, c); err != nil {
			return err
		}
		id := f.asset.ID
		tk.SetAssetID(c, &id)
		tk.ExternalJobID = jobID
		if jobID != "" {
			tk.JobCapability = c
		}
		tk.Transition(c.InFlightStatus(), now)
		return nil
	}))
	return task
}

func (f *fixture) get(t *testing.T, id int64) *types.Task {
	t.Helper()
	task, err := f.store.GetTask(id)
	require.NoError(t, err)
	return task
}

func (f *fixture) counts(t *testing.T) (int, int) {
	t.Helper()
	a, err := f.store.GetAsset(f.asset.ID)
	require.NoError(t, err)
	return a.MarkingTasksCount, a.TrainingTasksCount
}

func TestRecoverAdvancesFinishedStage(t *testing.T) {
	f := newFixture(t)
	marking := f.inFlight(t, types.CapabilityLabeling, "prompt-1", true)
	training := f.inFlight(t, types.CapabilityTraining, "job-1", true)

	report, err := f.rec.Recover(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{marking.ID, training.ID}, report.Advanced)

	got := f.get(t, marking.ID)
	assert.Equal(t, types.TaskStatusMarked, got.Status)
	assert.Nil(t, got.MarkingAssetID)
	assert.Empty(t, got.ExternalJobID)

	got = f.get(t, training.ID)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)
	exec, err := f.store.GetExecution(*got.ExecutionHistoryID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionCompleted, exec.Status)

	m, tr := f.counts(t)
	assert.Equal(t, 0, m)
	assert.Equal(t, 0, tr)
	assert.False(t, f.watcher.IsWatching(marking.ID))
}

func TestRecoverResumesSubmittedJob(t *testing.T) {
	f := newFixture(t)
	task := f.inFlight(t, types.CapabilityTraining, "job-4", false)

	report, err := f.rec.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.Resumed)

	require.True(t, f.watcher.IsWatching(task.ID))
	job := f.watcher.jobs[task.ID]
	assert.Equal(t, "job-4", job.JobID)
	assert.Equal(t, "http://10.0.0.5:28000", job.Endpoint)

	// Still in flight, still holding its slot
	assert.Equal(t, types.TaskStatusTraining, f.get(t, task.ID).Status)
	_, tr := f.counts(t)
	assert.Equal(t, 1, tr)
}

func TestRecoverRequeuesUnsubmittedTask(t *testing.T) {
	f := newFixture(t)
	task := f.inFlight(t, types.CapabilityLabeling, "", false)

	report, err := f.rec.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.RolledBack)

	got := f.get(t, task.ID)
	assert.Equal(t, types.TaskStatusSubmitted, got.Status)
	assert.Nil(t, got.MarkingAssetID)
	m, _ := f.counts(t)
	assert.Equal(t, 0, m)
}

func TestRecoverRequeuesWhenAssetGone(t *testing.T) {
	f := newFixture(t)
	task := f.inFlight(t, types.CapabilityTraining, "job-2", false)
	require.NoError(t, f.store.DeleteAsset(f.asset.ID))

	report, err := f.rec.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.RolledBack)
	assert.Equal(t, types.TaskStatusMarked, f.get(t, task.ID).Status)
}

func TestRecoverIsRepeatable(t *testing.T) {
	f := newFixture(t)
	f.inFlight(t, types.CapabilityLabeling, "", false)
	f.inFlight(t, types.CapabilityLabeling, "prompt-3", true)

	_, err := f.rec.Recover(context.Background())
	require.NoError(t, err)
	report, err := f.rec.Recover(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Advanced)
	assert.Empty(t, report.RolledBack)
	m, _ := f.counts(t)
	assert.Equal(t, 0, m)
}

func TestAuditCorrectsDriftAndReattaches(t *testing.T) {
	f := newFixture(t)
	task := f.inFlight(t, types.CapabilityLabeling, "prompt-5", false)

	// Simulate a lost decrement
	require.NoError(t, f.store.Update(func(tx storage.Tx) error {
		a, err := tx.GetAsset(f.asset.ID)
		if err != nil {
			return err
		}
		a.MarkingTasksCount = 3
		a.TrainingTasksCount = 2
		return tx.PutAsset(a)
	}))

	require.NoError(t, f.rec.Audit(context.Background()))

	m, tr := f.counts(t)
	assert.Equal(t, 1, m)
	assert.Equal(t, 0, tr)
	assert.True(t, f.watcher.IsWatching(task.ID))
	assert.Equal(t, 1, f.verifier.calls)

	// A second audit changes nothing
	require.NoError(t, f.rec.Audit(context.Background()))
	m, _ = f.counts(t)
	assert.Equal(t, 1, m)
}

func TestAuditAggregatesErrors(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = errors.New("asset unreachable")

	err := f.rec.Audit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset unreachable")
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.rec.Start()
	f.rec.Stop()
	f.rec.Stop()
}
