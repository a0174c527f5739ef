package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)

	assetID := int64(7)
	task := &types.Task{
		Name:           "portraits",
		Status:         types.TaskStatusSubmitted,
		Images:         []string{"a.png", "b.png"},
		MarkingAssetID: &assetID,
		CreatedAt:      time.Now(),
	}
	task.History.Enter(types.TaskStatusSubmitted, task.CreatedAt)
	task.History.Append(types.LogInfo, "submitted", task.CreatedAt)

	require.NoError(t, store.CreateTask(task))
	assert.Equal(t, int64(1), task.ID)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.Images, got.Images)
	require.NotNil(t, got.MarkingAssetID)
	assert.Equal(t, assetID, *got.MarkingAssetID)
	require.Len(t, got.History.Stages, 1)
	assert.Equal(t, "submitted", got.History.Stages[0].Logs[0].Message)

	require.NoError(t, store.DeleteTask(task.ID))
	_, err = store.GetTask(task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStoreListTasksByStatus(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of creation order
	for i, spec := range []struct {
		status types.TaskStatus
		offset time.Duration
	}{
		{types.TaskStatusSubmitted, 2 * time.Minute},
		{types.TaskStatusMarked, time.Minute},
		{types.TaskStatusSubmitted, 0},
		{types.TaskStatusNew, 0},
	} {
		require.NoError(t, store.CreateTask(&types.Task{
			Name:      string(rune('a' + i)),
			Status:    spec.status,
			CreatedAt: base.Add(spec.offset),
		}))
	}

	tasks, err := store.ListTasksByStatus(types.TaskStatusSubmitted)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(3), tasks[0].ID, "oldest first")
	assert.Equal(t, int64(1), tasks[1].ID)

	tasks, err = store.ListTasksByStatus(types.TaskStatusSubmitted, types.TaskStatusMarked)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestBoltStoreUpdateRollsBackOnError(t *testing.T) {
	store := newTestStore(t)

	asset := &types.Asset{Name: "gpu-1", MaxConcurrentTasks: 2}
	require.NoError(t, store.CreateAsset(asset))
	task := &types.Task{Name: "t", Status: types.TaskStatusSubmitted}
	require.NoError(t, store.CreateTask(task))

	boom := errors.New("boom")
	err := store.Update(func(tx Tx) error {
		a, err := tx.GetAsset(asset.ID)
		if err != nil {
			return err
		}
		a.MarkingTasksCount = 1
		if err := tx.PutAsset(a); err != nil {
			return err
		}
		tk, err := tx.GetTask(task.ID)
		if err != nil {
			return err
		}
		tk.Status = types.TaskStatusMarking
		if err := tx.PutTask(tk); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := store.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.MarkingTasksCount)
	tk, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusSubmitted, tk.Status)
}

func TestBoltStoreConcurrentUpdates(t *testing.T) {
	store := newTestStore(t)
	asset := &types.Asset{Name: "gpu-1", MaxConcurrentTasks: 100}
	require.NoError(t, store.CreateAsset(asset))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(func(tx Tx) error {
				a, err := tx.GetAsset(asset.ID)
				if err != nil {
					return err
				}
				a.TrainingTasksCount++
				return tx.PutAsset(a)
			})
		}()
	}
	wg.Wait()

	a, err := store.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, a.TrainingTasksCount)
}

func TestBoltStoreExecutions(t *testing.T) {
	store := newTestStore(t)

	for attempt := 2; attempt >= 1; attempt-- {
		e := &types.ExecutionHistory{TaskID: 5, Attempt: attempt, Status: types.ExecutionRunning, StartedAt: time.Now()}
		require.NoError(t, store.Update(func(tx Tx) error { return tx.PutExecution(e) }))
		assert.NotZero(t, e.ID)
	}
	require.NoError(t, store.Update(func(tx Tx) error {
		return tx.PutExecution(&types.ExecutionHistory{TaskID: 6, Attempt: 1})
	}))

	execs, err := store.ListExecutionsByTask(5)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, 1, execs[0].Attempt)
	assert.Equal(t, 2, execs[1].Attempt)

	got, err := store.GetExecution(execs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.TaskID)

	_, err = store.GetExecution(999)
	assert.ErrorIs(t, err, ErrNotFound)
}
