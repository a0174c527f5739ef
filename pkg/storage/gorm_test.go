package storage

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newGormTestStore connects to the database named by
// TRAINYARD_POSTGRES_DSN_INTEGRATION and empties the trainyard tables
func newGormTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("TRAINYARD_POSTGRES_DSN_INTEGRATION")
	if dsn == "" {
		t.Skip("set TRAINYARD_POSTGRES_DSN_INTEGRATION to run PostgreSQL integration tests")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, db.Exec("TRUNCATE tasks, assets, task_execution_history RESTART IDENTITY").Error)
	return store
}

func TestGormStoreTaskRoundTrip(t *testing.T) {
	store := newGormTestStore(t)

	assetID := int64(3)
	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &types.Task{
		Name:           "portraits",
		Status:         types.TaskStatusMarking,
		Images:         []string{"a.png", "b.png"},
		MarkingAssetID: &assetID,
		ExternalJobID:  "prompt-1",
		JobCapability:  types.CapabilityLabeling,
		MarkConfig:     types.DefaultMarkConfig(),
		TrainingConfig: types.DefaultTrainingConfig(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	task.History.Enter(types.TaskStatusMarking, now)
	task.History.Append(types.LogInfo, "Reserved labeling slot", now)
	require.NoError(t, store.CreateTask(task))
	require.NotZero(t, task.ID)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Images, got.Images)
	assert.Equal(t, "prompt-1", got.ExternalJobID)
	require.NotNil(t, got.MarkingAssetID)
	assert.Equal(t, assetID, *got.MarkingAssetID)
	assert.Equal(t, task.MarkConfig.Model, got.MarkConfig.Model)
	require.Len(t, got.History.Stages, 1)
	assert.Equal(t, "Reserved labeling slot", got.History.Stages[0].Logs[0].Message)

	marking, err := store.ListTasksByStatus(types.TaskStatusMarking, types.TaskStatusTraining)
	require.NoError(t, err)
	assert.Len(t, marking, 1)

	require.NoError(t, store.DeleteTask(task.ID))
	_, err = store.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStoreUpdateRollsBackOnError(t *testing.T) {
	store := newGormTestStore(t)

	asset := &types.Asset{Name: "gpu-1", Address: "10.0.0.5", MaxConcurrentTasks: 2}
	require.NoError(t, store.CreateAsset(asset))

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
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := store.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Zero(t, a.MarkingTasksCount)
}

func TestGormStoreConcurrentUpdates(t *testing.T) {
	store := newGormTestStore(t)
	asset := &types.Asset{Name: "gpu-1", Address: "10.0.0.5", MaxConcurrentTasks: 100}
	require.NoError(t, store.CreateAsset(asset))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(func(tx Tx) error {
				a, err := tx.GetAsset(asset.ID)
				if err != nil {
					return err
				}
				a.TrainingTasksCount++
				return tx.PutAsset(a)
			}))
		}()
	}
	wg.Wait()

	a, err := store.GetAsset(asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, a.TrainingTasksCount)
}

func TestGormStoreExecutions(t *testing.T) {
	store := newGormTestStore(t)

	for attempt := 2; attempt >= 1; attempt-- {
		e := &types.ExecutionHistory{
			TaskID:    5,
			Attempt:   attempt,
			Status:    types.ExecutionCompleted,
			StartedAt: time.Now(),
			Loss:      []types.LossPoint{{Step: 10, Epoch: 1, Loss: 0.25}},
			Results:   map[string]any{"model": "lora.safetensors"},
		}
		require.NoError(t, store.Update(func(tx Tx) error { return tx.PutExecution(e) }))
	}

	execs, err := store.ListExecutionsByTask(5)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, 1, execs[0].Attempt)
	assert.InDelta(t, 0.25, execs[1].Loss[0].Loss, 1e-9)
	assert.Equal(t, "lora.safetensors", execs[1].Results["model"])
}
