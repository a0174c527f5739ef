package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	tasks  []*types.Task
	assets []*types.Asset
}

func (f *fakeSource) ListTasks() ([]*types.Task, error)   { return f.tasks, nil }
func (f *fakeSource) ListAssets() ([]*types.Asset, error) { return f.assets, nil }

func TestCollect(t *testing.T) {
	src := &fakeSource{
		tasks: []*types.Task{
			{Status: types.TaskStatusMarking},
			{Status: types.TaskStatusMarking},
			{Status: types.TaskStatusCompleted},
		},
		assets: []*types.Asset{
			{ID: 1, MaxConcurrentTasks: 2, Labeling: types.CapabilityBlock{Enabled: true}, MarkingTasksCount: 2},
			{ID: 2, MaxConcurrentTasks: 3, Labeling: types.CapabilityBlock{Enabled: true}, Training: types.CapabilityBlock{Enabled: true}},
		},
	}

	NewCollector(src).collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(TasksTotal.WithLabelValues("marking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(TasksTotal.WithLabelValues("training")))
	assert.Equal(t, 2.0, testutil.ToFloat64(AssetsTotal.WithLabelValues("labeling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AssetsTotal.WithLabelValues("training")))
	assert.Equal(t, 2.0, testutil.ToFloat64(AssetReservations.WithLabelValues("1", "labeling")))
	assert.Equal(t, 3.0, testutil.ToFloat64(FreeSlots.WithLabelValues("labeling")))
	assert.Equal(t, 3.0, testutil.ToFloat64(FreeSlots.WithLabelValues("training")))
}

func TestCollectorStopTwice(t *testing.T) {
	c := NewCollector(&fakeSource{})
	c.Interval = time.Millisecond
	c.Start()
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
