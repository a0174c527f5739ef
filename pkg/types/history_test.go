package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHistoryEnter(t *testing.T) {
	var h StatusHistory
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	h.Enter(TaskStatusNew, t0)
	h.Enter(TaskStatusSubmitted, t0.Add(time.Minute))

	require.Len(t, h.Stages, 2)
	newStage := h.Get(TaskStatusNew)
	require.NotNil(t, newStage.EndTime)
	assert.Equal(t, time.Minute, newStage.Duration)
	assert.Nil(t, h.Get(TaskStatusSubmitted).EndTime)
	assert.Equal(t, TaskStatusSubmitted, h.Current().Status)
}

func TestStatusHistoryUpsertCoalesces(t *testing.T) {
	var h StatusHistory
	now := time.Now()
	h.Enter(TaskStatusSubmitted, now)

	msg := func(n int) string { return fmt.Sprintf("waiting for asset, attempt %d", n) }
	assert.Equal(t, 1, h.Upsert("waiting_asset", LogInfo, msg, now))
	assert.Equal(t, 2, h.Upsert("waiting_asset", LogInfo, msg, now))
	assert.Equal(t, 3, h.Upsert("waiting_asset", LogInfo, msg, now))

	logs := h.Current().Logs
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Count)
	assert.Equal(t, "waiting for asset, attempt 3", logs[0].Message)

	// A different entry breaks the run
	h.Append(LogInfo, "asset chosen", now)
	assert.Equal(t, 1, h.Upsert("waiting_asset", LogInfo, msg, now))
	assert.Len(t, h.Current().Logs, 3)
}

func TestStatusHistoryDiscardAfter(t *testing.T) {
	var h StatusHistory
	now := time.Now()
	for _, s := range []TaskStatus{TaskStatusNew, TaskStatusSubmitted, TaskStatusMarking, TaskStatusMarked, TaskStatusTraining, TaskStatusError} {
		h.Enter(s, now)
		h.Append(LogInfo, "entered "+string(s), now)
	}

	discarded := h.DiscardAfter(TaskStatusMarked)
	assert.ElementsMatch(t, []TaskStatus{TaskStatusTraining, TaskStatusError}, discarded)
	require.Len(t, h.Stages, 4)
	assert.NotNil(t, h.Get(TaskStatusMarked))
	assert.Len(t, h.Get(TaskStatusMarked).Logs, 1)

	// Second discard is a no-op
	assert.Empty(t, h.DiscardAfter(TaskStatusMarked))

	h.Enter(TaskStatusMarked, now)
	assert.Equal(t, TaskStatusMarked, h.Current().Status)
	assert.Nil(t, h.Get(TaskStatusMarked).EndTime)
}

func TestTaskStatusOrder(t *testing.T) {
	assert.True(t, TaskStatusNew.Before(TaskStatusSubmitted))
	assert.True(t, TaskStatusMarked.Before(TaskStatusError))
	assert.False(t, TaskStatusCompleted.Before(TaskStatusMarked))
	assert.False(t, TaskStatus("bogus").Valid())

	_, err := ParseTaskStatus("marking")
	assert.NoError(t, err)
	_, err = ParseTaskStatus("done")
	assert.Error(t, err)
}

func TestCapabilityStatuses(t *testing.T) {
	tests := []struct {
		capability Capability
		pending    TaskStatus
		inFlight   TaskStatus
		done       TaskStatus
	}{
		{CapabilityLabeling, TaskStatusSubmitted, TaskStatusMarking, TaskStatusMarked},
		{CapabilityTraining, TaskStatusMarked, TaskStatusTraining, TaskStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.pending, tt.capability.PendingStatus())
			assert.Equal(t, tt.inFlight, tt.capability.InFlightStatus())
			assert.Equal(t, tt.done, tt.capability.DoneStatus())

			c, ok := CapabilityForStatus(tt.inFlight)
			assert.True(t, ok)
			assert.Equal(t, tt.capability, c)
		})
	}
}

func TestAssetCapacity(t *testing.T) {
	a := &Asset{
		Address:            "10.0.0.5",
		Labeling:           CapabilityBlock{Enabled: true, Port: 8188},
		Training:           CapabilityBlock{Enabled: false, Port: 28000},
		MaxConcurrentTasks: 1,
	}

	assert.True(t, a.HasCapacity(CapabilityLabeling))
	assert.False(t, a.HasCapacity(CapabilityTraining))

	a.SetCount(CapabilityLabeling, 1)
	assert.False(t, a.HasCapacity(CapabilityLabeling))
	assert.Equal(t, "http://10.0.0.5:8188", a.Endpoint(CapabilityLabeling))
}
