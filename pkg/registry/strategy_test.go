package registry

import (
	"testing"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asset(id int64, marking int) *types.Asset {
	return &types.Asset{
		ID:                 id,
		Labeling:           types.CapabilityBlock{Enabled: true},
		MaxConcurrentTasks: 4,
		MarkingTasksCount:  marking,
	}
}

func TestLeastLoaded(t *testing.T) {
	tests := []struct {
		name   string
		assets []*types.Asset
		want   int64
	}{
		{"fewest reservations", []*types.Asset{asset(1, 2), asset(2, 0), asset(3, 1)}, 2},
		{"tie goes to lowest id", []*types.Asset{asset(5, 1), asset(3, 1), asset(4, 2)}, 3},
		{"single", []*types.Asset{asset(9, 3)}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LeastLoaded{}.Select(types.CapabilityLabeling, tt.assets)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
	assert.Nil(t, LeastLoaded{}.Select(types.CapabilityLabeling, nil))
}

func TestRoundRobin(t *testing.T) {
	rr := NewRoundRobin()
	assets := []*types.Asset{asset(3, 0), asset(1, 0), asset(2, 0)}

	var picks []int64
	for i := 0; i < 4; i++ {
		picks = append(picks, rr.Select(types.CapabilityLabeling, assets).ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 1}, picks)

	// Training keeps its own cursor
	assert.Equal(t, int64(1), rr.Select(types.CapabilityTraining, assets).ID)
}

func TestSelectSkipsSaturated(t *testing.T) {
	r := New(nil, nil, nil)
	full := asset(1, 4)
	skipped := asset(2, 0)
	free := asset(3, 1)

	got := r.Select(types.CapabilityLabeling, []*types.Asset{full, skipped, free}, map[int64]bool{2: true})
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID)

	assert.Nil(t, r.Select(types.CapabilityLabeling, []*types.Asset{full}, nil))
}

func TestStrategyByName(t *testing.T) {
	s, err := StrategyByName("")
	require.NoError(t, err)
	assert.IsType(t, LeastLoaded{}, s)

	s, err = StrategyByName("round-robin")
	require.NoError(t, err)
	assert.IsType(t, &RoundRobin{}, s)

	_, err = StrategyByName("random")
	assert.Error(t, err)
}
