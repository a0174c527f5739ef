package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/trainyard/pkg/types"
)

// Strategy chooses one asset out of candidates that all have capacity
type Strategy interface {
	Select(c types.Capability, candidates []*types.Asset) *types.Asset
}

// LeastLoaded picks the asset with the fewest reservations for the
// capability, breaking ties by lowest id
type LeastLoaded struct{}

func (LeastLoaded) Select(c types.Capability, candidates []*types.Asset) *types.Asset {
	var best *types.Asset
	for _, a := range candidates {
		if best == nil ||
			a.Count(c) < best.Count(c) ||
			(a.Count(c) == best.Count(c) && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

// RoundRobin cycles through candidates in id order, per capability
type RoundRobin struct {
	mu   sync.Mutex
	last map[types.Capability]int64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{last: make(map[types.Capability]int64)}
}

func (r *RoundRobin) Select(c types.Capability, candidates []*types.Asset) *types.Asset {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]*types.Asset(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r.mu.Lock()
	defer r.mu.Unlock()

	pick := sorted[0]
	for _, a := range sorted {
		if a.ID > r.last[c] {
			pick = a
			break
		}
	}
	r.last[c] = pick.ID
	return pick
}

// StrategyByName resolves a configured strategy name
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", "least-loaded":
		return LeastLoaded{}, nil
	case "round-robin":
		return NewRoundRobin(), nil
	}
	return nil, fmt.Errorf("unknown selection strategy %q", name)
}
