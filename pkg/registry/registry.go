package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// ErrAtCapacity is returned by Reserve when the asset has no free slot for
// the capability or the capability is disabled
var ErrAtCapacity = errors.New("asset at capacity")

// Registry answers capacity questions and adjusts reservation counters
type Registry struct {
	store    storage.Store
	strategy Strategy
	events   events.Publisher
}

// New creates a registry. A nil strategy defaults to LeastLoaded.
func New(store storage.Store, strategy Strategy, pub events.Publisher) *Registry {
	if strategy == nil {
		strategy = LeastLoaded{}
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Registry{store: store, strategy: strategy, events: pub}
}

// ListWithCapacity returns assets with capability c enabled and a free slot
func (r *Registry) ListWithCapacity(c types.Capability) ([]*types.Asset, error) {
	assets, err := r.store.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	var available []*types.Asset
	for _, a := range assets {
		if a.HasCapacity(c) {
			available = append(available, a)
		}
	}
	return available, nil
}

// Select picks an asset for one task from candidates, ignoring ids in skip
func (r *Registry) Select(c types.Capability, candidates []*types.Asset, skip map[int64]bool) *types.Asset {
	var filtered []*types.Asset
	for _, a := range candidates {
		if skip[a.ID] || !a.HasCapacity(c) {
			continue
		}
		filtered = append(filtered, a)
	}
	if len(filtered) == 0 {
		return nil
	}
	return r.strategy.Select(c, filtered)
}

// Reserve increments the asset's counter for c inside tx
func Reserve(tx storage.Tx, assetID int64, c types.Capability) (*types.Asset, error) {
	asset, err := tx.GetAsset(assetID)
	if err != nil {
		return nil, err
	}
	if !asset.HasCapacity(c) {
		return asset, fmt.Errorf("asset %d %s %d/%d: %w",
			assetID, c, asset.Count(c), asset.MaxConcurrentTasks, ErrAtCapacity)
	}

	asset.SetCount(c, asset.Count(c)+1)
	asset.UpdatedAt = time.Now()
	if err := tx.PutAsset(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// Release decrements the asset's counter for c inside tx, clamping at zero.
// A missing asset is not an error: the reservation died with it.
func Release(tx storage.Tx, assetID int64, c types.Capability) (*types.Asset, error) {
	logger := log.WithAssetID(assetID)
	asset, err := tx.GetAsset(assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().
				Str("capability", string(c)).
				Msg("Release on missing asset ignored")
			return nil, nil
		}
		return nil, err
	}

	n := asset.Count(c) - 1
	if n < 0 {
		logger.Warn().
			Str("capability", string(c)).
			Msg("Release below zero clamped")
		n = 0
	}
	asset.SetCount(c, n)
	asset.UpdatedAt = time.Now()
	if err := tx.PutAsset(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// ReleaseTask releases the task's reservation for c, if it holds one, and
// clears the task's asset id. The caller persists the task.
func ReleaseTask(tx storage.Tx, task *types.Task, c types.Capability) error {
	id := task.AssetID(c)
	if id == nil {
		return nil
	}
	if _, err := Release(tx, *id, c); err != nil {
		return fmt.Errorf("failed to release asset %d: %w", *id, err)
	}
	task.SetAssetID(c, nil)
	return nil
}

// ReserveNow reserves a slot in its own transaction
func (r *Registry) ReserveNow(assetID int64, c types.Capability) error {
	return r.store.Update(func(tx storage.Tx) error {
		_, err := Reserve(tx, assetID, c)
		return err
	})
}

// ReleaseNow releases a slot in its own transaction
func (r *Registry) ReleaseNow(assetID int64, c types.Capability) error {
	return r.store.Update(func(tx storage.Tx) error {
		_, err := Release(tx, assetID, c)
		return err
	})
}

// Recount sets every asset's counters to the number of in-flight tasks
// holding it and returns the assets that were corrected
func (r *Registry) Recount() ([]*types.Asset, error) {
	var corrected []*types.Asset
	err := r.store.Update(func(tx storage.Tx) error {
		// Assets are locked before tasks are read: a reservation commits
		// either before both reads or after this transaction
		assets, err := tx.ListAssets()
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasks()
		if err != nil {
			return err
		}
		held := map[types.Capability]map[int64]int{
			types.CapabilityLabeling: {},
			types.CapabilityTraining: {},
		}
		for _, t := range tasks {
			c, ok := types.CapabilityForStatus(t.Status)
			if !ok {
				continue
			}
			if id := t.AssetID(c); id != nil {
				held[c][*id]++
			}
		}

		for _, a := range assets {
			logger := log.WithAssetID(a.ID)
			changed := false
			for _, c := range types.Capabilities {
				if want := held[c][a.ID]; a.Count(c) != want {
					logger.Warn().
						Str("capability", string(c)).
						Int("stored", a.Count(c)).
						Int("actual", want).
						Msg("Correcting reservation counter drift")
					a.SetCount(c, want)
					changed = true
				}
			}
			if changed {
				a.UpdatedAt = time.Now()
				if err := tx.PutAsset(a); err != nil {
					return err
				}
				corrected = append(corrected, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, a := range corrected {
		r.events.Publish(&events.Event{
			Type:    events.EventCounterCorrected,
			AssetID: a.ID,
			Metadata: map[string]string{
				"marking_tasks_count":  fmt.Sprint(a.MarkingTasksCount),
				"training_tasks_count": fmt.Sprint(a.TrainingTasksCount),
			},
		})
	}
	return corrected, nil
}
