package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// CapabilitySpec configures one service of an asset
type CapabilitySpec struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Scheme  string `json:"scheme,omitempty" yaml:"scheme"`
}

// AssetSpec holds the user-settable fields of an asset
type AssetSpec struct {
	Name               string         `json:"name" yaml:"name"`
	Address            string         `json:"address" yaml:"address"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	Labeling           CapabilitySpec `json:"labeling" yaml:"labeling"`
	Training           CapabilitySpec `json:"training" yaml:"training"`
	SSHPort            int            `json:"ssh_port,omitempty" yaml:"ssh_port"`
	SSHUsername        string         `json:"ssh_username,omitempty" yaml:"ssh_username"`
	// SSHPassword is plaintext on input only; it is sealed before storage
	SSHPassword string `json:"ssh_password,omitempty" yaml:"ssh_password"`
}

// Validate checks the spec
func (s AssetSpec) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(s.Address) == "" {
		problems = append(problems, "address is required")
	}
	if s.MaxConcurrentTasks < 1 {
		problems = append(problems, "max_concurrent_tasks must be at least 1")
	}
	for name, c := range map[string]CapabilitySpec{"labeling": s.Labeling, "training": s.Training} {
		if c.Port < 0 || c.Port > 65535 {
			problems = append(problems, fmt.Sprintf("%s port %d out of range", name, c.Port))
		}
		if c.Scheme != "" && c.Scheme != "http" && c.Scheme != "https" {
			problems = append(problems, fmt.Sprintf("%s scheme must be http or https", name))
		}
	}
	if s.SSHPort < 0 || s.SSHPort > 65535 {
		problems = append(problems, "ssh_port out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// apply copies the spec onto the asset, keeping counters and verification
func (s AssetSpec) apply(a *types.Asset) {
	a.Name = strings.TrimSpace(s.Name)
	a.Address = strings.TrimSpace(s.Address)
	a.MaxConcurrentTasks = s.MaxConcurrentTasks
	a.SSH.Port = s.SSHPort
	a.SSH.Username = s.SSHUsername
	applyCapability(&a.Labeling, s.Labeling)
	applyCapability(&a.Training, s.Training)
}

func applyCapability(b *types.CapabilityBlock, s CapabilitySpec) {
	if b.Port != s.Port || b.Scheme != s.Scheme || (s.Enabled && !b.Enabled) {
		b.Verified = false
		b.VerifiedAt = nil
		b.Message = ""
	}
	b.Enabled = s.Enabled
	b.Port = s.Port
	b.Scheme = s.Scheme
}

// CreateAsset registers an asset
func (m *Manager) CreateAsset(spec AssetSpec) (*types.Asset, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if existing, err := m.findAsset(spec.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: asset %q already exists", ErrConflict, spec.Name)
	}

	now := m.now()
	asset := &types.Asset{CreatedAt: now, UpdatedAt: now}
	spec.apply(asset)
	if err := m.sealer.SealSSHPassword(asset, spec.SSHPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := m.store.CreateAsset(asset); err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	m.logger.Info().Int64("asset_id", asset.ID).Str("name", asset.Name).Msg("Asset created")
	m.events.Publish(&events.Event{Type: events.EventAssetCreated, AssetID: asset.ID, Message: asset.Name})
	return asset, nil
}

// UpdateAsset changes an asset's configuration. Lowering the concurrency cap
// below, or disabling a capability with, active reservations is refused.
func (m *Manager) UpdateAsset(id int64, spec AssetSpec) (*types.Asset, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var updated *types.Asset
	err := m.store.Update(func(tx storage.Tx) error {
		asset, err := tx.GetAsset(id)
		if err != nil {
			return err
		}
		for _, c := range types.Capabilities {
			n := asset.Count(c)
			if n > spec.MaxConcurrentTasks {
				return fmt.Errorf("%w: %d %s tasks running, cannot lower max_concurrent_tasks to %d",
					ErrConflict, n, c, spec.MaxConcurrentTasks)
			}
		}
		if asset.MarkingTasksCount > 0 && !spec.Labeling.Enabled {
			return fmt.Errorf("%w: cannot disable labeling while tasks are marking", ErrConflict)
		}
		if asset.TrainingTasksCount > 0 && !spec.Training.Enabled {
			return fmt.Errorf("%w: cannot disable training while tasks are training", ErrConflict)
		}

		spec.apply(asset)
		if spec.SSHPassword != "" {
			if err := m.sealer.SealSSHPassword(asset, spec.SSHPassword); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		asset.UpdatedAt = m.now()
		updated = asset
		return tx.PutAsset(asset)
	})
	if err != nil {
		return nil, err
	}

	m.events.Publish(&events.Event{Type: events.EventAssetUpdated, AssetID: id, Message: updated.Name})
	return updated, nil
}

// ApplyAsset creates the asset, or updates the one with the same name
func (m *Manager) ApplyAsset(spec AssetSpec) (*types.Asset, bool, error) {
	existing, err := m.findAsset(spec.Name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		asset, err := m.CreateAsset(spec)
		return asset, true, err
	}
	asset, err := m.UpdateAsset(existing.ID, spec)
	return asset, false, err
}

// DeleteAsset removes an asset that holds no reservations
func (m *Manager) DeleteAsset(id int64) error {
	err := m.store.Update(func(tx storage.Tx) error {
		asset, err := tx.GetAsset(id)
		if err != nil {
			return err
		}
		if asset.MarkingTasksCount > 0 || asset.TrainingTasksCount > 0 {
			return fmt.Errorf("%w: asset has %d marking and %d training tasks",
				ErrConflict, asset.MarkingTasksCount, asset.TrainingTasksCount)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.store.DeleteAsset(id); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if m.verifier != nil {
		m.verifier.Forget(id)
	}

	m.events.Publish(&events.Event{Type: events.EventAssetDeleted, AssetID: id})
	return nil
}

// GetAsset returns an asset
func (m *Manager) GetAsset(id int64) (*types.Asset, error) {
	return m.store.GetAsset(id)
}

// ListAssets returns all assets
func (m *Manager) ListAssets() ([]*types.Asset, error) {
	return m.store.ListAssets()
}

// VerifyAsset checks the asset's services and records the result
func (m *Manager) VerifyAsset(ctx context.Context, id int64) (*types.Asset, error) {
	if m.verifier == nil {
		return nil, fmt.Errorf("%w: asset verification is disabled", ErrConflict)
	}
	return m.verifier.Verify(ctx, id)
}

func (m *Manager) findAsset(name string) (*types.Asset, error) {
	assets, err := m.store.ListAssets()
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		if strings.EqualFold(a.Name, strings.TrimSpace(name)) {
			return a, nil
		}
	}
	return nil, nil
}

// IsNotFound reports whether err means a missing task or asset
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
