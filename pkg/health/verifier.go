package health

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/hashicorp/go-multierror"
)

type statusKey struct {
	assetID    int64
	capability types.Capability
}

// Verifier checks the services of assets and records the verdict on each
// enabled capability block
type Verifier struct {
	store  storage.Store
	events events.Publisher
	config Config

	mu       sync.Mutex
	statuses map[statusKey]*Status
}

// NewVerifier creates a verifier. pub may be nil.
func NewVerifier(store storage.Store, pub events.Publisher, config Config) *Verifier {
	if pub == nil {
		pub = events.Discard
	}
	return &Verifier{
		store:    store,
		events:   pub,
		config:   config,
		statuses: make(map[statusKey]*Status),
	}
}

// Verify checks every enabled capability of the asset and stores the result
func (v *Verifier) Verify(ctx context.Context, assetID int64) (*types.Asset, error) {
	asset, err := v.store.GetAsset(assetID)
	if err != nil {
		return nil, err
	}

	verdicts := make(map[types.Capability]*Status)
	for _, c := range types.Capabilities {
		if !asset.Block(c).Enabled {
			continue
		}
		result := v.check(ctx, asset, c)
		verdicts[c] = v.record(asset, c, result)
	}

	// Re-read inside the transaction so concurrent counter updates survive
	var updated *types.Asset
	err = v.store.Update(func(tx storage.Tx) error {
		a, err := tx.GetAsset(assetID)
		if err != nil {
			return err
		}
		for c, st := range verdicts {
			block := a.Block(c)
			at := st.LastResult.CheckedAt
			block.Verified = st.Verified
			block.VerifiedAt = &at
			block.Message = st.LastResult.Message
		}
		updated = a
		return tx.PutAsset(a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	v.events.Publish(&events.Event{
		Type:    events.EventAssetVerified,
		AssetID: assetID,
		Metadata: map[string]string{
			"labeling_verified": strconv.FormatBool(updated.Labeling.Verified),
			"training_verified": strconv.FormatBool(updated.Training.Verified),
		},
	})
	return updated, nil
}

// VerifyAll verifies every asset, collecting the failures
func (v *Verifier) VerifyAll(ctx context.Context) error {
	assets, err := v.store.ListAssets()
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	var result *multierror.Error
	for _, a := range assets {
		if _, err := v.Verify(ctx, a.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("asset %d: %w", a.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// Forget drops the tracked status of a deleted asset
func (v *Verifier) Forget(assetID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range types.Capabilities {
		delete(v.statuses, statusKey{assetID, c})
	}
}

func (v *Verifier) check(ctx context.Context, asset *types.Asset, c types.Capability) Result {
	path := v.config.LabelingPath
	if c == types.CapabilityTraining {
		path = v.config.TrainingPath
	}
	endpoint := asset.Endpoint(c)

	result := NewHTTPChecker(endpoint + path).WithTimeout(v.config.Timeout).Check(ctx)
	if result.Healthy {
		return result
	}

	// Distinguish a down host from a misbehaving service
	if tcp, err := NewTCPCheckerForURL(endpoint); err == nil {
		tcp.Timeout = v.config.Timeout
		if tr := tcp.Check(ctx); tr.Healthy {
			result.Message = fmt.Sprintf("service check failed, %s: %s", tr.Message, result.Message)
		} else {
			result.Message = tr.Message
		}
	}

	logger := log.WithAssetID(asset.ID)
	logger.Warn().
		Str("capability", string(c)).
		Str("endpoint", endpoint).
		Msg(result.Message)
	return result
}

func (v *Verifier) record(asset *types.Asset, c types.Capability, result Result) *Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := statusKey{asset.ID, c}
	st, ok := v.statuses[key]
	if !ok {
		st = NewStatus(asset.Block(c).Verified)
		v.statuses[key] = st
	}
	st.Update(result, v.config)
	copied := *st
	return &copied
}
