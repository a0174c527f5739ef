package scheduler

import (
	"errors"

	"github.com/cuemby/trainyard/pkg/types"
)

// errSkip aborts a reservation transaction without it being a failure
var errSkip = errors.New("skip")

// Outcome is the result kind of one allocation attempt
type Outcome int

const (
	// Reserved: the slot is taken and the task is in flight
	Reserved Outcome = iota
	// NoCapacity: the asset filled up since it was listed
	NoCapacity
	// Claimed: the task left the pending status since it was listed
	Claimed
	// Failed: lock timeout or storage error; the task is untouched
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Reserved:
		return "reserved"
	case NoCapacity:
		return "no_capacity"
	case Claimed:
		return "claimed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Allocation is the outcome of reserving an asset slot for one task
type Allocation struct {
	Outcome Outcome
	// Asset is the reserved asset after the increment, when Reserved
	Asset *types.Asset
	Err   error
}
