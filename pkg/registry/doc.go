/*
Package registry tracks which assets can take more work and maintains the
per-capability reservation counters on each asset.

# Reservations

A reservation is one increment of Asset.MarkingTasksCount or
Asset.TrainingTasksCount. Each capability is limited on its own:

	labeling has capacity  while  MarkingTasksCount  < MaxConcurrentTasks
	training has capacity  while  TrainingTasksCount < MaxConcurrentTasks

Reserve refuses to go past MaxConcurrentTasks with ErrAtCapacity and Release
never goes below zero. Callers pair every successful Reserve with exactly
one Release, made in the same transaction that moves the task out of its
in-flight status. ReleaseTask is the helper for that: it releases the asset
recorded on the task for the capability and clears the task's asset id.

Reserve and Release take a storage.Tx so they compose with the task update
that justifies them. ReserveNow and ReleaseNow wrap them in their own
transaction for callers that hold no other state.

# Selection

ListWithCapacity returns the assets that have a capability enabled and a
free slot. Select hands the candidates, minus those the caller has already
tried this tick, to the configured Strategy:

	least-loaded   fewest reservations for the capability, then lowest id
	round-robin    rotates through the candidates in id order

Selection is only a hint. The reservation itself is checked again inside
the transaction that makes it.

# Recount

Recount rebuilds every asset's counters from the tasks that actually hold a
reservation, i.e. tasks in marking or training with the asset recorded. It
corrects drift left by a crash and publishes asset.counter_corrected for
each asset it changes. Asset rows are locked before tasks are read, so on the
relational backend a reservation committed concurrently is either seen by
the count or waits for it.
*/
package registry
