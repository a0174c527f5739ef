/*
Package scheduler assigns pending tasks to assets with free capacity.

There is one loop per capability. The labeling loop picks up submitted tasks
that have at least one image; the training loop picks up marked tasks that
have a marked output. Each loop wakes on its own interval or when kicked
(the monitor kicks the training loop as soon as marking finishes).

# Tick

One tick of a capability:

	1. list eligible tasks, oldest first
	2. list assets with the capability enabled and a free slot
	3. for each task, let the registry strategy pick an asset
	4. take the capability lock (bounded wait), then in one transaction
	   re-read the task and the asset, increment the asset counter, set the
	   task's asset id and move it in flight
	5. hand the task to the capability's worker pool, which submits the
	   job and starts a monitor watch

When no asset has room the remaining tasks get a coalesced
"waiting for available asset" log entry instead of an error.

# Allocation

Allocate returns an Allocation whose Outcome is one of:

	Reserved    slot taken, task in flight
	NoCapacity  the asset filled up since it was listed
	Claimed     the task is no longer pending (stopped, or taken by another tick)
	Failed      lock timeout or storage error; nothing was written

Because the pending status and the asset counter are both re-checked inside
the transaction, concurrent ticks (in one process, or in several processes
sharing a postgres store and a redis lock) never assign a task twice and
never push a counter past MaxConcurrentTasks.

# Worker pools

Submissions run on a bounded pool per capability (golang.org/x/sync/semaphore).
A full pool blocks the tick, which keeps the number of in-flight submit calls
bounded. Monitoring is not part of the pool: every submitted job gets its own
monitor goroutine.

# Usage

	sched := scheduler.NewScheduler(tasks, reg, proc, mon, nil, scheduler.DefaultConfig())
	sched.Start()
	defer sched.Stop()

	mon.OnFinish(func(job monitor.Job, ok bool) {
		if ok && job.Capability == types.CapabilityLabeling {
			sched.Kick(types.CapabilityTraining)
		}
	})
*/
package scheduler
