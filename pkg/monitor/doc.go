/*
Package monitor watches in-flight remote jobs until they finish.

Once the processor has submitted a stage to an asset, the task sits in
marking or training with an external job id. The monitor owns the task from
that point until the job is terminal: it polls the remote service, mirrors
progress onto the task and, on completion or failure, moves the task out of
its in-flight status and releases the asset reservation.

# Architecture

Each watched job runs in its own goroutine:

	┌──────────────────────────────────────────────┐
	│                Watch(job)                    │
	└───────────────────┬──────────────────────────┘
	                    │
	                    ▼
	          ┌──────────────────┐   stale   ┌──────────┐
	          │ current(job)?    ├──────────►│  return  │
	          └────────┬─────────┘           └──────────┘
	                   │
	                   ▼
	          ┌──────────────────┐   error   ┌──────────────────────┐
	          │ client.Poll      ├──────────►│ backoff, count, and  │
	          └────────┬─────────┘           │ fail at MaxErrors    │
	                   │                     └──────────────────────┘
	     ┌─────────────┼──────────────┐
	     ▼             ▼              ▼
	 succeeded      failed        running
	 complete()     fail()        progress(), sleep

Watch returns false when the task is already being watched, so the
scheduler, the reconciler and startup recovery can all hand jobs to the
monitor without coordinating.

# Staleness

Every write is made under the task's row lock and first checks that the task
is still in the capability's in-flight status with the same job id. A task
that was stopped, rolled back or deleted while the watch was sleeping no
longer matches, and the watch exits without touching it. The stop path has
already released the reservation, so it is released exactly once.

# Completion

A successful labeling job moves the task to marked and records the output
directory. A successful training job moves the task to completed, records
the training output and, when the service reports it, the loss curve on the
execution record. Both transitions release the reservation in the same
transaction.

A failed job moves the task to error with the service's detail, and a
training failure also fails the execution record.

# Poll errors

Poll errors are counted per job. Between failing polls the delay grows from
PollInterval to MaxBackoff using jpillora/backoff with jitter. The first
successful poll resets both. A warning is upserted into the task log so the
user sees one coalesced line instead of one per attempt. Reaching MaxErrors
consecutive errors moves the task to error as unreachable.

	Stage     PollInterval  MaxErrors  MaxBackoff
	labeling  5s            3          1m
	training  30s           10         5m

# Panics

A panic inside a watch is recovered. The task is moved to error with the
panic value in its message and the reservation is released, so one bad
response cannot take the process down or leak a slot.

# Usage

	m := monitor.New(tasks, clients, monitor.DefaultConfig())
	m.OnFinish(func(job monitor.Job, success bool) {
		sched.Kick(job.Capability)
	})
	m.Watch(monitor.Job{
		TaskID:     task.ID,
		AssetID:    asset.ID,
		Capability: types.CapabilityLabeling,
		JobID:      jobID,
		Endpoint:   asset.Endpoint(types.CapabilityLabeling),
	})
	defer m.Stop()

Stop cancels every watch and waits for the goroutines to exit. Tasks are
left in flight; the next process start resumes them through recovery.
*/
package monitor
