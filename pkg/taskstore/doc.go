/*
Package taskstore wraps storage with the task operations shared by the
scheduler, processors, monitor and rollback.

The central operation is WithLock, a locked read-modify-write of one task:

	err := tasks.WithLock(id, func(tx storage.Tx, task *types.Task) error {
		if task.Status != types.TaskStatusMarking {
			return errStale
		}
		task.Transition(types.TaskStatusMarked, tasks.Now())
		return registry.ReleaseTask(tx, task, types.CapabilityLabeling)
	})

The task is loaded inside a storage transaction (a row lock on the
relational backend, the single writer on bolt), fn runs, and the task is
saved when fn returns nil. Other records written through tx commit in the
same transaction, which is how a status change and its reservation release
stay consistent. An error from fn aborts everything and is returned as is,
so callers use sentinel errors to bail out early.

When the status changed, a task.status, task.failed or
task.completed event is published after commit.

UpdateStatus, AppendLog and UpsertLog are shorthands for the common cases.
UpsertLog coalesces repeated warnings sharing a key into one entry with a
repeat count.

ListEligible returns the tasks a capability's scheduler should consider:
those in the capability's pending status with the inputs the stage needs
(images for labeling, a marked output for training), oldest first.
*/
package taskstore
