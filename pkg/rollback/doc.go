/*
Package rollback moves a task back to an earlier status, undoing what the
discarded stages hold.

# Targets

A task can be rolled back to new, submitted or marked, from any later
status including error:

	completed ─┐
	training  ─┼──► marked     keeps the marked images, discards training
	error     ─┤
	           ├──► submitted  discards marking and training, keeps inputs
	           └──► new        discards everything, optionally purges files

Rolling back to the current status is a no-op that returns the task
unchanged. Rolling forward, or to a status outside Targets, returns
ErrInvalidTarget.

# What is undone

For every stage whose in-flight status comes after the target:

  - the asset reservation is released (registry.ReleaseTask)
  - the external job id is cleared when it belongs to a discarded stage
  - the training execution pointer and output path are cleared before training
  - the marked images path is cleared before marking
  - history stages ordered after the target are discarded

Progress and the error message are reset, and a log entry records the
source and target status together with the reason and any notes from the
remote cancel.

# Options

	CancelRemote  ask the labeling or training service to stop the discarded
	              job before the transaction; the outcome becomes a note
	PurgeOutputs  when the target is new, delete the files in the discarded
	              attempt's output directories after the transaction commits
	Reason        appended to the rollback log entry

The remote cancel and the purge are best effort. A failure is logged and
noted but never fails the rollback, since the task state is already
consistent without them.
*/
package rollback
