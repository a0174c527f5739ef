/*
Package reconciler brings task and asset state back in line after a restart
and keeps it there.

# Recovery

Recover runs once at startup, before the scheduler starts. Every task left in
marking or training is resolved in this order:

 1. the stage's output directory holds at least one file: the job finished
    while we were down, so the task advances to marked/completed and its
    reservation is released
 2. a job id and an asset are recorded: the job may still be running, so a
    monitor watch is started again
 3. otherwise the job was never submitted: the task is rolled back to its
    pending status (submitted/marked) and the scheduler picks it up again

Tasks are handled independently; failures are collected with
hashicorp/go-multierror and returned together.

# Audit

While running, Audit is repeated on an interval:

  - reservation counters are recomputed from the in-flight tasks and any
    drift is corrected in one transaction
  - in-flight tasks with a job id but no active monitor get one
  - assets are re-verified, when a verifier is configured

# One scheduler per store

Both passes treat every in-flight task in the store as this process's own.
A second live server on the same store would have its unsubmitted tasks
re-queued and its jobs watched twice, and the redis reservation locks do
not prevent that since they are released before Submit. Run recovery only
when no other server is using the store.
*/
package reconciler
