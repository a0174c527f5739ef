/*
Package processor prepares and submits one stage of a task to its reserved
asset.

The scheduler calls Process after it has reserved a slot on an asset and
moved the task to the stage's in-flight status. The processor builds the
job payload, submits it to the asset's labeling or training service and
records the returned job id on the task, which is then handed to the
monitor.

# Flow

	scheduler                processor                      remote
	    │  Process(c, task, asset)  │                            │
	    ├──────────────────────────►│                            │
	    │                           │ WithLock: holds? prepare   │
	    │                           │ (output dir, payload,      │
	    │                           │  execution record)         │
	    │                           ├───────── Submit ──────────►│
	    │                           │◄──────── job id ───────────┤
	    │                           │ WithLock: holds? record id │
	    │◄──────── job id ──────────┤                            │
	    │                           │                            │

Both writes run under the task's row lock and first check that the task
still holds the reservation (holds). A task stopped or rolled back in
between returns ErrSuperseded. If that happens after Submit, the new job is
cancelled on the service since nobody would watch it.

# Payloads

Labeling jobs carry the task's input directory, image names, a fresh output
directory and the marking config (model, prompt, trigger words, max tokens,
temperature). Training jobs carry the marked dataset directory, a fresh
output directory, the training config and up to SamplePromptCount sample
prompts drawn from the marked captions. Extra keys in either config are
merged into the payload without overriding the fixed ones.

Every attempt gets its own output directory so a retried stage never mixes
its files with an earlier run. Training attempts are also recorded as
ExecutionHistory rows numbered 1, 2, ... per task.

# Failure

Any error after the reservation was made goes through Fail, which moves the
task to error, releases the reservation and appends an error log entry with
structured fields:

	error_type  Go type of the cause, e.g. *remote.StatusError
	stage       labeling or training
	stack       the first lines of the goroutine stack

A panic in Process is recovered into a *PanicError carrying the panic value
and the stack at the point of the panic, and then failed the same way. Fail
is a no-op when the task no longer holds the reservation, so calling it
twice is safe.
*/
package processor
