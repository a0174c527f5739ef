/*
Package manager implements the operations users perform on tasks and
assets. The HTTP API and the CLI are thin layers over it.

Task operations:

	CreateTask    new task in status new
	UploadImage   add an input image (new tasks only)
	SubmitTask    new -> submitted; needs at least one image
	StopTask      submitted/marking -> new, training -> marked
	RestartTask   labeling: reset to new and submit again
	              training: back to marked, keeping the marked images
	RollbackTask  explicit rollback to new, submitted or marked
	DeleteTask    stop if running, then remove the record and its files

Stops, restarts and rollbacks go through pkg/rollback, so they cancel the
remote job, release the asset reservation and are safe to repeat.

Asset operations validate the spec, seal the SSH password, and refuse
changes that would break the reservation counters: an asset with running
tasks cannot be deleted, have the matching capability disabled, or have its
cap lowered below the number of running tasks.

Malformed input returns an error wrapping ErrValidation; an operation not
allowed in the current state returns one wrapping ErrConflict. In both cases
nothing is modified.
*/
package manager
