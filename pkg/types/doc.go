/*
Package types defines the core data structures used throughout trainyard.

A Task is one image set moving through the pipeline:

	new -> submitted -> marking -> marked -> training -> completed
	                       |                    |
	                       +------> error <-----+

Marking (auto-captioning) and training each run remotely on an Asset that
offers the matching Capability. While a stage runs, the task holds a
reservation on that asset (MarkingAssetID or TrainingAssetID) and the asset's
per-capability counter is incremented. Both are released together when the
stage ends by any path.

StatusHistory keeps one StageRecord per status with timing and the
user-visible log. It only grows, except during rollback when
DiscardAfter removes the stages ahead of the rollback target.

ExecutionHistory keeps one record per training attempt so re-training a task
never loses earlier results.
*/
package types
