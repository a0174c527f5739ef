/*
Package workspace manages the on-disk directories of each task.

	<base>/task_<id>/
	    input/                               uploaded images
	    marked_<utc>_<8 hex>/                one labeling attempt: images and captions
	    training_<utc>_<8 hex>/              one training attempt: weights and samples

Every stage attempt gets a fresh output directory, so a retried stage never
mixes its files with an earlier run and the previous attempt stays intact
until a rollback purges it. Purge empties a directory but keeps it; it
refuses paths outside the base directory. RemoveTask deletes the whole tree
when a task is deleted.

SaveImage keeps only the base name of an upload and rejects hidden or empty
names, so an image always lands in the input directory.
*/
package workspace
