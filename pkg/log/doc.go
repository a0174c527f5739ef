/*
Package log provides structured logging for trainyard using zerolog.

The package holds one global zerolog.Logger configured once by Init. Components
derive child loggers that carry identifying fields:

	logger := log.WithComponent("scheduler")
	logger.Info().Int64("task_id", id).Msg("task dispatched")

	jobLog := log.WithJob("monitor", taskID, assetID, "training", jobID)
	jobLog.Warn().Err(err).Int("errors", n).Msg("poll failed")

JSON output is meant for production; the console writer is the default for
interactive use. These process logs are distinct from the per-task log kept in
a task's status history, which is what users see through the API.
*/
package log
